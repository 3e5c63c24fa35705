package qdrant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/EZFRICA/context-engineering/internal/config"
	"github.com/EZFRICA/context-engineering/internal/memory"
	"github.com/EZFRICA/context-engineering/internal/model"
	registryembed "github.com/EZFRICA/context-engineering/internal/registry/embed"
	registrymigrate "github.com/EZFRICA/context-engineering/internal/registry/migrate"
	registrystore "github.com/EZFRICA/context-engineering/internal/registry/store"
)

// lexicalBonus is added to a hit's score when its content also matches the
// query textually, so literal mentions outrank loose semantic neighbors.
const lexicalBonus = 0.25

// scanWindow caps client-side scans for operations Qdrant cannot filter
// server-side (substring scope matching).
const scanWindow = 1000

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

func load(ctx context.Context) (registrystore.FactStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	embedder := registryembed.FromContext(ctx)
	if embedder == nil {
		return nil, fmt.Errorf("qdrant: missing embedder in context")
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &Store{
		points:   pb.NewPointsClient(conn),
		conn:     conn,
		embedder: embedder,
		prefix:   collectionPrefix(cfg),
	}, nil
}

// Store is the Qdrant-backed fact store. Each logical collection maps to a
// prefixed Qdrant collection; facts are points keyed by their content hash
// ID with their fields in the point payload.
type Store struct {
	points   pb.PointsClient
	conn     *grpc.ClientConn
	embedder registryembed.Embedder
	prefix   string
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) qualified(collection string) string {
	return s.prefix + "_" + collection
}

func (s *Store) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return vecs[0], nil
}

func (s *Store) Insert(ctx context.Context, collection string, fact model.Fact) error {
	vec, err := s.embedOne(ctx, fact.Content)
	if err != nil {
		return err
	}
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.qualified(collection),
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: fact.ID.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
			},
			Payload: factPayload(fact),
		}},
	})
	return err
}

func (s *Store) FetchByScope(ctx context.Context, collection, scopeID string, limit int) ([]model.Fact, error) {
	return s.scroll(ctx, collection, scopeFilter(scopeID), limit)
}

func (s *Store) FetchRecent(ctx context.Context, collection string, limit int) ([]model.Fact, error) {
	return s.scroll(ctx, collection, nil, limit)
}

func (s *Store) FetchByID(ctx context.Context, collection string, id uuid.UUID) (*model.Fact, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.qualified(collection),
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	f := factFromPayload(id, resp.GetResult()[0].GetPayload())
	return &f, nil
}

func (s *Store) HybridSearch(ctx context.Context, collection, query, scopeID string, limit int) ([]registrystore.ScoredFact, error) {
	vec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.qualified(collection),
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    withPayload(),
		Filter:         scopeFilter(scopeID),
	})
	if err != nil {
		return nil, err
	}

	byID := map[uuid.UUID]*registrystore.ScoredFact{}
	var order []uuid.UUID
	for _, pt := range resp.GetResult() {
		id, err := uuid.Parse(pt.GetId().GetUuid())
		if err != nil {
			continue
		}
		f := factFromPayload(id, pt.GetPayload())
		byID[id] = &registrystore.ScoredFact{Fact: f, Score: float64(pt.GetScore())}
		order = append(order, id)
	}

	// Union in full-text matches on content. Hits the vector pass missed
	// come in at the bonus score alone.
	textFilter := &pb.Filter{Must: []*pb.Condition{contentTextCondition(query)}}
	if sf := scopeFilter(scopeID); sf != nil {
		textFilter.Must = append(textFilter.Must, sf.Must...)
	}
	lex, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.qualified(collection),
		Filter:         textFilter,
		Limit:          newUint32(uint32(limit)),
		WithPayload:    withPayload(),
	})
	if err != nil {
		// Text index may be missing on older deployments; vector results
		// alone are still useful.
		log.Warn("Qdrant text search failed, using vector results only", "collection", collection, "err", err)
	} else {
		for _, pt := range lex.GetResult() {
			id, err := uuid.Parse(pt.GetId().GetUuid())
			if err != nil {
				continue
			}
			if hit, ok := byID[id]; ok {
				hit.Score += lexicalBonus
				continue
			}
			f := factFromPayload(id, pt.GetPayload())
			byID[id] = &registrystore.ScoredFact{Fact: f, Score: lexicalBonus * 2}
			order = append(order, id)
		}
	}

	out := make([]registrystore.ScoredFact, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) NearestNeighbor(ctx context.Context, collection, query, scopeID string, k int) ([]registrystore.FactDistance, error) {
	vec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.qualified(collection),
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    withPayload(),
		Filter:         scopeFilter(scopeID),
	})
	if err != nil {
		return nil, err
	}
	var out []registrystore.FactDistance
	for _, pt := range resp.GetResult() {
		id, err := uuid.Parse(pt.GetId().GetUuid())
		if err != nil {
			continue
		}
		out = append(out, registrystore.FactDistance{
			Fact: factFromPayload(id, pt.GetPayload()),
			// Collections use cosine similarity; convert to a distance.
			Distance: 1 - float64(pt.GetScore()),
		})
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, collection string, id uuid.UUID, upd registrystore.FactUpdate) error {
	existing, err := s.FetchByID(ctx, collection, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return &registrystore.NotFoundError{Collection: collection, ID: id.String()}
	}
	if upd.Content != nil {
		existing.Content = *upd.Content
	}
	if upd.Tags != nil {
		existing.Tags = upd.Tags
	}
	// Re-upsert under the same point ID; content edits get a fresh vector.
	return s.Insert(ctx, collection, *existing)
}

func (s *Store) DeleteByID(ctx context.Context, collection string, id uuid.UUID) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.qualified(collection),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}},
				},
			},
		},
	})
	return err
}

func (s *Store) ScopeLike(ctx context.Context, collection, substring string, limit int) ([]model.Fact, error) {
	// Qdrant has no substring filter on keyword fields; scan a bounded
	// window and match client-side.
	facts, err := s.scroll(ctx, collection, nil, scanWindow)
	if err != nil {
		return nil, err
	}
	var out []model.Fact
	for _, f := range facts {
		if strings.Contains(f.ScopeID, substring) {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) scroll(ctx context.Context, collection string, filter *pb.Filter, limit int) ([]model.Fact, error) {
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.qualified(collection),
		Filter:         filter,
		Limit:          newUint32(uint32(limit)),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, err
	}
	var out []model.Fact
	for _, pt := range resp.GetResult() {
		id, err := uuid.Parse(pt.GetId().GetUuid())
		if err != nil {
			continue
		}
		out = append(out, factFromPayload(id, pt.GetPayload()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func factPayload(f model.Fact) map[string]*pb.Value {
	tags := make([]*pb.Value, len(f.Tags))
	for i, t := range f.Tags {
		tags[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	}
	payload := map[string]*pb.Value{
		"content":    {Kind: &pb.Value_StringValue{StringValue: f.Content}},
		"scope_id":   {Kind: &pb.Value_StringValue{StringValue: f.ScopeID}},
		"tags":       {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: tags}}},
		"payload":    {Kind: &pb.Value_StringValue{StringValue: f.Payload}},
		"created_at": {Kind: &pb.Value_StringValue{StringValue: f.CreatedAt.Format(time.RFC3339Nano)}},
	}
	if f.ApprovedAt != nil {
		payload["approved_at"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: f.ApprovedAt.Format(time.RFC3339Nano)}}
	}
	return payload
}

func factFromPayload(id uuid.UUID, payload map[string]*pb.Value) model.Fact {
	f := model.Fact{
		ID:      id,
		Content: payload["content"].GetStringValue(),
		ScopeID: payload["scope_id"].GetStringValue(),
		Payload: payload["payload"].GetStringValue(),
	}
	for _, v := range payload["tags"].GetListValue().GetValues() {
		f.Tags = append(f.Tags, v.GetStringValue())
	}
	if v, ok := payload["created_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			f.CreatedAt = t
		}
	}
	if v, ok := payload["approved_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			f.ApprovedAt = &t
		}
	}
	return f
}

func scopeFilter(scopeID string) *pb.Filter {
	if scopeID == "" {
		return nil
	}
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "scope_id",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: scopeID},
					},
				},
			},
		}},
	}
}

func contentTextCondition(query string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: "content",
				Match: &pb.Match{
					MatchValue: &pb.Match_Text{Text: query},
				},
			},
		},
	}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func newUint32(v uint32) *uint32 { return &v }
func newUint64(v uint64) *uint64 { return &v }

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

func collectionPrefix(cfg *config.Config) string {
	prefix := strings.TrimSpace(cfg.QdrantCollectionPrefix)
	if prefix == "" {
		prefix = "context-engine"
	}
	return prefix
}

// qdrantMigrator provisions one Qdrant collection per memory collection,
// with a keyword index on scope_id and a full-text index on content.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }

func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.StoreType != "qdrant" || !cfg.StoreMigrateAtStart {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("qdrant migrate: connect: %w", err)
	}
	defer conn.Close()

	collections := pb.NewCollectionsClient(conn)
	points := pb.NewPointsClient(conn)
	prefix := collectionPrefix(cfg)
	dim := embeddingDimension(ctx, cfg)

	for _, name := range memory.AllCollections() {
		qualified := prefix + "_" + name
		_, err := collections.Get(migrateCtx, &pb.GetCollectionInfoRequest{CollectionName: qualified})
		if err == nil {
			continue
		}
		_, err = collections.Create(migrateCtx, &pb.CreateCollection{
			CollectionName: qualified,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     dim,
						Distance: pb.Distance_Cosine,
					},
				},
			},
			HnswConfig: &pb.HnswConfigDiff{
				M:                 newUint64(16),
				EfConstruct:       newUint64(64),
				FullScanThreshold: newUint64(10000),
			},
		})
		if err != nil {
			return fmt.Errorf("qdrant migrate: create collection %s: %w", qualified, err)
		}
		keyword := pb.FieldType_FieldTypeKeyword
		if _, err := points.CreateFieldIndex(migrateCtx, &pb.CreateFieldIndexCollection{
			CollectionName: qualified,
			FieldName:      "scope_id",
			FieldType:      &keyword,
		}); err != nil {
			return fmt.Errorf("qdrant migrate: index scope_id on %s: %w", qualified, err)
		}
		text := pb.FieldType_FieldTypeText
		if _, err := points.CreateFieldIndex(migrateCtx, &pb.CreateFieldIndexCollection{
			CollectionName: qualified,
			FieldName:      "content",
			FieldType:      &text,
		}); err != nil {
			return fmt.Errorf("qdrant migrate: index content on %s: %w", qualified, err)
		}
		log.Info("Created Qdrant collection", "name", qualified)
	}
	return nil
}

func embeddingDimension(ctx context.Context, cfg *config.Config) uint64 {
	if e := registryembed.FromContext(ctx); e != nil {
		return uint64(e.Dimension())
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EmbedType)) {
	case "local":
		return 384
	case "gemini":
		if cfg.GeminiEmbedDimensions > 0 {
			return uint64(cfg.GeminiEmbedDimensions)
		}
		return 768
	default:
		if cfg.OpenAIDimensions > 0 {
			return uint64(cfg.OpenAIDimensions)
		}
		return 1536
	}
}

var _ registrystore.FactStore = (*Store)(nil)
