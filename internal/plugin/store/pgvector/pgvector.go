package pgvector

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/EZFRICA/context-engineering/internal/config"
	"github.com/EZFRICA/context-engineering/internal/model"
	registryembed "github.com/EZFRICA/context-engineering/internal/registry/embed"
	registrymigrate "github.com/EZFRICA/context-engineering/internal/registry/migrate"
	registrystore "github.com/EZFRICA/context-engineering/internal/registry/store"
	"github.com/EZFRICA/context-engineering/internal/security"
)

//go:embed db/pgvector-schema.sql
var schemaSQL string

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

// migrator applies the facts schema.
type migrator struct{}

func (m *migrator) Name() string { return "pgvector" }
func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.StoreType != "pgvector" || !cfg.StoreMigrateAtStart || cfg.DBURL == "" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.WithContext(ctx).Exec(schemaSQL).Error
}

func load(ctx context.Context) (registrystore.FactStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	embedder := registryembed.FromContext(ctx)
	if embedder == nil {
		return nil, fmt.Errorf("pgvector: missing embedder in context")
	}
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("pgvector: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	return &Store{db: db, embedder: embedder}, nil
}

// Store keeps all collections in one facts table, discriminated by a
// collection column. Hybrid search blends cosine similarity with Postgres
// full-text rank.
type Store struct {
	db       *gorm.DB
	embedder registryembed.Embedder
}

func (s *Store) Name() string { return "pgvector" }

func (s *Store) embedOne(ctx context.Context, text string) (pgvec.Vector, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return pgvec.Vector{}, fmt.Errorf("embedding: %w", err)
	}
	return pgvec.NewVector(vecs[0]), nil
}

func (s *Store) Insert(ctx context.Context, collection string, fact model.Fact) error {
	vec, err := s.embedOne(ctx, fact.Content)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(fact.Tags)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO facts (id, collection, scope_id, content, tags, payload, embedding, created_at, approved_at)
		VALUES (?, ?, ?, ?, ?::jsonb, ?, ?::vector, ?, ?)
		ON CONFLICT (collection, id)
		DO UPDATE SET content = EXCLUDED.content, tags = EXCLUDED.tags,
		              payload = EXCLUDED.payload, embedding = EXCLUDED.embedding,
		              approved_at = EXCLUDED.approved_at`,
		fact.ID, collection, fact.ScopeID, fact.Content, string(tags), fact.Payload,
		vec, fact.CreatedAt, fact.ApprovedAt,
	).Error
}

func (s *Store) FetchByScope(ctx context.Context, collection, scopeID string, limit int) ([]model.Fact, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, scope_id, content, tags, payload, created_at, approved_at
		FROM facts
		WHERE collection = ? AND scope_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		collection, scopeID, limit,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (s *Store) FetchRecent(ctx context.Context, collection string, limit int) ([]model.Fact, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, scope_id, content, tags, payload, created_at, approved_at
		FROM facts
		WHERE collection = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		collection, limit,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (s *Store) FetchByID(ctx context.Context, collection string, id uuid.UUID) (*model.Fact, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, scope_id, content, tags, payload, created_at, approved_at
		FROM facts
		WHERE collection = ? AND id = ?`,
		collection, id,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, nil
	}
	return &facts[0], nil
}

func (s *Store) HybridSearch(ctx context.Context, collection, query, scopeID string, limit int) ([]registrystore.ScoredFact, error) {
	vec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, scope_id, content, tags, payload, created_at, approved_at,
		       0.5 * (1 - (embedding <=> ?::vector)) +
		       0.5 * ts_rank(to_tsvector('english', content), plainto_tsquery('english', ?)) AS score
		FROM facts
		WHERE collection = ? AND (? = '' OR scope_id = ?)
		ORDER BY score DESC
		LIMIT ?`,
		vec, query, collection, scopeID, scopeID, limit,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.ScoredFact
	for rows.Next() {
		f, score, err := scanScoredFact(rows)
		if err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		out = append(out, registrystore.ScoredFact{Fact: f, Score: score})
	}
	return out, rows.Err()
}

func (s *Store) NearestNeighbor(ctx context.Context, collection, query, scopeID string, k int) ([]registrystore.FactDistance, error) {
	vec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, scope_id, content, tags, payload, created_at, approved_at,
		       embedding <=> ?::vector AS distance
		FROM facts
		WHERE collection = ? AND (? = '' OR scope_id = ?)
		ORDER BY distance ASC
		LIMIT ?`,
		vec, collection, scopeID, scopeID, k,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registrystore.FactDistance
	for rows.Next() {
		f, distance, err := scanScoredFact(rows)
		if err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		out = append(out, registrystore.FactDistance{Fact: f, Distance: distance})
	}
	return out, rows.Err()
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
	return s.Insert(ctx, collection, *existing)
}

func (s *Store) DeleteByID(ctx context.Context, collection string, id uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM facts WHERE collection = ? AND id = ?",
		collection, id,
	).Error
}

func (s *Store) ScopeLike(ctx context.Context, collection, substring string, limit int) ([]model.Fact, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, scope_id, content, tags, payload, created_at, approved_at
		FROM facts
		WHERE collection = ? AND scope_id LIKE ?
		ORDER BY created_at DESC
		LIMIT ?`,
		collection, "%"+substring+"%", limit,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]model.Fact, error) {
	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		var tags []byte
		var approvedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.ScopeID, &f.Content, &tags, &f.Payload, &f.CreatedAt, &approvedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tags, &f.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
		if approvedAt.Valid {
			t := approvedAt.Time
			f.ApprovedAt = &t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanScoredFact(rows *sql.Rows) (model.Fact, float64, error) {
	var f model.Fact
	var tags []byte
	var approvedAt sql.NullTime
	var metric float64
	if err := rows.Scan(&f.ID, &f.ScopeID, &f.Content, &tags, &f.Payload, &f.CreatedAt, &approvedAt, &metric); err != nil {
		return f, 0, err
	}
	if err := json.Unmarshal(tags, &f.Tags); err != nil {
		return f, 0, fmt.Errorf("decoding tags: %w", err)
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		f.ApprovedAt = &t
	}
	return f, metric, nil
}

var _ registrystore.FactStore = (*Store)(nil)
