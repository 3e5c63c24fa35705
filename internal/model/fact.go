package model

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// factIDNamespace seeds the content-addressed fact IDs. Changing it would
// re-key every existing fact, so it is fixed forever.
var factIDNamespace = uuid.MustParse("7d44a2f1-9c5e-4b1a-8f3d-2e6b0c9a51d4")

// FactID derives the stable identifier for a (scope, content) pair.
// Re-inserting identical content into the same scope always yields the same
// ID, which is what makes Insert idempotent.
func FactID(scopeID, content string) uuid.UUID {
	return uuid.NewSHA1(factIDNamespace, []byte(scopeID+":"+content))
}

// NormalizeScopeID converts a free-form scope name to lowercase snake_case
// (e.g. "Tokyo 2025" -> "tokyo_2025"). All store operations key off the
// normalized form.
func NormalizeScopeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true // swallow leading separators
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Source identifies which store a fact currently lives in.
type Source string

const (
	// SourceInbox marks facts awaiting human approval.
	SourceInbox Source = "inbox"
	// SourceBank marks approved facts visible to the context mounter.
	SourceBank Source = "bank"
)

// Fact is the atomic durable memory unit. A fact's stage (pending vs
// approved) is not stored on the row; it is determined by which collection
// holds it.
type Fact struct {
	// ID is content-addressed from (scope, content) for facts created by
	// extraction or manual entry. See FactID.
	ID uuid.UUID `json:"id"`

	// Content is the fact text. Never empty for a stored fact.
	Content string `json:"content"`

	// ScopeID is the partition key, normalized to lowercase snake_case.
	ScopeID string `json:"scope_id"`

	// Tags are short labels used for filtering and display, never for
	// uniqueness.
	Tags []string `json:"tags"`

	// Payload is an open structured extension, serialized as JSON text.
	Payload string `json:"payload"`

	// CreatedAt is when the fact was extracted or entered.
	CreatedAt time.Time `json:"created_at"`

	// ApprovedAt is when the fact became visible to the agent. Nil while
	// pending in an inbox collection.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// NewFact builds a fact with a content-addressed ID and a serialized payload.
// The caller decides whether to stamp ApprovedAt.
func NewFact(scopeID, content string, tags []string, payload map[string]any) Fact {
	return Fact{
		ID:        FactID(scopeID, content),
		Content:   content,
		ScopeID:   scopeID,
		Tags:      tags,
		Payload:   marshalPayload(payload),
		CreatedAt: time.Now().UTC(),
	}
}

func marshalPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// HasTag reports whether the fact carries the given tag.
func (f *Fact) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CandidateFact is an extractor output that has not yet passed the
// deduplication gate.
type CandidateFact struct {
	Content string         `json:"content"`
	Tags    []string       `json:"tags"`
	Payload map[string]any `json:"payload"`
}
