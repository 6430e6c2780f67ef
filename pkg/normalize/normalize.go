// Package normalize implements the Normalizer (spec §4.9): a registry of
// provider mappers that turn a provider's raw payload shape into the
// common NormalizedItem schema, with a deterministic id so re-fetching
// the same item is idempotent.
package normalize

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// idNamespace seeds the UUIDv5 derivation; any fixed value works as long
// as it never changes, since changing it would reassign every item's id.
var idNamespace = uuid.MustParse("6f6e9c1a-6e49-4f0f-9a49-6a2b9b9d9c10")

// NormalizedItem is the common shape every provider mapper produces.
type NormalizedItem struct {
	ID          uuid.UUID
	Source      string
	ExternalID  string
	UserID      string
	Title       string
	BodyText    string
	URL         string
	Author      string
	PublishedAt *time.Time
	Metadata    map[string]string
}

// DeriveID computes the deterministic id for (source, externalID, userID)
// so re-fetching the same item is idempotent.
func DeriveID(source, externalID, userID string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(source+"|"+externalID+"|"+userID))
}

// Validate enforces the NormalizedItem schema invariants: non-empty
// Source, ExternalID, UserID, and an ID consistent with DeriveID.
func (n NormalizedItem) Validate() error {
	if n.Source == "" {
		return fmt.Errorf("normalize: item missing source")
	}
	if n.ExternalID == "" {
		return fmt.Errorf("normalize: item %s/%s missing externalId", n.Source, n.UserID)
	}
	if n.UserID == "" {
		return fmt.Errorf("normalize: item %s/%s missing userId", n.Source, n.ExternalID)
	}
	want := DeriveID(n.Source, n.ExternalID, n.UserID)
	if n.ID != want {
		return fmt.Errorf("normalize: item %s/%s has id %s, want deterministic %s", n.Source, n.ExternalID, n.ID, want)
	}
	return nil
}

// Mapper converts one raw provider item into a NormalizedItem.
type Mapper interface {
	Map(userID string, raw map[string]any) (NormalizedItem, error)
}

// Registry dispatches provider keys (including synthetic ones like
// "google-calendar") to their Mapper.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry creates an empty mapper registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]Mapper)}
}

// Register associates providerKey with a Mapper, overwriting any
// previous registration.
func (r *Registry) Register(providerKey string, mapper Mapper) {
	r.mappers[providerKey] = mapper
}

// Normalize maps every item in rawItems under providerKey and validates
// the result. A validation failure aborts the whole batch rather than
// silently dropping the offending item.
func (r *Registry) Normalize(providerKey, userID string, rawItems []map[string]any) ([]NormalizedItem, error) {
	mapper, ok := r.mappers[providerKey]
	if !ok {
		return nil, fmt.Errorf("normalize: no mapper registered for provider key %q", providerKey)
	}

	items := make([]NormalizedItem, 0, len(rawItems))
	for i, raw := range rawItems {
		item, err := mapper.Map(userID, raw)
		if err != nil {
			return nil, fmt.Errorf("normalize: mapping item %d for %q: %w", i, providerKey, err)
		}
		if item.ID == (uuid.UUID{}) {
			item.ID = DeriveID(item.Source, item.ExternalID, item.UserID)
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
