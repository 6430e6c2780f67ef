package normalize

import (
	"testing"
)

type staticMapper struct {
	item NormalizedItem
	err  error
}

func (m staticMapper) Map(userID string, raw map[string]any) (NormalizedItem, error) {
	if m.err != nil {
		return NormalizedItem{}, m.err
	}
	item := m.item
	item.UserID = userID
	return item, nil
}

func TestDeriveIDIsDeterministic(t *testing.T) {
	a := DeriveID("github", "ext-1", "user-1")
	b := DeriveID("github", "ext-1", "user-1")
	if a != b {
		t.Fatalf("DeriveID() not deterministic: %s != %s", a, b)
	}
}

func TestDeriveIDDiffersByInput(t *testing.T) {
	a := DeriveID("github", "ext-1", "user-1")
	b := DeriveID("github", "ext-2", "user-1")
	if a == b {
		t.Fatal("DeriveID() produced same id for different externalID")
	}
}

func TestRegistryNormalizeProducesValidItems(t *testing.T) {
	r := NewRegistry()
	r.Register("github", staticMapper{item: NormalizedItem{Source: "github", ExternalID: "repo-1", Title: "a repo"}})

	items, err := r.Normalize("github", "user-1", []map[string]any{{"id": "repo-1"}})
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	want := DeriveID("github", "repo-1", "user-1")
	if items[0].ID != want {
		t.Fatalf("ID = %s, want %s", items[0].ID, want)
	}
}

func TestRegistryNormalizeUnknownProviderFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Normalize("missing", "user-1", nil); err == nil {
		t.Fatal("Normalize() err = nil, want error for unregistered provider")
	}
}

func TestRegistryNormalizeAbortsBatchOnMapperError(t *testing.T) {
	r := NewRegistry()
	r.Register("github", staticMapper{err: fakeErr{}})
	if _, err := r.Normalize("github", "user-1", []map[string]any{{}}); err == nil {
		t.Fatal("Normalize() err = nil, want mapper error to abort the batch")
	}
}

func TestRegistryNormalizeAbortsBatchOnValidationFailure(t *testing.T) {
	r := NewRegistry()
	// Missing ExternalID fails Validate.
	r.Register("github", staticMapper{item: NormalizedItem{Source: "github"}})
	if _, err := r.Normalize("github", "user-1", []map[string]any{{}}); err == nil {
		t.Fatal("Normalize() err = nil, want validation error to abort the batch")
	}
}

type fakeErr struct{}

func (fakeErr) Error() string { return "mapper failed" }
