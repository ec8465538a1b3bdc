package testutil

import (
	"testing"
	"time"

	"github.com/nhle/research-tracker/internal/localstore"
)

// NewTestStore creates an in-memory localstore with all migrations
// applied. It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *localstore.Store {
	t.Helper()

	s, err := localstore.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// FixedClock returns a clock function pinned to a stable instant, for
// deterministic reminder and audit-field assertions.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
