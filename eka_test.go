package eka

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ekala-project/eka/fetchcache"
	"github.com/ekala-project/eka/internal/core"
)

func newTestCache(t *testing.T) *FetchCache {
	t.Helper()
	store, err := fetchcache.OpenBoltStore(t.TempDir()+"/cache.db", "manifests")
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewFetchCache(t.TempDir(), store, fetchcache.NewCircuitBreakerFetcher(fetchcache.NewFetcher()))
}

func TestDirectPinResolverDispatchesURLKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset bytes"))
	}))
	defer srv.Close()

	WireDirectBackends(newTestCache(t), NewRemoteStore())

	pins := NewDirectPinResolver()
	resolved, err := pins.Resolve(context.Background(), core.DirectRequirement{Name: "asset", Kind: core.KindURL, URL: srv.URL})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Integrity == "" {
		t.Fatalf("expected non-empty integrity hash")
	}
}

func TestDirectPinResolverUnknownKind(t *testing.T) {
	pins := NewDirectPinResolver()
	_, err := pins.Resolve(context.Background(), core.DirectRequirement{Name: "bogus", Kind: core.Kind("bogus")})
	if err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
	var unknown *ErrUnknownBackend
	if !asErrUnknownBackend(err, &unknown) {
		t.Fatalf("err = %v, want *ErrUnknownBackend", err)
	}
}

func asErrUnknownBackend(err error, target **ErrUnknownBackend) bool {
	e, ok := err.(*ErrUnknownBackend)
	if !ok {
		return false
	}
	*target = e
	return true
}
