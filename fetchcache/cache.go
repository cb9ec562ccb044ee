package fetchcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ekala-project/eka/internal/core"
)

// manifestRecord is what the fetch-manifest concern stores per (URL,
// method): enough to answer a repeat resolve with zero network I/O
// (spec §4.7, example S6) and enough to make a conditional request when
// the caller explicitly wants to check for upstream changes.
//
// Encoded with CBOR rather than JSON: these records never leave the
// local KV store for a human to read, so the compact binary encoding
// (already pulled into the pack's dependency graph) costs nothing in
// readability and saves a parse pass on every cache lookup.
type manifestRecord struct {
	URL          string `cbor:"url"`
	StorePath    string `cbor:"store_path"`
	Hash         string `cbor:"hash"`
	ETag         string `cbor:"etag,omitempty"`
	LastModified string `cbor:"last_modified,omitempty"`
	Size         int64  `cbor:"size"`
	Exec         bool   `cbor:"exec,omitempty"`
	Unpack       bool   `cbor:"unpack,omitempty"`
}

// Cache is the content-addressed fetch cache: a blob store (raw fetched
// bytes, keyed by NAR hash) and a fetch-manifest store (URL+method ->
// manifestRecord), coalescing concurrent ingests of the same key with
// singleflight the way the teacher's resolver coalesces concurrent
// lookups of the same package name, per SPEC_FULL.md's domain-stack
// promotion of golang.org/x/sync/singleflight from transitive to
// directly exercised.
type Cache struct {
	root      string // directory holding blob content, one file per hash
	manifests Store
	fetcher   *CircuitBreakerFetcher
	group     singleflight.Group
}

// NewCache constructs a Cache rooted at dir for blob content, using
// manifests for the URL+method -> record index.
func NewCache(dir string, manifests Store, fetcher *CircuitBreakerFetcher) *Cache {
	return &Cache{root: dir, manifests: manifests, fetcher: fetcher}
}

func manifestKey(url, method string) string { return method + " " + url }

// Lookup implements spec §4.7's lookup(url, method) -> option<result>: a
// cache-only check that performs no network I/O. It returns ok=false if
// there is no manifest record for url, or if the record's blob is
// missing or fails re-verification — the caller (Ingest) is responsible
// for fetching in that case, Lookup itself never does.
func (c *Cache) Lookup(url string) (resolved *core.Resolved, ok bool, err error) {
	raw, err := c.manifests.Get(manifestKey(url, "GET"))
	if err != nil {
		return nil, false, nil
	}
	var rec manifestRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, false, nil
	}
	valid, err := c.verifyBlob(rec)
	if err != nil {
		return nil, false, err
	}
	if !valid {
		return nil, false, nil
	}
	return recordToResolved(rec), true, nil
}

// Ingest resolves req to content-addressed, cached bytes. A second
// Ingest of the same (URL, method) with an existing manifest record
// performs zero network I/O (spec §4.7, example S6), unless the cached
// blob is missing or fails re-verification, in which case it is
// lazily re-fetched.
func (c *Cache) Ingest(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	key := manifestKey(req.URL, "GET")
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.ingestOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Resolved), nil
}

func (c *Cache) ingestOnce(ctx context.Context, req core.DirectRequirement) (*core.Resolved, error) {
	if resolved, ok, err := c.Lookup(req.URL); err != nil {
		return nil, err
	} else if ok {
		return resolved, nil
	}

	res, err := c.fetcher.Fetch(ctx, req.URL, "", "")
	if err != nil {
		return nil, &core.RemoteError{Remote: req.URL, Reason: "fetch_cache ingest: " + err.Error(), Wrapped: err}
	}
	defer res.Body.Close()

	return c.storeResource(req, res)
}

// Revalidate re-checks req.URL against the upstream using the stored
// manifest record's ETag/Last-Modified as conditional-request headers
// (spec §4.7 "conditional HTTP"), the counterpart to Ingest's
// trust-the-hash-forever default for callers that explicitly want to know
// whether an upstream resource changed. changed reports whether the
// upstream returned a new body (304 Not Modified leaves the cached entry
// untouched and downloads nothing). With no existing manifest record,
// Revalidate behaves exactly like Ingest and reports changed=true.
func (c *Cache) Revalidate(ctx context.Context, req core.DirectRequirement) (resolved *core.Resolved, changed bool, err error) {
	raw, getErr := c.manifests.Get(manifestKey(req.URL, "GET"))
	var rec manifestRecord
	haveRecord := getErr == nil && cbor.Unmarshal(raw, &rec) == nil

	etag, lastModified := "", ""
	if haveRecord {
		etag, lastModified = rec.ETag, rec.LastModified
	}

	res, err := c.fetcher.Fetch(ctx, req.URL, etag, lastModified)
	if err != nil {
		return nil, false, &core.RemoteError{Remote: req.URL, Reason: "fetch_cache revalidate: " + err.Error(), Wrapped: err}
	}
	if res.NotModified {
		if !haveRecord {
			return nil, false, fmt.Errorf("fetch_cache revalidate %s: upstream returned Not Modified with no cached record", req.URL)
		}
		return recordToResolved(rec), false, nil
	}
	defer res.Body.Close()

	resolved, err = c.storeResource(req, res)
	return resolved, true, err
}

// storeResource writes res's body into the content-addressed blob store,
// computes its NAR hash, checks it against req.Integrity when given, and
// records the result as a manifestRecord.
func (c *Cache) storeResource(req core.DirectRequirement, res *Resource) (*core.Resolved, error) {
	tmp, err := os.CreateTemp(c.root, "ingest-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, res.Body); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if req.Exec {
		if err := os.Chmod(tmpPath, 0o755); err != nil {
			return nil, err
		}
	}

	hash, err := narHash(tmpPath)
	if err != nil {
		return nil, err
	}

	storePath := filepath.Join(c.root, hash)
	if err := os.Rename(tmpPath, storePath); err != nil {
		return nil, err
	}

	rec := manifestRecord{
		URL:          req.URL,
		StorePath:    storePath,
		Hash:         hash,
		ETag:         res.ETag,
		LastModified: res.LastModified,
		Size:         res.Size,
		Exec:         req.Exec,
		Unpack:       req.Unpack,
	}
	if req.Integrity != "" && req.Integrity != hash {
		return nil, &core.IntegrityError{URL: req.URL, Expected: req.Integrity, Actual: hash}
	}

	raw, err := cbor.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := c.manifests.Put(manifestKey(req.URL, "GET"), raw); err != nil {
		return nil, err
	}

	return recordToResolved(rec), nil
}

// verifyBlob performs the lazy re-verification spec §4.7 calls for: a
// cached manifest record whose blob is missing or whose content no
// longer hashes to the recorded value is treated as a cache miss rather
// than trusted blindly.
func (c *Cache) verifyBlob(rec manifestRecord) (bool, error) {
	if _, err := os.Stat(rec.StorePath); err != nil {
		return false, nil
	}
	actual, err := narHash(rec.StorePath)
	if err != nil {
		return false, err
	}
	return actual == rec.Hash, nil
}

func recordToResolved(rec manifestRecord) *core.Resolved {
	return &core.Resolved{URL: rec.URL, Integrity: rec.Hash, Exec: rec.Exec, Unpack: rec.Unpack}
}

