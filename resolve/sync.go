package resolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekala-project/eka/internal/core"
	"github.com/ekala-project/eka/lock"
	"github.com/ekala-project/eka/manifest"
)

// defaultConcurrency bounds how many atom/pin reconciliations Synchronize
// runs in parallel, mirroring internal/core/helpers.go's
// BulkFetchPackagesWithConcurrency default.
const defaultConcurrency = 15

type reconcileJob func(ctx context.Context) error

// Synchronize runs the manifest ↔ lock reconciliation loop (spec §4.6):
// sanitize stale entries, then reconcile every manifest requirement. It
// returns only an error: it does not report whether anything changed and
// never edits the manifest. Callers own the atomic write step; this
// function only mutates the in-memory lockfile.
//
// Running Synchronize twice in a row against its own output is a no-op:
// the second run's sanitize step finds nothing stale and its reconcile
// step finds every existing lock entry already satisfies its bond.
//
// Individual reconciliations run with bounded concurrency
// (defaultConcurrency in flight), the same buffered-channel-semaphore
// pattern internal/core/helpers.go uses for bulk registry fetches — each
// atom bond or direct pin is an independent network round trip to a
// mirror or registry, so resolving them one at a time would serialize
// the dominant cost of a large dependency set for no reason.
func Synchronize(ctx context.Context, r *Resolver, m *manifest.AtomManifest, l *lock.Lockfile) error {
	sanitize(m, l)

	var (
		jobs []reconcileJob
		mu   sync.Mutex
	)

	for _, alias := range m.AtomAliases() {
		set, ok := m.Sets[alias]
		if !ok {
			return &core.ConsistencyError{Reason: fmt.Sprintf("deps.from.%s has no matching package.sets.%s", alias, alias)}
		}
		for label, dep := range m.AtomDeps[alias] {
			set, label, dep := set, label, dep
			jobs = append(jobs, func(ctx context.Context) error {
				return reconcileAtom(ctx, r, l, &mu, set, label, dep)
			})
		}
	}

	for kind, pins := range m.DirectDeps {
		for name, req := range pins {
			kind, name, req := kind, name, req
			jobs = append(jobs, func(ctx context.Context) error {
				return reconcileDirect(ctx, r, l, &mu, kind, name, req)
			})
		}
	}

	return runConcurrently(ctx, jobs, defaultConcurrency)
}

// runConcurrently runs jobs with at most concurrency in flight, returning
// the first error encountered (if any) after every job has finished or
// ctx was cancelled. Synchronize's jobs each write to disjoint keys of
// l.Atoms/l.Pins (one per label or pin name), but Lockfile's maps are not
// safe for concurrent writes on their own, so reconcileAtom and
// reconcileDirect serialize their lock mutation through mu.
func runConcurrently(ctx context.Context, jobs []reconcileJob, concurrency int) error {
	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, concurrency)
		errOnce  sync.Once
		firstErr error
	)

	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errOnce.Do(func() { firstErr = ctx.Err() })
				return
			}

			if err := job(ctx); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// sanitize drops every lock entry whose corresponding manifest
// requirement no longer exists (spec §4.6 step 2).
func sanitize(m *manifest.AtomManifest, l *lock.Lockfile) {
	for idHex, entry := range l.Atoms {
		if _, bonded := findBondingAlias(m, entry.Label); !bonded {
			l.DeleteAtom(idHex)
		}
	}
	for name := range l.Pins {
		if !directDepExists(m, name) {
			l.DeletePin(name)
		}
	}
}

func findBondingAlias(m *manifest.AtomManifest, label string) (string, bool) {
	for alias, deps := range m.AtomDeps {
		if _, ok := deps[label]; ok {
			return alias, true
		}
	}
	return "", false
}

func directDepExists(m *manifest.AtomManifest, name string) bool {
	for _, pins := range m.DirectDeps {
		if _, ok := pins[name]; ok {
			return true
		}
	}
	return false
}

// reconcileAtom implements spec §4.6 step 3 for one atom bond: keep an
// existing entry if it still satisfies the range, otherwise (re-)resolve.
//
// mu guards every read and write against l: reconcileAtom runs
// concurrently with other reconcileAtom/reconcileDirect calls against the
// same Lockfile (see Synchronize), and Lockfile's maps are not otherwise
// safe for concurrent access. The resolve call itself — the slow,
// network-bound step — runs outside the lock.
func reconcileAtom(ctx context.Context, r *Resolver, l *lock.Lockfile, mu *sync.Mutex, set manifest.SetRef, label string, dep manifest.AtomDep) error {
	mu.Lock()
	for idHex, existing := range l.Atoms {
		if existing.Label != label {
			continue
		}
		if dep.Range.Check(existing.Version) {
			mu.Unlock()
			return nil // keep
		}
		l.DeleteAtom(idHex)
		break
	}
	mu.Unlock()

	entry, err := r.ResolveAtom(ctx, set, label, dep.Range)
	if err != nil {
		return err
	}

	mu.Lock()
	l.SetAtom(*entry)
	if set.Local {
		l.Sets[entry.Set] = lock.SetRef{Local: true}
	} else {
		l.Sets[entry.Set] = lock.SetRef{Mirrors: set.Mirrors}
	}
	mu.Unlock()
	return nil
}

// reconcileDirect implements spec §4.6 step 3 for one direct dependency.
// Direct pins are content-addressed by URL+method in the fetch cache, so
// an existing lock entry with a non-empty hash never needs re-resolving
// unless the manifest's own fields changed — which the caller observes
// by the pin simply being present with the same name; a changed URL
// yields a different pin identity entirely once the caller re-adds it.
//
// mu guards l the same way reconcileAtom's does.
func reconcileDirect(ctx context.Context, r *Resolver, l *lock.Lockfile, mu *sync.Mutex, kind core.Kind, name string, req core.DirectRequirement) error {
	mu.Lock()
	existing, ok := l.Pins[name]
	mu.Unlock()
	if ok && existing.URL == req.URL && existing.Hash != "" {
		return nil
	}

	resolved, err := r.Pins.Resolve(ctx, req)
	if err != nil {
		return err
	}

	mu.Lock()
	l.SetPin(lock.PinLock{
		Kind:   kind,
		Name:   name,
		URL:    resolved.URL,
		Rev:    resolved.Rev,
		Hash:   resolved.Integrity,
		Exec:   resolved.Exec,
		Unpack: resolved.Unpack,
	})
	mu.Unlock()
	return nil
}
