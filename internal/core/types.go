package core

import "context"

// Kind enumerates the closed set of direct-backend options a manifest may
// declare under [deps.direct.<backend>], per spec §4.3.
type Kind string

const (
	KindURL   Kind = "url"
	KindGit   Kind = "git"
	KindTar   Kind = "tar"
	KindBuild Kind = "build"
)

// allKinds is the closed set itself, independent of which backends happen
// to be registered at runtime. Manifest validation checks membership in
// this set, not registry.IsSupported: a manifest naming "git" must be
// rejected for a typo like "gti", not accepted or rejected depending on
// which internal/direct packages the calling binary happened to link in.
var allKinds = map[Kind]bool{KindURL: true, KindGit: true, KindTar: true, KindBuild: true}

// ValidKind reports whether kind is one of the four direct-backend kinds
// spec §4.3 defines, regardless of registration state.
func ValidKind(kind Kind) bool {
	return allKinds[kind]
}

// DirectRequirement is the backend-agnostic shape of a [deps.direct.*]
// manifest entry. Individual backends interpret the fields relevant to
// their Kind; unused fields stay zero.
type DirectRequirement struct {
	Name    string
	Kind    Kind
	URL     string
	Ref     string // git: branch/tag/commit given verbatim
	Version string // git/tar: semver range or {version} interpolation source
	Integrity string
	Exec    bool
	Unpack  bool
}

// Resolved is what a Backend produces for a DirectRequirement: enough to
// build a lock.PinLock entry.
type Resolved struct {
	URL       string
	Rev       string // set for git-based backends
	Integrity string // "sha256-<nix base32>" NAR hash from the fetch cache
	Exec      bool
	Unpack    bool
}

// Backend is implemented by each direct-dependency handler
// (internal/direct/{url,git,tar,build}).
type Backend interface {
	Kind() Kind
	Resolve(ctx context.Context, req DirectRequirement) (*Resolved, error)
}
