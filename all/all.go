// Package all registers every direct-backend kind by side effect. A
// caller that only needs a subset can import the specific
// internal/direct/* package instead; most command-line entry points
// want the full closed set, which is what this package mirrors (the
// teacher's all/all.go did the same for its open set of registry
// ecosystems).
package all

import (
	_ "github.com/ekala-project/eka/internal/direct/build"
	_ "github.com/ekala-project/eka/internal/direct/git"
	_ "github.com/ekala-project/eka/internal/direct/tar"
	_ "github.com/ekala-project/eka/internal/direct/url"
)
