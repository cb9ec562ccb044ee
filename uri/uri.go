// Package uri parses the user-facing dependency URI surface syntax into a
// canonical store+label+constraint triple (spec §4.2).
//
// Accepted forms:
//
//	[scheme://][user[:pass]@][alias-or-host[:port]][path][::label[@semver-range]]
//	[scheme://][user[:pass]@][alias-or-host[:port]][path]^^ref
//	pkg:type/namespace/name@version   (PURL, expanded to an equivalent direct URI)
package uri

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/git-pkgs/purl"
)

// AliasTable expands a single-token host/scheme prefix (e.g. "gh") to its
// canonical form (e.g. "https://github.com/"). Supplying and loading the
// table is the CLI collaborator's concern (spec §1); this package only
// consumes it.
type AliasTable map[string]string

// URI is the parsed, canonical form of a dependency reference. Aliases
// are always fully expanded by the time a URI value exists (spec §4.2:
// "Aliases never appear in the manifest as emitted by the core").
type URI struct {
	Scheme string
	User   string
	Pass   string
	Host   string
	Port   string
	Path   string

	// Label and Range are set for the "::label[@range]" atom form.
	Label string
	Range *semver.Constraints

	// Ref is set for the "^^ref" pinned-git-ref form, mutually exclusive
	// with Label/Range.
	Ref string
}

// IsAtom reports whether this URI names an atom dependency (the "::label"
// form) as opposed to a pinned-ref direct dependency.
func (u URI) IsAtom() bool { return u.Label != "" }

// CanonicalURL reassembles the store-locating portion (scheme, userinfo,
// host, port, path) into a canonical URL string, omitting any "::label"
// or "^^ref" tail.
func (u URI) CanonicalURL() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.User != "" {
		b.WriteString(u.User)
		if u.Pass != "" {
			b.WriteString(":")
			b.WriteString(u.Pass)
		}
		b.WriteString("@")
	}
	b.WriteString(u.Host)
	if u.Port != "" {
		b.WriteString(":")
		b.WriteString(u.Port)
	}
	b.WriteString(u.Path)
	return b.String()
}

// Parse parses s per the grammar above, expanding any alias-table entry
// matching the leading host token.
//
// Stages (spec §4.2):
//  1. split on first "::" (atom form) or "^^" (pinned-ref form)
//  2. parse the left side into scheme/user/pass/host/port/path
//  3. expand a single-token host prefix against aliases
//  4. infer a scheme if none was given
//  5. parse the label (identity.ParseLabel's rules apply downstream) and
//     semver range
func Parse(s string, aliases AliasTable) (URI, error) {
	if strings.HasPrefix(s, "pkg:") {
		return parsePURL(s)
	}

	left, label, rng, ref, err := splitTail(s)
	if err != nil {
		return URI{}, err
	}

	u, err := parseLeft(left, aliases)
	if err != nil {
		return URI{}, err
	}

	u.Label = label
	u.Ref = ref

	if rng != "" {
		constraint, err := semver.NewConstraint(rng)
		if err != nil {
			return URI{}, fmt.Errorf("invalid semver range %q: %w", rng, err)
		}
		u.Range = constraint
	}

	u.Scheme = inferScheme(u)

	return u, nil
}

// splitTail splits off a trailing "::label[@range]" or "^^ref", returning
// the left-hand store locator unchanged.
func splitTail(s string) (left, label, rng, ref string, err error) {
	if idx := strings.Index(s, "::"); idx >= 0 {
		left = s[:idx]
		tail := s[idx+2:]
		if at := strings.LastIndex(tail, "@"); at >= 0 {
			label, rng = tail[:at], tail[at+1:]
		} else {
			label = tail
		}
		if label == "" {
			return "", "", "", "", fmt.Errorf("uri %q: empty label after '::'", s)
		}
		return left, label, rng, "", nil
	}
	if idx := strings.Index(s, "^^"); idx >= 0 {
		left = s[:idx]
		ref = s[idx+2:]
		if ref == "" {
			return "", "", "", "", fmt.Errorf("uri %q: empty ref after '^^'", s)
		}
		return left, "", "", ref, nil
	}
	return s, "", "", "", nil
}

// parseLeft parses the store-locating portion: [scheme://][user[:pass]@]host[:port][path]
func parseLeft(s string, aliases AliasTable) (URI, error) {
	var u URI

	if idx := strings.Index(s, "://"); idx >= 0 {
		u.Scheme = s[:idx]
		s = s[idx+3:]
	} else if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") {
		// A bare filesystem path has no host component at all.
		u.Path = s
		return u, nil
	}

	// userinfo: up to the first '@', if it comes before the first '/' (so ssh shorthand
	// "git@host:org/repo" is handled, while "host/path@something" — which
	// cannot occur here since '@' inside a path is unusual — is not
	// mistaken for userinfo).
	if at := strings.Index(s, "@"); at >= 0 {
		slash := strings.Index(s, "/")
		if slash < 0 || at < slash {
			userinfo := s[:at]
			s = s[at+1:]
			if colon := strings.Index(userinfo, ":"); colon >= 0 {
				u.User, u.Pass = userinfo[:colon], userinfo[colon+1:]
			} else {
				u.User = userinfo
			}
		}
	}

	// host[:port][path] — the ssh shorthand uses ':' to separate host from
	// path rather than a port, e.g. "host:org/repo". We treat a ':' as a
	// port only if what follows is entirely digits up to the next '/'.
	hostEnd := len(s)
	if slash := strings.Index(s, "/"); slash >= 0 {
		hostEnd = slash
	}
	hostPart := s[:hostEnd]
	rest := s[hostEnd:]
	hostPathColon := false

	if colon := strings.Index(hostPart, ":"); colon >= 0 {
		maybePort := hostPart[colon+1:]
		if isAllDigits(maybePort) {
			u.Host, u.Port = hostPart[:colon], maybePort
		} else {
			// ssh shorthand: "host:path" — fold the remainder into path.
			u.Host = hostPart[:colon]
			rest = "/" + maybePort + rest
			hostPathColon = true
		}
	} else {
		u.Host = hostPart
	}
	u.Path = rest

	expandAlias(&u, aliases)

	// A colon after the host infers ssh, unless an alias supplied a scheme.
	if hostPathColon && u.Scheme == "" {
		u.Scheme = "ssh"
	}

	return u, nil
}

// expandAlias rewrites a single-token host against aliases, splicing the
// alias's own scheme/host/path (if any) in ahead of u.Path.
func expandAlias(u *URI, aliases AliasTable) {
	if u.Host == "" || u.Scheme != "" {
		return
	}
	expansion, ok := aliases[u.Host]
	if !ok {
		return
	}

	expanded, err := parseLeft(expansion, nil)
	if err != nil {
		return
	}
	u.Scheme = expanded.Scheme
	u.Host = expanded.Host
	u.Port = expanded.Port
	u.Path = strings.TrimSuffix(expanded.Path, "/") + u.Path
}

// inferScheme implements spec §4.2 step 4: "user-without-password present
// or colon-after-host -> ssh; host present -> https; otherwise -> file".
// The "host:path" shorthand has already been given ssh by parseLeft; here
// a colon after the host shows up as a port.
func inferScheme(u URI) string {
	if u.Scheme != "" {
		return u.Scheme
	}
	if u.User != "" && u.Pass == "" {
		return "ssh"
	}
	if u.Port != "" {
		return "ssh"
	}
	if u.Host != "" {
		return "https"
	}
	return "file"
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parsePURL expands a "pkg:" Package URL into the equivalent canonical
// direct-dependency URI. This is an alternate surface syntax (spec.md is
// silent on it) that lets a direct dependency be named the same way other
// package tooling in the ecosystem names one; see SPEC_FULL.md "domain
// stack".
func parsePURL(s string) (URI, error) {
	p, err := purl.Parse(s)
	if err != nil {
		return URI{}, fmt.Errorf("invalid purl %q: %w", s, err)
	}

	name := p.Name
	if p.Namespace != "" {
		name = p.Namespace + "/" + p.Name
	}

	u := URI{
		Scheme: "https",
		Host:   purlTypeHost(p.Type),
		Path:   "/" + name,
	}
	if p.Version != "" {
		u.Ref = p.Version
	}
	return u, nil
}

// purlTypeHost maps a handful of well-known PURL types to the host their
// canonical download URL lives under. Types outside this map still parse;
// Host is left as the bare type string for the caller (or a direct-backend
// "tar"/"url" handler) to interpret.
func purlTypeHost(t string) string {
	switch t {
	case "github":
		return "github.com"
	case "gitlab":
		return "gitlab.com"
	case "bitbucket":
		return "bitbucket.org"
	default:
		return t
	}
}
