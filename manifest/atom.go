// Package manifest implements the typed, format-preserving view of
// ekala.toml (the set manifest) and atom.toml (the atom manifest) per
// spec §4.3.
//
// Both files are owned as a pair: a strongly typed Go value for callers
// to read, and the original parsed document (a *toml.Tree, from
// github.com/pelletier/go-toml — already an in-pack dependency via
// oneconcern-datamon/go.mod) for mutations to write back against, so
// that an edit keeps every key and value it did not touch. Writing
// re-serializes the whole tree with go-toml's encoder: keys come out in
// the encoder's order rather than the file's original order, and
// comments and original whitespace are not kept. Mutating methods never
// expose the raw Tree; they return typed errors and leave both the Tree
// and the struct view consistent with each other.
package manifest

import (
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml"

	"github.com/ekala-project/eka/identity"
	"github.com/ekala-project/eka/internal/atomicfile"
	"github.com/ekala-project/eka/internal/core"
)

// AtomManifestName is the fixed file name an atom manifest must have
// within its directory (spec §6 "atom.toml per atom").
const AtomManifestName = "atom.toml"

// SetRef is a `[package.sets]` entry: either the literal "::" (meaning
// "the containing repository") or one or more mirror URLs.
type SetRef struct {
	Local   bool
	Mirrors []string
}

// AtomDep is a `[deps.from.<alias>]` entry: a label bound to a semver
// range, to be resolved against the set named by alias.
type AtomDep struct {
	Label string
	Range *semver.Constraints
	// RangeText preserves the original constraint text for round-trip
	// writes (semver.Constraints does not re-render to the input form).
	RangeText string
}

// AtomManifest is the typed view of one atom.toml, paired with the parsed
// document it was loaded from.
type AtomManifest struct {
	Label       identity.Label
	Version     *semver.Version
	Description string

	// Sets maps a manifest-local alias to the set it refers to.
	Sets map[string]SetRef

	// AtomDeps maps set-alias -> label -> AtomDep.
	AtomDeps map[string]map[string]AtomDep

	// DirectDeps maps backend kind -> pin name -> requirement.
	DirectDeps map[core.Kind]map[string]core.DirectRequirement

	path string
	tree *toml.Tree
}

var packageAllowedKeys = map[string]bool{
	"label": true, "version": true, "description": true, "sets": true,
}

var directAllowedKeys = map[string]bool{
	"url": true, "git": true, "tar": true, "build": true,
	"ref": true, "version": true, "exec": true, "unpack": true, "integrity": true,
}

// LoadAtomManifest reads and validates the atom.toml at path.
func LoadAtomManifest(path string) (*AtomManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &core.InputError{File: path, Field: "(toml)", Reason: err.Error(), Wrapped: err}
	}

	m := &AtomManifest{
		Sets:       map[string]SetRef{},
		AtomDeps:   map[string]map[string]AtomDep{},
		DirectDeps: map[core.Kind]map[string]core.DirectRequirement{},
		path:       path,
		tree:       tree,
	}

	if err := m.parsePackage(path); err != nil {
		return nil, err
	}
	if err := m.parseDeps(path); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AtomManifest) parsePackage(path string) error {
	pkgVal := m.tree.Get("package")
	pkgTree, ok := pkgVal.(*toml.Tree)
	if !ok {
		return &core.InputError{File: path, Field: "package", Reason: "missing or not a table"}
	}
	for _, k := range pkgTree.Keys() {
		if !packageAllowedKeys[k] {
			return &core.InputError{File: path, Field: "package." + k, Reason: "unrecognized key"}
		}
	}

	labelStr, _ := pkgTree.Get("label").(string)
	label, err := identity.ParseLabel(labelStr)
	if err != nil {
		return &core.InputError{File: path, Field: "package.label", Reason: err.Error(), Wrapped: err}
	}
	m.Label = label

	versionStr, _ := pkgTree.Get("version").(string)
	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return &core.InputError{File: path, Field: "package.version", Reason: err.Error(), Wrapped: err}
	}
	m.Version = version

	if desc, ok := pkgTree.Get("description").(string); ok {
		m.Description = desc
	}

	if setsVal := pkgTree.Get("sets"); setsVal != nil {
		setsTree, ok := setsVal.(*toml.Tree)
		if !ok {
			return &core.InputError{File: path, Field: "package.sets", Reason: "must be a table"}
		}
		for _, alias := range setsTree.Keys() {
			ref, err := parseSetRef(setsTree.Get(alias))
			if err != nil {
				return &core.InputError{File: path, Field: "package.sets." + alias, Reason: err.Error()}
			}
			m.Sets[alias] = ref
		}
	}
	return nil
}

func parseSetRef(v interface{}) (SetRef, error) {
	switch val := v.(type) {
	case string:
		if val == "::" {
			return SetRef{Local: true}, nil
		}
		return SetRef{Mirrors: []string{val}}, nil
	case []interface{}:
		mirrors := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return SetRef{}, fmt.Errorf("mirror list entries must be strings")
			}
			mirrors = append(mirrors, s)
		}
		return SetRef{Mirrors: mirrors}, nil
	default:
		return SetRef{}, fmt.Errorf("must be a string, a list of strings, or \"::\"")
	}
}

func (m *AtomManifest) parseDeps(path string) error {
	depsVal := m.tree.Get("deps")
	if depsVal == nil {
		return nil
	}
	depsTree, ok := depsVal.(*toml.Tree)
	if !ok {
		return &core.InputError{File: path, Field: "deps", Reason: "must be a table"}
	}

	if fromVal := depsTree.Get("from"); fromVal != nil {
		fromTree, ok := fromVal.(*toml.Tree)
		if !ok {
			return &core.InputError{File: path, Field: "deps.from", Reason: "must be a table"}
		}
		for _, alias := range fromTree.Keys() {
			aliasTree, ok := fromTree.Get(alias).(*toml.Tree)
			if !ok {
				return &core.InputError{File: path, Field: "deps.from." + alias, Reason: "must be a table"}
			}
			for _, label := range aliasTree.Keys() {
				rangeStr, ok := aliasTree.Get(label).(string)
				if !ok {
					return &core.InputError{File: path, Field: fmt.Sprintf("deps.from.%s.%s", alias, label), Reason: "must be a string semver range"}
				}
				constraint, err := semver.NewConstraint(rangeStr)
				if err != nil {
					return &core.InputError{File: path, Field: fmt.Sprintf("deps.from.%s.%s", alias, label), Reason: err.Error(), Wrapped: err}
				}
				if m.AtomDeps[alias] == nil {
					m.AtomDeps[alias] = map[string]AtomDep{}
				}
				m.AtomDeps[alias][label] = AtomDep{Label: label, Range: constraint, RangeText: rangeStr}
			}
		}
	}

	if directVal := depsTree.Get("direct"); directVal != nil {
		directTree, ok := directVal.(*toml.Tree)
		if !ok {
			return &core.InputError{File: path, Field: "deps.direct", Reason: "must be a table"}
		}
		for _, kindStr := range directTree.Keys() {
			kind := core.Kind(kindStr)
			if !core.ValidKind(kind) {
				return &core.InputError{File: path, Field: "deps.direct." + kindStr, Reason: "unrecognized backend"}
			}
			kindTree, ok := directTree.Get(kindStr).(*toml.Tree)
			if !ok {
				return &core.InputError{File: path, Field: "deps.direct." + kindStr, Reason: "must be a table"}
			}
			for _, name := range kindTree.Keys() {
				pinTree, ok := kindTree.Get(name).(*toml.Tree)
				if !ok {
					return &core.InputError{File: path, Field: fmt.Sprintf("deps.direct.%s.%s", kindStr, name), Reason: "must be a table"}
				}
				req, err := parseDirectRequirement(name, kind, pinTree)
				if err != nil {
					return &core.InputError{File: path, Field: fmt.Sprintf("deps.direct.%s.%s", kindStr, name), Reason: err.Error()}
				}
				if m.DirectDeps[kind] == nil {
					m.DirectDeps[kind] = map[string]core.DirectRequirement{}
				}
				m.DirectDeps[kind][name] = req
			}
		}
	}
	return nil
}

func parseDirectRequirement(name string, kind core.Kind, t *toml.Tree) (core.DirectRequirement, error) {
	for _, k := range t.Keys() {
		if !directAllowedKeys[k] {
			return core.DirectRequirement{}, fmt.Errorf("unrecognized option %q", k)
		}
	}

	req := core.DirectRequirement{Name: name, Kind: kind}

	switch kind {
	case core.KindURL, core.KindBuild:
		url, _ := t.Get("url").(string)
		if url == "" {
			url, _ = t.Get("build").(string)
		}
		req.URL = url
	case core.KindGit:
		url, _ := t.Get("git").(string)
		req.URL = url
	case core.KindTar:
		url, _ := t.Get("tar").(string)
		req.URL = url
	}

	if ref, ok := t.Get("ref").(string); ok {
		req.Ref = ref
	}
	if v, ok := t.Get("version").(string); ok {
		req.Version = v
	}
	if integrity, ok := t.Get("integrity").(string); ok {
		req.Integrity = integrity
	}
	if exec, ok := t.Get("exec").(bool); ok {
		req.Exec = exec
	}
	if unpack, ok := t.Get("unpack").(bool); ok {
		req.Unpack = unpack
	}
	if req.URL == "" {
		return core.DirectRequirement{}, fmt.Errorf("missing url for backend %q", kind)
	}
	return req, nil
}

// AtomAliases returns the manifest's set aliases in sorted order, for
// deterministic iteration.
func (m *AtomManifest) AtomAliases() []string {
	aliases := make([]string, 0, len(m.AtomDeps))
	for alias := range m.AtomDeps {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Path returns the manifest's source file path.
func (m *AtomManifest) Path() string { return m.path }

// AddAtomBond adds or overwrites a `[deps.from.<alias>].<label>` entry,
// leaving the rest of the document's keys and values unchanged.
func (m *AtomManifest) AddAtomBond(alias, label, rangeText string) error {
	if _, ok := m.Sets[alias]; !ok {
		return &core.InputError{File: m.path, Field: "package.sets." + alias, Reason: "no such set alias; add it first"}
	}
	constraint, err := semver.NewConstraint(rangeText)
	if err != nil {
		return &core.InputError{File: m.path, Field: fmt.Sprintf("deps.from.%s.%s", alias, label), Reason: err.Error(), Wrapped: err}
	}
	m.tree.SetPath([]string{"deps", "from", alias, label}, rangeText)
	if m.AtomDeps[alias] == nil {
		m.AtomDeps[alias] = map[string]AtomDep{}
	}
	m.AtomDeps[alias][label] = AtomDep{Label: label, Range: constraint, RangeText: rangeText}
	return nil
}

// UpdateAtomConstraint rewrites the range of an existing atom bond.
func (m *AtomManifest) UpdateAtomConstraint(alias, label, rangeText string) error {
	if _, ok := m.AtomDeps[alias][label]; !ok {
		return &core.InputError{File: m.path, Field: fmt.Sprintf("deps.from.%s.%s", alias, label), Reason: "no such bond"}
	}
	return m.AddAtomBond(alias, label, rangeText)
}

// AddSet adds or overwrites a `[package.sets]` alias.
func (m *AtomManifest) AddSet(alias string, ref SetRef) {
	if ref.Local {
		m.tree.SetPath([]string{"package", "sets", alias}, "::")
	} else if len(ref.Mirrors) == 1 {
		m.tree.SetPath([]string{"package", "sets", alias}, ref.Mirrors[0])
	} else {
		mirrors := make([]interface{}, len(ref.Mirrors))
		for i, v := range ref.Mirrors {
			mirrors[i] = v
		}
		m.tree.SetPath([]string{"package", "sets", alias}, mirrors)
	}
	m.Sets[alias] = ref
}

// RemoveAtomBond deletes a `[deps.from.<alias>].<label>` entry from both
// the document and the typed view.
func (m *AtomManifest) RemoveAtomBond(alias, label string) {
	m.tree.DeletePath([]string{"deps", "from", alias, label})
	delete(m.AtomDeps[alias], label)
}

// WriteAtomic re-serializes the whole manifest document (untouched keys
// and values are kept; comments and the original layout are not) and
// writes it to Path() via a temp-file rename.
func (m *AtomManifest) WriteAtomic() error {
	return atomicfile.Write(m.path, []byte(m.tree.String()), 0o644)
}
