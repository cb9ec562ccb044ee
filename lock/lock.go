// Package lock implements the typed, tagged atom.lock model (spec §4.4):
// a closed, tag-dispatched `[[deps]]` variant set (atom bonds vs. direct
// pins), strict unknown-field rejection at parse time, and deterministic
// serialization (atoms sorted by AtomId, pins sorted by name).
//
// The lockfile is always rewritten in full rather than edited in place,
// so — unlike manifest, which preserves the surrounding document via
// github.com/pelletier/go-toml's Tree API — this package reads with the
// same library but writes by composing the canonical text directly,
// guaranteeing the exact key order and formatting spec §4.4 and §9
// require without depending on a third-party encoder's array-of-tables
// ordering behavior.
package lock

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml"

	"github.com/ekala-project/eka/internal/atomicfile"
	"github.com/ekala-project/eka/internal/core"
)

// FileName is the fixed file name a lockfile must have alongside the
// manifest it locks.
const FileName = "atom.lock"

// FormatVersion is the current on-disk lockfile schema version.
const FormatVersion = 1

// SetRef is a `[sets]` entry: the set's mirror list, in the order they
// should be tried, or the literal "::" sentinel for "the containing
// repository".
type SetRef struct {
	Local   bool
	Mirrors []string
}

func (s SetRef) render() string {
	if s.Local {
		return `"::"`
	}
	quoted := make([]string, len(s.Mirrors))
	for i, m := range s.Mirrors {
		quoted[i] = tomlQuote(m)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// AtomLock is a `type = "atom"` dependency lock entry: one atom bond
// resolved to an exact version, commit, and AtomId.
type AtomLock struct {
	Label   string
	Version *semver.Version
	Set     string // set key: hex(origin)
	Rev     string // resolved git object id, hex
	ID      [32]byte
}

func (a AtomLock) idHex() string { return fmt.Sprintf("%x", a.ID) }

// pinKindTag maps a direct-backend Kind to its lockfile `type` tag. The
// "nix" prefix matches the content-addressed fixed-output convention
// original_source uses for these entries; spec §4.4 names the tag set
// verbatim ("nix" | "nix+git" | "nix+tar" | "nix+build").
var pinKindTag = map[core.Kind]string{
	core.KindURL:   "nix",
	core.KindGit:   "nix+git",
	core.KindTar:   "nix+tar",
	core.KindBuild: "nix+build",
}

var tagPinKind = map[string]core.Kind{
	"nix": core.KindURL, "nix+git": core.KindGit, "nix+tar": core.KindTar, "nix+build": core.KindBuild,
}

// PinLock is a direct-dependency lock entry: a name, a fetch URL, and a
// content integrity hash (or resolved git rev for the git variant).
type PinLock struct {
	Kind   core.Kind
	Name   string
	URL    string
	Rev    string // set for the git variant
	Hash   string // "sha256:..." or "sha256-..."
	Exec   bool
	Unpack bool
}

// Lockfile is the typed in-memory lock model, owned alongside its source
// path for WriteAtomic.
type Lockfile struct {
	Sets  map[string]SetRef
	Atoms map[string]AtomLock // keyed by AtomId hex
	Pins  map[string]PinLock  // keyed by pin name

	path string
}

// New returns an empty lockfile for path, matching spec §4.6 step 1
// ("load lock (empty if absent)").
func New(path string) *Lockfile {
	return &Lockfile{
		Sets:  map[string]SetRef{},
		Atoms: map[string]AtomLock{},
		Pins:  map[string]PinLock{},
		path:  path,
	}
}

// Load reads path if it exists, or returns an empty lockfile if it does
// not (absence is not an error).
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(path), nil
	}
	if err != nil {
		return nil, err
	}

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &core.InputError{File: path, Field: "(toml)", Reason: err.Error(), Wrapped: err}
	}

	if v, ok := tree.Get("version").(int64); !ok || v != FormatVersion {
		return nil, &core.InputError{File: path, Field: "version", Reason: "unsupported or missing lockfile version"}
	}

	l := New(path)

	if setsVal := tree.Get("sets"); setsVal != nil {
		setsTree, ok := setsVal.(*toml.Tree)
		if !ok {
			return nil, &core.InputError{File: path, Field: "sets", Reason: "must be a table"}
		}
		for _, key := range setsTree.Keys() {
			ref, err := parseLockSetRef(setsTree.Get(key))
			if err != nil {
				return nil, &core.InputError{File: path, Field: "sets." + key, Reason: err.Error()}
			}
			l.Sets[key] = ref
		}
	}

	depsVal := tree.Get("deps")
	depList, _ := depsVal.([]*toml.Tree)
	for i, depTree := range depList {
		if err := l.parseDepEntry(path, i, depTree); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func parseLockSetRef(v interface{}) (SetRef, error) {
	switch val := v.(type) {
	case string:
		if val == "::" {
			return SetRef{Local: true}, nil
		}
		return SetRef{}, fmt.Errorf("string set ref must be exactly \"::\"")
	case []interface{}:
		mirrors := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return SetRef{}, fmt.Errorf("mirror entries must be strings")
			}
			mirrors = append(mirrors, s)
		}
		return SetRef{Mirrors: mirrors}, nil
	default:
		return SetRef{}, fmt.Errorf("must be \"::\" or a list of mirror URLs")
	}
}

var atomAllowedKeys = map[string]bool{"type": true, "label": true, "version": true, "set": true, "rev": true, "id": true}
var pinAllowedKeys = map[string]bool{"type": true, "name": true, "url": true, "rev": true, "hash": true, "exec": true, "unpack": true}

func (l *Lockfile) parseDepEntry(path string, index int, t *toml.Tree) error {
	field := func(k string) string { return fmt.Sprintf("deps[%d].%s", index, k) }

	tag, _ := t.Get("type").(string)
	if tag == "" {
		return &core.InputError{File: path, Field: field("type"), Reason: "missing discriminator"}
	}

	if tag == "atom" {
		for _, k := range t.Keys() {
			if !atomAllowedKeys[k] {
				return &core.InputError{File: path, Field: field(k), Reason: "unrecognized key for type \"atom\""}
			}
		}
		label, _ := t.Get("label").(string)
		versionStr, _ := t.Get("version").(string)
		set, _ := t.Get("set").(string)
		rev, _ := t.Get("rev").(string)
		idHex, _ := t.Get("id").(string)

		version, err := semver.NewVersion(versionStr)
		if err != nil {
			return &core.InputError{File: path, Field: field("version"), Reason: err.Error(), Wrapped: err}
		}
		var id [32]byte
		rawID, err := hex.DecodeString(idHex)
		if err != nil || len(rawID) != len(id) {
			return &core.InputError{File: path, Field: field("id"), Reason: "must be a 32-byte hex atom id"}
		}
		copy(id[:], rawID)

		l.Atoms[idHex] = AtomLock{Label: label, Version: version, Set: set, Rev: rev, ID: id}
		return nil
	}

	kind, ok := tagPinKind[tag]
	if !ok {
		return &core.InputError{File: path, Field: field("type"), Reason: fmt.Sprintf("unrecognized dependency tag %q", tag)}
	}
	for _, k := range t.Keys() {
		if !pinAllowedKeys[k] {
			return &core.InputError{File: path, Field: field(k), Reason: "unrecognized key for type " + tag}
		}
	}
	name, _ := t.Get("name").(string)
	url, _ := t.Get("url").(string)
	rev, _ := t.Get("rev").(string)
	hash, _ := t.Get("hash").(string)
	exec, _ := t.Get("exec").(bool)
	unpack, _ := t.Get("unpack").(bool)

	l.Pins[name] = PinLock{Kind: kind, Name: name, URL: url, Rev: rev, Hash: hash, Exec: exec, Unpack: unpack}
	return nil
}

// SetAtom inserts or replaces an atom lock entry, keyed by its AtomId hex.
func (l *Lockfile) SetAtom(entry AtomLock) { l.Atoms[entry.idHex()] = entry }

// SetPin inserts or replaces a pin lock entry, keyed by name.
func (l *Lockfile) SetPin(entry PinLock) { l.Pins[entry.Name] = entry }

// DeleteAtom removes an atom lock entry by AtomId hex, used by the
// sanitize step when the manifest no longer requires it.
func (l *Lockfile) DeleteAtom(idHex string) { delete(l.Atoms, idHex) }

// DeletePin removes a pin lock entry by name.
func (l *Lockfile) DeletePin(name string) { delete(l.Pins, name) }

// Render produces the canonical, deterministic TOML text for the
// lockfile: atoms sorted by AtomId hex ascending, then pins sorted by
// name ascending (spec §4.4). Serializing the same in-memory Lockfile
// twice always yields byte-identical output.
func (l *Lockfile) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version = %d\n", FormatVersion)

	if len(l.Sets) > 0 {
		b.WriteString("\n[sets]\n")
		keys := make([]string, 0, len(l.Sets))
		for k := range l.Sets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s = %s\n", tomlQuote(k), l.Sets[k].render())
		}
	}

	atomKeys := make([]string, 0, len(l.Atoms))
	for k := range l.Atoms {
		atomKeys = append(atomKeys, k)
	}
	sort.Strings(atomKeys)
	for _, k := range atomKeys {
		a := l.Atoms[k]
		b.WriteString("\n[[deps]]\n")
		fmt.Fprintf(&b, "type = \"atom\"\n")
		fmt.Fprintf(&b, "label = %s\n", tomlQuote(a.Label))
		fmt.Fprintf(&b, "version = %s\n", tomlQuote(a.Version.String()))
		fmt.Fprintf(&b, "set = %s\n", tomlQuote(a.Set))
		fmt.Fprintf(&b, "rev = %s\n", tomlQuote(a.Rev))
		fmt.Fprintf(&b, "id = %s\n", tomlQuote(a.idHex()))
	}

	pinKeys := make([]string, 0, len(l.Pins))
	for k := range l.Pins {
		pinKeys = append(pinKeys, k)
	}
	sort.Strings(pinKeys)
	for _, k := range pinKeys {
		p := l.Pins[k]
		b.WriteString("\n[[deps]]\n")
		fmt.Fprintf(&b, "type = %s\n", tomlQuote(pinKindTag[p.Kind]))
		fmt.Fprintf(&b, "name = %s\n", tomlQuote(p.Name))
		fmt.Fprintf(&b, "url = %s\n", tomlQuote(p.URL))
		if p.Rev != "" {
			fmt.Fprintf(&b, "rev = %s\n", tomlQuote(p.Rev))
		}
		if p.Hash != "" {
			fmt.Fprintf(&b, "hash = %s\n", tomlQuote(p.Hash))
		}
		if p.Exec {
			b.WriteString("exec = true\n")
		}
		if p.Unpack {
			b.WriteString("unpack = true\n")
		}
	}

	return b.String()
}

// WriteAtomic renders and writes the lockfile to its path via a
// temp-file rename (spec §4.4: "rewritten in full ... never partially
// updated in place").
func (l *Lockfile) WriteAtomic() error {
	return atomicfile.Write(l.path, []byte(l.Render()), 0o644)
}

// Path returns the lockfile's source path.
func (l *Lockfile) Path() string { return l.path }

func tomlQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
