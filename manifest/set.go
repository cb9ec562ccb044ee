package manifest

import (
	"os"
	"sort"

	"github.com/github/go-spdx/v2/spdxexp"
	"github.com/pelletier/go-toml"

	"github.com/ekala-project/eka/internal/atomicfile"
	"github.com/ekala-project/eka/internal/core"
)

// SetManifestName is the fixed file name a set manifest must have at the
// root of the repository it describes.
const SetManifestName = "ekala.toml"

var setAllowedKeys = map[string]bool{"label": true, "atoms": true, "metadata": true}
var metadataAllowedKeys = map[string]bool{"tags": true, "license": true, "domain": true}

// SetManifest is the typed view of ekala.toml: an optional repository
// label, an optional list of relative paths to the atom manifests it
// contains, and optional descriptive metadata.
type SetManifest struct {
	Label     string
	AtomPaths []string
	Tags      []string
	License   string
	Domain    string

	path string
	tree *toml.Tree
}

// LoadSetManifest reads and validates the ekala.toml at path. All fields
// are optional; an empty, all-default document is valid.
func LoadSetManifest(path string) (*SetManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &core.InputError{File: path, Field: "(toml)", Reason: err.Error(), Wrapped: err}
	}

	for _, k := range tree.Keys() {
		if !setAllowedKeys[k] {
			return nil, &core.InputError{File: path, Field: k, Reason: "unrecognized key"}
		}
	}

	m := &SetManifest{path: path, tree: tree}

	if label, ok := tree.Get("label").(string); ok {
		m.Label = label
	}

	if atomsVal := tree.Get("atoms"); atomsVal != nil {
		list, ok := atomsVal.([]interface{})
		if !ok {
			return nil, &core.InputError{File: path, Field: "atoms", Reason: "must be a list of paths"}
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &core.InputError{File: path, Field: "atoms", Reason: "entries must be strings"}
			}
			m.AtomPaths = append(m.AtomPaths, s)
		}
	}

	if metaVal := tree.Get("metadata"); metaVal != nil {
		metaTree, ok := metaVal.(*toml.Tree)
		if !ok {
			return nil, &core.InputError{File: path, Field: "metadata", Reason: "must be a table"}
		}
		for _, k := range metaTree.Keys() {
			if !metadataAllowedKeys[k] {
				return nil, &core.InputError{File: path, Field: "metadata." + k, Reason: "unrecognized key"}
			}
		}
		if tagsVal := metaTree.Get("tags"); tagsVal != nil {
			list, ok := tagsVal.([]interface{})
			if !ok {
				return nil, &core.InputError{File: path, Field: "metadata.tags", Reason: "must be a list of strings"}
			}
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, &core.InputError{File: path, Field: "metadata.tags", Reason: "entries must be strings"}
				}
				m.Tags = append(m.Tags, s)
			}
		}
		if license, ok := metaTree.Get("license").(string); ok {
			if err := validateLicense(license); err != nil {
				return nil, &core.InputError{File: path, Field: "metadata.license", Reason: err.Error()}
			}
			m.License = license
		}
		if domain, ok := metaTree.Get("domain").(string); ok {
			m.Domain = domain
		}
	}

	return m, nil
}

// validateLicense checks a metadata.license value against the SPDX
// license-expression grammar. Supplemented feature: the distilled spec
// names "license" as free-form metadata; the original tooling rejects
// malformed expressions at manifest-load time rather than letting them
// reach a publish step, so this carries that behavior forward.
func validateLicense(expr string) error {
	valid, invalid := spdxexp.ValidateLicenses([]string{expr})
	if !valid {
		return &core.InputError{Field: "license", Reason: "not a valid SPDX expression: " + sortedJoin(invalid)}
	}
	return nil
}

func sortedJoin(ss []string) string {
	sort.Strings(ss)
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// Path returns the manifest's source file path.
func (m *SetManifest) Path() string { return m.path }

// AddAtomPath registers a relative path to a newly created atom
// manifest, preserving the rest of the document.
func (m *SetManifest) AddAtomPath(relPath string) {
	for _, existing := range m.AtomPaths {
		if existing == relPath {
			return
		}
	}
	m.AtomPaths = append(m.AtomPaths, relPath)
	paths := make([]interface{}, len(m.AtomPaths))
	for i, p := range m.AtomPaths {
		paths[i] = p
	}
	m.tree.Set("atoms", paths)
}

// SetLicense rewrites the metadata.license field, validating it first.
func (m *SetManifest) SetLicense(expr string) error {
	if err := validateLicense(expr); err != nil {
		return err
	}
	m.tree.SetPath([]string{"metadata", "license"}, expr)
	m.License = expr
	return nil
}

// WriteAtomic serializes and writes the manifest via a temp-file rename.
func (m *SetManifest) WriteAtomic() error {
	return atomicfile.Write(m.path, []byte(m.tree.String()), 0o644)
}
