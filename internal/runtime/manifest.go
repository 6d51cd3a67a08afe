package runtime

import (
	"encoding/json"
	"strings"

	"github.com/macaly/almostnode-sub000/internal/vfs"
)

// exportValue mirrors a node in a package.json "exports" tree: either a
// leaf string path or a branch mapping condition/subpath keys to child
// nodes. The custom UnmarshalJSON absorbs the string-or-object
// polymorphism of the field.
type exportValue struct {
	Path string
	Map  map[string]*exportValue
}

func (v *exportValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Path = s
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	v.Map = make(map[string]*exportValue, len(m))
	for k, raw := range m {
		child := &exportValue{}
		if err := json.Unmarshal(raw, child); err != nil {
			return err
		}
		v.Map[k] = child
	}
	return nil
}

// PackageManifest holds the package.json fields the resolver recognizes.
type PackageManifest struct {
	Name    string       `json:"name"`
	Main    string       `json:"main"`
	Type    string       `json:"type"`
	Exports *exportValue `json:"exports"`
}

func readManifest(fs *vfs.FS, pkgJSONPath string) (*PackageManifest, error) {
	data, err := fs.Read(pkgJSONPath)
	if err != nil {
		return nil, err
	}
	var m PackageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// resolveExportsSubpath resolves subpath (e.g. "." or "./react") against
// the manifest's exports field with condition priority {require, default}
// — the loader emulates a CJS consumer, so the require condition always
// wins over anything an ESM-leaning package also declares.
func resolveExportsSubpath(exports *exportValue, subpath string) string {
	if exports == nil {
		return ""
	}
	if exports.Path != "" {
		if subpath == "." {
			return exports.Path
		}
		return ""
	}
	if exports.Map == nil {
		return ""
	}

	isSubpathMap := false
	for key := range exports.Map {
		if strings.HasPrefix(key, ".") {
			isSubpathMap = true
			break
		}
	}

	if isSubpathMap {
		entry, ok := exports.Map[subpath]
		if !ok {
			return ""
		}
		return resolveCondition(entry)
	}

	if subpath == "." {
		return resolveCondition(exports)
	}
	return ""
}

func resolveCondition(v *exportValue) string {
	if v.Path != "" {
		return v.Path
	}
	if v.Map == nil {
		return ""
	}
	for _, key := range []string{"require", "default"} {
		if entry, ok := v.Map[key]; ok {
			if result := resolveCondition(entry); result != "" {
				return result
			}
		}
	}
	return ""
}
