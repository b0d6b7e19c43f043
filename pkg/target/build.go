package target

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// KindSpec declares a target kind that BUILD files may instantiate. Each
// registered kind becomes a Starlark builtin of the same name.
type KindSpec struct {
	// Name is the builtin name, e.g. "shell_test".
	Name string

	// AllowedFields are the kind-specific keyword arguments accepted in
	// addition to the common name/sources/deps/tags set. Nil allows none.
	AllowedFields []string
}

// KindRegistry holds the target kinds known to the loader.
type KindRegistry struct {
	kinds map[string]KindSpec
}

// NewKindRegistry creates a registry with the given kinds.
func NewKindRegistry(kinds ...KindSpec) (*KindRegistry, error) {
	r := &KindRegistry{kinds: make(map[string]KindSpec, len(kinds))}
	for _, k := range kinds {
		if k.Name == "" {
			return nil, fmt.Errorf("target kind with empty name")
		}
		if _, dup := r.kinds[k.Name]; dup {
			return nil, fmt.Errorf("duplicate target kind %q", k.Name)
		}
		r.kinds[k.Name] = k
	}
	return r, nil
}

// Kinds returns the registered kind names, sorted.
func (r *KindRegistry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExecBuildFile evaluates one BUILD file and returns the targets it
// declares. dir is the workspace-relative directory of the file, used to
// form addresses and resolve relative dependency references.
func (r *KindRegistry) ExecBuildFile(dir, filename string, src []byte) ([]*Target, error) {
	collector := &buildCollector{dir: dir}

	predeclared := make(starlark.StringDict, len(r.kinds))
	for name, kind := range r.kinds {
		predeclared[name] = starlark.NewBuiltin(name, collector.builtinFor(kind))
	}

	thread := &starlark.Thread{
		Name: "quarry-build",
		Print: func(_ *starlark.Thread, msg string) {
			// BUILD files are declarations; print output is discarded.
		},
	}
	if _, err := starlark.ExecFile(thread, filename, src, predeclared); err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", filename, err)
	}
	if collector.err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", filename, collector.err)
	}
	return collector.targets, nil
}

type buildCollector struct {
	dir     string
	targets []*Target
	err     error
}

// builtinFor returns the Starlark builtin implementing one target kind.
// Common fields are unpacked strictly; remaining kwargs must be in the
// kind's allowed set and land in Target.Fields.
func (c *buildCollector) builtinFor(kind KindSpec) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	allowed := make(map[string]bool, len(kind.AllowedFields))
	for _, f := range kind.AllowedFields {
		allowed[f] = true
	}

	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("%s: positional arguments are not allowed", b.Name())
		}

		t := &Target{Kind: kind.Name, Fields: map[string]any{}}
		for _, kv := range kwargs {
			key := string(kv[0].(starlark.String))
			switch key {
			case "name":
				s, ok := starlark.AsString(kv[1])
				if !ok || s == "" {
					return nil, fmt.Errorf("%s: name must be a non-empty string", b.Name())
				}
				t.Address = Address{Dir: c.dir, Name: s}
			case "sources":
				globs, err := stringList(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: sources: %w", b.Name(), err)
				}
				t.Sources = globs
			case "deps":
				refs, err := stringList(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: deps: %w", b.Name(), err)
				}
				for _, ref := range refs {
					addr, err := c.resolveDep(ref)
					if err != nil {
						return nil, fmt.Errorf("%s: deps: %w", b.Name(), err)
					}
					t.Deps = append(t.Deps, addr)
				}
			case "tags":
				tags, err := stringList(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: tags: %w", b.Name(), err)
				}
				t.Tags = tags
			default:
				if !allowed[key] {
					return nil, fmt.Errorf("%s: unknown field %q", b.Name(), key)
				}
				v, err := fromStarlarkValue(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: field %q: %w", b.Name(), key, err)
				}
				t.Fields[key] = v
			}
		}
		if t.Address.Name == "" {
			return nil, fmt.Errorf("%s: missing required field name", b.Name())
		}

		c.targets = append(c.targets, t)
		return starlark.None, nil
	}
}

// resolveDep resolves a dependency reference. ":name" refers to a sibling
// target in the same BUILD file; anything else is a full address.
func (c *buildCollector) resolveDep(ref string) (Address, error) {
	if len(ref) > 0 && ref[0] == ':' {
		if len(ref) == 1 {
			return Address{}, fmt.Errorf("empty sibling reference %q", ref)
		}
		return Address{Dir: c.dir, Name: ref[1:]}, nil
	}
	return ParseAddress(ref)
}

func stringList(v starlark.Value) ([]string, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("expected list of strings, got %s", v.Type())
	}
	out := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		s, ok := starlark.AsString(list.Index(i))
		if !ok {
			return nil, fmt.Errorf("element %d is %s, want string", i, list.Index(i).Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// fromStarlarkValue converts a Starlark value to a plain Go value for
// Target.Fields.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
