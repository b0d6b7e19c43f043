package target

import (
	"fmt"
	"path"
	"strings"
)

// Address uniquely identifies a target: the workspace-relative directory of
// its BUILD file plus the target name, rendered as "dir:name".
type Address struct {
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

// ParseAddress parses "dir:name". A bare "dir" is shorthand for the target
// named after the directory's base, matching how targets are usually named.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "//")
	if s == "" {
		return Address{}, fmt.Errorf("empty target address")
	}
	dir, name, found := strings.Cut(s, ":")
	if !found {
		name = path.Base(dir)
	}
	if name == "" {
		return Address{}, fmt.Errorf("target address %q has empty name", s)
	}
	if strings.Contains(name, "/") {
		return Address{}, fmt.Errorf("target name %q must not contain slashes", name)
	}
	dir = path.Clean(dir)
	if dir == "." {
		dir = ""
	}
	if strings.HasPrefix(dir, "..") {
		return Address{}, fmt.Errorf("target address %q escapes the workspace", s)
	}
	return Address{Dir: dir, Name: name}, nil
}

func (a Address) String() string {
	return a.Dir + ":" + a.Name
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a.Dir == "" && a.Name == ""
}

// Less orders addresses lexically, for deterministic output.
func (a Address) Less(b Address) bool {
	if a.Dir != b.Dir {
		return a.Dir < b.Dir
	}
	return a.Name < b.Name
}
