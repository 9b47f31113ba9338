// Package filter decides whether an object path is governed by the
// transform pipeline. The gate runs before any lock is acquired or any I/O
// is performed, so ungoverned paths incur zero cost.
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GovernedSet describes the collection of object paths the pipeline owns: a
// collection root the path must fall strictly under, and a filename pattern
// it must match.
type GovernedSet struct {
	root    string
	pattern string
	glob    bool
}

// New creates a governed set from a collection root and a filename pattern.
// The pattern is either a plain suffix (".fastq") or a glob ("*.fastq",
// "run-??.fastq").
func New(root, pattern string) (*GovernedSet, error) {
	if root == "" {
		return nil, fmt.Errorf("collection root cannot be empty")
	}
	if pattern == "" {
		return nil, fmt.Errorf("filename pattern cannot be empty")
	}

	glob := strings.ContainsAny(pattern, "*?[{")
	if glob {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid filename pattern: %s", pattern)
		}
	}

	return &GovernedSet{
		root:    path.Clean(root),
		pattern: pattern,
		glob:    glob,
	}, nil
}

// Root returns the cleaned collection root.
func (g *GovernedSet) Root() string {
	return g.root
}

// Governed reports whether the candidate object path falls under the
// collection root and matches the filename pattern.
//
// The root is treated as a strict path prefix on segment boundaries:
// /a/iplant governs /a/iplant/s1.fastq but not /a/iplant2/s1.fastq, and not
// the root itself.
func (g *GovernedSet) Governed(candidate string) bool {
	if candidate == "" {
		return false
	}
	cleaned := path.Clean(candidate)

	if !strings.HasPrefix(cleaned, g.root+"/") {
		return false
	}

	name := path.Base(cleaned)
	if g.glob {
		ok, err := doublestar.Match(g.pattern, name)
		return err == nil && ok
	}
	return strings.HasSuffix(name, g.pattern) && name != g.pattern
}
