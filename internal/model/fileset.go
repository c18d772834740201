package model

import "sort"

// FileSet maps relative file paths to full file contents. It is the
// currency between the implementation stage, the staging workspace and
// the fix loop.
type FileSet map[string]string

// Clone returns an independent copy of the set. A nil set clones to an
// empty, writable set so callers can merge into the copy.
func (fs FileSet) Clone() FileSet {
	out := make(FileSet, len(fs))
	for path, content := range fs {
		out[path] = content
	}
	return out
}

// Paths returns the file paths in lexical order.
func (fs FileSet) Paths() []string {
	paths := make([]string, 0, len(fs))
	for path := range fs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Merge overlays other onto the set, replacing entries path by path.
// Paths absent from other are left untouched.
func (fs FileSet) Merge(other FileSet) {
	for path, content := range other {
		fs[path] = content
	}
}
