// Package pathutil manipulates the slash-separated logical paths used to
// address archive entries.
package pathutil

import "strings"

// Base returns the final element of a logical path, or "." for the root.
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DirPrefix returns the prefix that matches a directory's children: "" for
// the root (matching everything), name + "/" otherwise.
func DirPrefix(name string) string {
	if name == "." {
		return ""
	}
	return name + "/"
}

// Child returns the first path element of path below prefix, and whether
// further elements follow it (i.e. the child is itself a directory).
// path must start with prefix.
func Child(path, prefix string) (name string, isSubDir bool) {
	rel := strings.TrimPrefix(path, prefix)
	if i := strings.Index(rel, "/"); i >= 0 {
		return rel[:i], true
	}
	return rel, false
}

// HasEscape reports whether a slash-separated path contains a ".." element.
func HasEscape(path string) bool {
	for rest := path; rest != ""; {
		var elem string
		if i := strings.Index(rest, "/"); i >= 0 {
			elem, rest = rest[:i], rest[i+1:]
		} else {
			elem, rest = rest, ""
		}
		if elem == ".." {
			return true
		}
	}
	return false
}
