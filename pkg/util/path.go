package util

import (
	"path"
	"strings"
)

// FillSlash appends a trailing `/` to the path.
func FillSlash(p string) string {
	if p == "/" {
		return p
	}
	return p + "/"
}

// RemoveSlash strips the trailing `/` from the path.
func RemoveSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}

// SlashClean is equivalent to but slightly more efficient than
// path.Clean("/" + name).
func SlashClean(name string) string {
	if name == "" || name[0] != '/' {
		name = "/" + name
	}
	return path.Clean(name)
}

// ParentPath returns the parent directory of a slash-delimited path.
func ParentPath(p string) string {
	dir, _ := path.Split(RemoveSlash(p))
	return SlashClean(dir)
}
