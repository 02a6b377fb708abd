package filename

import (
	"path"
	"strings"
)

// ProductCode extracts the product identifier from an object name.
// Source images are named "<category>/<code>_<variant>.<ext>", e.g.
// "female_clothes/239838409823_01.webp" carries code "239838409823".
// The extension is stripped before cutting at the first underscore, so
// an object with no variant suffix ("toys/31000012.png") still yields
// its full code.
func ProductCode(objectName string) string {
	base := path.Base(objectName)
	base = strings.TrimSuffix(base, path.Ext(base))
	if code, _, found := strings.Cut(base, "_"); found {
		return code
	}
	return base
}

// Category returns the leading directory of an object path, which names
// the product category the object was filed under. Objects at the
// bucket root have no category and yield "".
func Category(objectName string) string {
	trimmed := strings.TrimPrefix(objectName, "/")
	if dir, _, found := strings.Cut(trimmed, "/"); found {
		return dir
	}
	return ""
}
