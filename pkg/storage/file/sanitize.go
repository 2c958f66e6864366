package file

import (
	"regexp"
	"strings"
)

// Rules for mapping arbitrary key names onto portable file names. Anything
// that could escape the root, collide with OS-reserved names, or break on a
// Windows filesystem is replaced with "_". The original name is preserved in
// the sidecar so listings can recover it.

const maxFileNameLength = 255

var (
	unsafeChars = regexp.MustCompile(`[\\/|:<>"'^?*\x00-\x1f]`)

	// Windows device names are reserved with or without an extension.
	reservedNames = regexp.MustCompile(`(?i)^(CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])(\..*)?$`)
)

// SanitizeName maps an arbitrary name onto a safe on-disk file name. The
// storage factory uses it for namespace directories so persistence roots
// follow the same rules as keys.
func SanitizeName(name string) string {
	return sanitizeFileName(name)
}

// sanitizeFileName maps key onto a safe on-disk file name. The result may
// collide for distinct keys; callers must store the original name when the
// mapping changed it.
func sanitizeFileName(key string) string {
	name := key
	if name == "." || name == ".." {
		return strings.Repeat("_", len(name))
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	if m := reservedNames.FindStringSubmatch(name); m != nil {
		name = strings.Repeat("_", len(m[1])) + m[2]
	}
	name = strings.TrimRight(name, " .")
	if len(name) > maxFileNameLength {
		name = name[:maxFileNameLength]
	}
	if name == "" {
		name = "_"
	}
	return name
}
