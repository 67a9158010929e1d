package paths

import (
	"regexp"
	"strings"
)

// drivePattern matches a single-letter Windows drive prefix like "C:" or "c:".
var drivePattern = regexp.MustCompile(`^([a-zA-Z]):(.*)$`)

// Normalize converts a path possibly written in Windows notation to the
// local mount convention: "C:\temp\x" becomes "/mnt/c/temp/x". Paths with
// no drive prefix are trimmed and get their separators normalized. The
// function never touches the filesystem.
func Normalize(path string) string {
	p := strings.ReplaceAll(strings.TrimSpace(path), "\\", "/")
	m := drivePattern.FindStringSubmatch(p)
	if m == nil {
		return p
	}
	drive := strings.ToLower(m[1])
	rest := strings.TrimLeft(m[2], "/")
	if rest == "" {
		return "/mnt/" + drive
	}
	return "/mnt/" + drive + "/" + rest
}
