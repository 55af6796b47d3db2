package workspace

import (
	"bufio"
	"bytes"
	"strings"
)

// pickBundlePath selects one .app path from mdfind output, preferring the system
// application folders.
func pickBundlePath(out []byte) (string, bool) {
	var first string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasSuffix(line, ".app") {
			continue
		}
		if strings.HasPrefix(line, "/Applications/") || strings.HasPrefix(line, "/System/Applications/") {
			return line, true
		}
		if first == "" {
			first = line
		}
	}
	return first, first != ""
}
