package generate

import (
	"path/filepath"
	"strings"
)

const maxAppNameLength = 63

// appName derives a DNS-1123 label from a repository or directory name.
func appName(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	lastDash := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > maxAppNameLength {
		name = strings.TrimRight(name[:maxAppNameLength], "-")
	}
	if name == "" {
		return "app"
	}
	return name
}

func dirAppName(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return appName(filepath.Base(dir))
	}
	return appName(filepath.Base(abs))
}
