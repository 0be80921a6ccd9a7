package territory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// NormalizeHandle turns a display name into a URL-safe territory handle:
// accents are stripped, everything is lowercased, runs of separators
// collapse to single hyphens. "Vale do Capão" -> "vale-do-capao".
func NormalizeHandle(raw string) (string, error) {
	stripped, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), raw)
	if err != nil {
		return "", fmt.Errorf("normalize handle: %w", err)
	}

	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	handle := strings.Trim(b.String(), "-")

	if len(handle) < 3 || len(handle) > 60 || !handlePattern.MatchString(handle) {
		return "", fmt.Errorf("%w: handle must normalize to 3-60 chars of [a-z0-9-]", shared.ErrValidation)
	}
	return handle, nil
}
