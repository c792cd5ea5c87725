// Package ids generates and validates the opaque identifiers used
// throughout a run: the run id itself and sanitized component names used
// in config/redaction rule ids.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

var (
	reInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
	reDashes  = regexp.MustCompile(`-+`)
	reRunID   = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}Z-[0-9a-f]{6}$`)
)

// NewRunID returns a monotonic-enough, collision-resistant run id of the
// form YYYYMMDD-HHMMSSZ-<hex6>.
func NewRunID(now time.Time) (string, error) {
	prefix := now.UTC().Format("20060102-150405Z")

	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return prefix + "-" + hex.EncodeToString(b[:]), nil
}

// IsValidRunID reports whether s matches the run id format.
func IsValidRunID(s string) bool {
	return reRunID.MatchString(strings.TrimSpace(s))
}

// SanitizeComponent lower-cases s and restricts it to [a-z0-9-], collapsing
// runs of invalid characters and dashes. Used for redaction rule ids and
// other user-supplied identifiers that end up in file paths or attribute
// keys.
func SanitizeComponent(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "_", "-")
	v = reInvalid.ReplaceAllString(v, "-")
	v = reDashes.ReplaceAllString(v, "-")
	v = strings.Trim(v, "-")
	return v
}
