// Package recordid derives the deterministic document _id used for
// every ingested record from its composite primary-key parts — §4.6.
package recordid

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/litp/platform/pkg/errs"
)

// separator joins canonical key parts; it is outside the expected
// alphabet of any primary-key value so two differently-split part
// sequences can never collide on the joined string.
const separator = "\x1f"

// Generate derives a 43-character URL-safe base64 (no padding) SHA-256
// digest of parts, joined by an ASCII unit-separator. Every part must
// be non-empty after trimming whitespace.
func Generate(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", errs.New(errs.InputInvalid, "recordid: no key parts given")
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", errs.New(errs.InputInvalid, "recordid: null or empty key part")
		}
	}

	canonical := strings.Join(parts, separator)
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
