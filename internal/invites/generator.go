package invites

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// CodePrefix marks shareable join codes.
const CodePrefix = "FAM-"

// NewID returns a time-ordered invite id backed by crypto entropy.
func NewID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate invite id: %w", err)
	}
	return id.String(), nil
}

// NewCode returns FAM- followed by six upper-case hex characters.
func NewCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return CodePrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}
