// Package uid generates the server-assigned identifiers used for upload
// resources: 128 bits of randomness rendered as 32 lowercase hex characters.
package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a fresh 128-bit id rendered as 32 lowercase hex characters,
// with no dashes.
func New() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
