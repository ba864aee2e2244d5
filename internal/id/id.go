package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random job identifier without dashes so it is safe to use
// as a path token.
func New() string {
	u, err := uuid.NewRandom()
	if err != nil {
		// time-based fallback when the random source is unavailable
		if u, err = uuid.NewUUID(); err != nil {
			return "job-fallback-id"
		}
	}
	return strings.ReplaceAll(u.String(), "-", "")
}
