package id

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// New returns a random UUID, falling back to a time-based one when the
// system entropy source fails.
func New() string {
	if u, err := uuid.NewRandom(); err == nil {
		return u.String()
	}
	if u, err := uuid.NewUUID(); err == nil {
		return u.String()
	}
	return "t" + strconv.FormatInt(time.Now().UnixNano(), 36)
}
