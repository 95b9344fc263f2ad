package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	return CreateULIDAt(time.Now())
}

// CreateULIDAt returns a ULID whose timestamp component is ts.
func CreateULIDAt(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}

// Prefixed returns prefix + "-" + a fresh ULID. Used for correlation ids that
// must stay readable in logs (for example "call-01J...").
func Prefixed(prefix string) string {
	if prefix == "" {
		return CreateULID()
	}
	return prefix + "-" + CreateULID()
}

// Time extracts the timestamp embedded in a ULID string.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
