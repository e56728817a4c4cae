package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the entity type prefix baked into every generated identifier.
type Kind string

const (
	Organization Kind = "org"
	Campaign     Kind = "cmp"
	Token        Kind = "tok"
	Proposal     Kind = "prp"
	Provider     Kind = "prv"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns the next identifier for the given entity kind. Identifiers are
// lexicographically sortable and strictly monotonic within a process; callers
// never see or mutate the underlying counter state.
func New(kind Kind) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return string(kind) + "_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
