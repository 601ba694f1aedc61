// Package idgen generates lexicographically sortable identifiers for
// correlation and causation tracking.
package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// MustGenerateSortableID returns a new ULID string. IDs generated later sort
// after IDs generated earlier.
func MustGenerateSortableID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}
