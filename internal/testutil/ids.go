package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// SequentialIDs generates predictable UUIDs: the first call returns
// 00000000-0000-0000-0000-000000000001, the next ...0002, and so on.
//
// This keeps ids in test assertions and golden output stable across runs.
//
// Thread-safety: Next is safe for concurrent use.
type SequentialIDs struct {
	mu  sync.Mutex
	seq uint64
}

// NewSequentialIDs creates a generator starting at 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Next returns the next id.
func (g *SequentialIDs) Next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], g.seq)
	return id
}

// ID returns the id Next returned on its n-th call.
func ID(n uint64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], n)
	return id
}
