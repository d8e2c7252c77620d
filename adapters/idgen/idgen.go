// Package idgen generates purchase and usage-event identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/creditgate/ports"
)

// UUID issues prefixed, time-ordered UUIDs ("pur_0192...").
// Version 7 ids sort by creation time, which keeps ledger primary-key
// inserts append-mostly.
type UUID struct {
	Prefix string
}

func (g UUID) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return g.Prefix + uuid.NewString()
	}
	return g.Prefix + id.String()
}

// Sequential issues prefix1, prefix2, ... for deterministic tests.
type Sequential struct {
	prefix string
	n      atomic.Uint64
}

func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
