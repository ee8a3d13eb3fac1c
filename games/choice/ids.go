/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package choice

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out registry and round ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator returns random version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator counts upward from the value it was created with, so
// NewSequenceGenerator(0) yields "1", "2", ...
type SequenceGenerator struct {
	n atomic.Uint64
}

func NewSequenceGenerator(start uint64) *SequenceGenerator {
	g := &SequenceGenerator{}
	g.n.Store(start)
	return g
}

func (g *SequenceGenerator) NewID() string {
	return strconv.FormatUint(g.n.Add(1), 10)
}
