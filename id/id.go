// Package id issues time-sortable identifiers for order tickets and
// journal rows.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator mints ULIDs from an injected clock and entropy source. Ids
// minted within the same millisecond keep increasing.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	mono *ulid.MonotonicEntropy
}

// NewGenerator returns a Generator reading time from now and randomness
// from entropy. A nil now uses time.Now; a nil entropy uses a math/rand
// source seeded from crypto/rand.
func NewGenerator(now func() time.Time, entropy io.Reader) *Generator {
	if now == nil {
		now = time.Now
	}
	if entropy == nil {
		entropy = seeded()
	}
	return &Generator{now: now, mono: ulid.Monotonic(entropy, 0)}
}

func seeded() io.Reader {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Next returns an id stamped with the generator's clock.
func (g *Generator) Next() (string, error) {
	return g.At(g.now())
}

// At returns an id stamped with t. It fails only when the monotonic
// entropy overflows within one millisecond.
func (g *Generator) At(t time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(t.UTC()), g.mono)
	if err != nil {
		return "", fmt.Errorf("mint id: %w", err)
	}
	return u.String(), nil
}

var std = NewGenerator(nil, nil)

// New returns a ULID for the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with t.
func NewAt(t time.Time) string {
	s, err := std.At(t)
	if err != nil {
		panic(err)
	}
	return s
}

// Time extracts the creation time from an id.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ulid.Time(u.Time()).UTC(), nil
}
