package order

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NumberSource issues order numbers. It is a seam so tests can pin the
// generated number.
type NumberSource interface {
	Next() string
}

const (
	numberPrefix    = "ORD"
	numberSuffixLen = 9
	base36          = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NumberGenerator produces order numbers of the form
// ORD<epoch-millis><9 random base-36 chars>: unique with overwhelming
// probability and sortable by the embedded timestamp, but otherwise opaque.
type NumberGenerator struct {
	mu  sync.Mutex
	now func() time.Time
	rnd *rand.Rand
}

// NewNumberGenerator returns a generator seeded from the wall clock.
func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{
		now: time.Now,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next issues a fresh order number. Safe for concurrent use.
func (g *NumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sb strings.Builder
	sb.WriteString(numberPrefix)
	sb.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	for i := 0; i < numberSuffixLen; i++ {
		sb.WriteByte(base36[g.rnd.Intn(len(base36))])
	}
	return sb.String()
}
