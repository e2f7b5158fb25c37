// Package codegen produces opaque license code tokens. A single Generator is
// shared by both issuance channels so the alphabet and length cannot drift
// between them.
package codegen

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Generator is a stateless code factory. Safe for concurrent use.
type Generator struct {
	alphabet string
	length   int
	prefix   string
}

// New returns a Generator drawing length characters from alphabet. When prefix
// is non-empty, codes take the form PREFIX-<segment>-<8 uuid hex>, uppercased;
// otherwise the code is the bare random segment.
func New(alphabet string, length int, prefix string) *Generator {
	return &Generator{alphabet: alphabet, length: length, prefix: prefix}
}

func (g *Generator) Generate() string {
	segment := g.randomSegment()
	if g.prefix == "" {
		return segment
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ToUpper(g.prefix + "-" + segment + "-" + suffix)
}

func (g *Generator) randomSegment() string {
	max := big.NewInt(int64(len(g.alphabet)))
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform entropy source is broken.
			panic("codegen: entropy source unavailable: " + err.Error())
		}
		b.WriteByte(g.alphabet[n.Int64()])
	}
	return b.String()
}
