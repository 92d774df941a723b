// Package codes generates the public certificate codes printed on every document.
//
// Codes have the shape PREFIX-{companyId}-{unixMillis}-{6 uppercase alphanumerics}.
// Generation does not check uniqueness; the certificates table carries a unique
// index on the code and callers retry with a fresh code on collision.
package codes

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "CERT"

const (
	suffixLength = 6
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator produces certificate codes.
type Generator struct {
	prefix string
	now    func() time.Time
	random io.Reader
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithEntropy replaces the random source used for the suffix.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// NewGenerator creates a generator for the given prefix.
func NewGenerator(prefix string, opts ...Option) *Generator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultPrefix
	}
	g := &Generator{prefix: prefix, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prefix returns the configured prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate returns a new code for companyID.
func (g *Generator) Generate(companyID int64) (string, error) {
	suffix, err := g.suffix()
	if err != nil {
		return "", fmt.Errorf("failed to read code entropy: %w", err)
	}
	return fmt.Sprintf("%s-%d-%d-%s", g.prefix, companyID, g.now().UnixMilli(), suffix), nil
}

// unbiasedLimit is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are discarded so every symbol is equally likely.
const unbiasedLimit = 256 - 256%len(alphabet)

func (g *Generator) suffix() (string, error) {
	out := make([]byte, 0, suffixLength)
	buf := make([]byte, suffixLength)
	for len(out) < suffixLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= unbiasedLimit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == suffixLength {
				break
			}
		}
	}
	return string(out), nil
}

var codePattern = regexp.MustCompile(`^([A-Z0-9]+)-(\d+)-(\d+)-([A-Z0-9]{6})$`)

// Parsed holds the components of a well-formed code.
type Parsed struct {
	Prefix    string
	CompanyID int64
	IssuedAt  time.Time
	Suffix    string
}

// Parse validates the shape of code and splits it into its components.
func Parse(code string) (*Parsed, error) {
	m := codePattern.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return nil, fmt.Errorf("malformed certificate code %q", code)
	}
	companyID, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed company id in code %q: %w", code, err)
	}
	millis, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed timestamp in code %q: %w", code, err)
	}
	return &Parsed{
		Prefix:    m[1],
		CompanyID: companyID,
		IssuedAt:  time.UnixMilli(millis).UTC(),
		Suffix:    m[4],
	}, nil
}
