// Package keygen produces random, range-bounded integer primary keys for
// registry records. Keys are short enough to be dictated over the phone but
// drawn from a crypto-strength source, so identifiers exposed in URLs stay
// non-guessable.
package keygen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

// Generator yields int64 keys with exactly Length decimal digits. The
// configured prefix occupies the high-order digits, so generators configured
// with distinct prefixes draw from disjoint key ranges.
type Generator struct {
	length int
	prefix int64
	base   int64
	span   *big.Int
}

func New(length int, prefix int64) (*Generator, error) {
	if length < 2 || length > 18 {
		return nil, fmt.Errorf("key length %d out of range [2, 18]", length)
	}
	if prefix <= 0 {
		return nil, fmt.Errorf("key prefix must be positive, got %d", prefix)
	}

	prefixDigits := len(strconv.FormatInt(prefix, 10))
	suffixDigits := length - prefixDigits
	if suffixDigits < 1 {
		return nil, fmt.Errorf("prefix %d leaves no room for random digits in a %d-digit key", prefix, length)
	}

	span := int64(1)
	for i := 0; i < suffixDigits; i++ {
		span *= 10
	}

	return &Generator{
		length: length,
		prefix: prefix,
		base:   prefix * span,
		span:   big.NewInt(span),
	}, nil
}

// Next returns a fresh uniformly random key from the generator's range.
func (g *Generator) Next() (int64, error) {
	n, err := rand.Int(rand.Reader, g.span)
	if err != nil {
		return 0, fmt.Errorf("reading random source: %w", err)
	}
	return g.base + n.Int64(), nil
}

// Length returns the decimal digit count of generated keys.
func (g *Generator) Length() int { return g.length }

// InsertFunc performs one insert attempt with the supplied key.
type InsertFunc func(ctx context.Context, key int64) error

// ExhaustionError reports a create that spent its whole retry budget on
// primary-key collisions. Rejected carries the payload that could not be
// stored, for operator diagnosis.
type ExhaustionError struct {
	Attempts int
	LastKey  int64
	Rejected any
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("key generation exhausted after %d attempts (last key %d)", e.Attempts, e.LastKey)
}

// WithRetry draws a fresh key from gen before each attempt and runs insert
// with it. An error judged a collision by collided consumes one attempt; any
// other error propagates unchanged. Spending the whole budget returns an
// *ExhaustionError carrying payload.
//
// This is optimistic concurrency with no locking: the key space vastly
// exceeds plausible concurrent insert rates, so collisions stay rare and the
// bounded budget keeps a pathological key space from hanging a request.
func WithRetry(ctx context.Context, gen *Generator, attempts int, payload any, collided func(error) bool, insert InsertFunc) (int64, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastKey int64
	for i := 0; i < attempts; i++ {
		key, err := gen.Next()
		if err != nil {
			return 0, err
		}
		lastKey = key

		err = insert(ctx, key)
		if err == nil {
			return key, nil
		}
		if !collided(err) {
			return 0, err
		}
	}

	return 0, &ExhaustionError{Attempts: attempts, LastKey: lastKey, Rejected: payload}
}
