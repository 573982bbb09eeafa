package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Source yields integers in [0, limit). Implementations may fail; callers
// treat a failure as ErrRandomUnavailable and leave state untouched.
type Source interface {
	Value(limit int) (int, error)
}

// Entropy is the host randomness primitive: it maps a 32-byte input to a
// 32-byte output.
type Entropy func(input [32]byte) ([32]byte, error)

// CounterSource combines a monotonically advancing counter with an Entropy
// primitive. It is predictable to anyone who knows the entropy salt and the
// counter, so it is fit for casual play only and gives no fairness guarantee
// against an adversarial participant.
type CounterSource struct {
	mu      sync.Mutex
	counter uint64
	entropy Entropy
}

func NewCounterSource(entropy Entropy) *CounterSource {
	return &CounterSource{entropy: entropy}
}

func (c *CounterSource) Value(limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	c.mu.Lock()
	seed := c.counter
	c.counter++
	c.mu.Unlock()

	var input [32]byte
	for i := 0; i < len(input); i += 8 {
		binary.LittleEndian.PutUint64(input[i:], seed)
	}

	out, err := c.entropy(input)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}
	return int(binary.LittleEndian.Uint64(out[:8]) % uint64(limit)), nil
}

// HashEntropy derives output by hashing a fixed salt with the input.
func HashEntropy(salt []byte) Entropy {
	return func(input [32]byte) ([32]byte, error) {
		h := sha256.New()
		h.Write(salt)
		h.Write(input[:])
		var out [32]byte
		copy(out[:], h.Sum(nil))
		return out, nil
	}
}

// NewProcessSource returns a CounterSource salted once from crypto/rand.
func NewProcessSource() (*CounterSource, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read entropy salt: %w", err)
	}
	return NewCounterSource(HashEntropy(salt)), nil
}

func shuffle(ids []ID, rng Source) ([]ID, error) {
	out := append([]ID(nil), ids...)
	for i := len(out) - 1; i > 0; i-- {
		j, err := draw(rng, i+1)
		if err != nil {
			return nil, err
		}
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func draw(rng Source, limit int) (int, error) {
	v, err := rng.Value(limit)
	if err != nil {
		if errors.Is(err, ErrRandomUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}
	if limit > 0 && (v < 0 || v >= limit) {
		return 0, fmt.Errorf("%w: value %d outside [0, %d)", ErrRandomUnavailable, v, limit)
	}
	return v, nil
}
