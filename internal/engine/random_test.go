package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterSource_StaysInRange(t *testing.T) {
	src := NewCounterSource(HashEntropy([]byte("salt")))
	for _, limit := range []int{1, 2, 7, 4000} {
		for i := 0; i < 200; i++ {
			v, err := src.Value(limit)
			require.NoError(t, err)
			require.GreaterOrEqual(t, v, 0)
			require.Less(t, v, limit)
		}
	}

	v, err := src.Value(0)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestCounterSource_SameSaltSameSequence(t *testing.T) {
	a := NewCounterSource(HashEntropy([]byte("salt")))
	b := NewCounterSource(HashEntropy([]byte("salt")))
	for i := 0; i < 20; i++ {
		va, _ := a.Value(1000)
		vb, _ := b.Value(1000)
		assert.Equal(t, va, vb)
	}
}

func TestCounterSource_EntropyFailure(t *testing.T) {
	src := NewCounterSource(func([32]byte) ([32]byte, error) {
		return [32]byte{}, errors.New("no entropy")
	})
	_, err := src.Value(10)
	require.ErrorIs(t, err, ErrRandomUnavailable)
}

type outOfRangeSource struct{}

func (outOfRangeSource) Value(limit int) (int, error) { return limit, nil }

func TestDraw_RejectsOutOfRange(t *testing.T) {
	_, err := draw(outOfRangeSource{}, 3)
	require.ErrorIs(t, err, ErrRandomUnavailable)
}

func TestNewProcessSource(t *testing.T) {
	src, err := NewProcessSource()
	require.NoError(t, err)
	v, err := src.Value(6)
	require.NoError(t, err)
	assert.Less(t, v, 6)
}
