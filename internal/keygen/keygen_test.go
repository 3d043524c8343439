package keygen_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscreen/screening-registry/internal/keygen"
)

var errDuplicateKey = errors.New("duplicate key")

func isCollision(err error) bool {
	return errors.Is(err, errDuplicateKey)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		length int
		prefix int64
	}{
		{"length too short", 1, 1},
		{"length too long", 19, 1},
		{"zero prefix", 8, 0},
		{"negative prefix", 8, -2},
		{"prefix fills key", 4, 1234},
		{"prefix overflows key", 4, 12345},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := keygen.New(tc.length, tc.prefix)
			assert.Error(t, err)
		})
	}
}

func TestNextDigitCountAndPrefix(t *testing.T) {
	gen, err := keygen.New(8, 27)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		key, err := gen.Next()
		require.NoError(t, err)

		s := strconv.FormatInt(key, 10)
		assert.Len(t, s, 8, "key %d has wrong digit count", key)
		assert.Equal(t, "27", s[:2], "key %d lost its prefix", key)
	}
}

func TestDistinctPrefixesNeverCollide(t *testing.T) {
	genA, err := keygen.New(6, 1)
	require.NoError(t, err)
	genB, err := keygen.New(6, 2)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		a, err := genA.Next()
		require.NoError(t, err)
		b, err := genB.Next()
		require.NoError(t, err)

		assert.GreaterOrEqual(t, a, int64(100000))
		assert.Less(t, a, int64(200000))
		assert.GreaterOrEqual(t, b, int64(200000))
		assert.Less(t, b, int64(300000))
	}
}

func TestWithRetrySucceedsAfterCollisions(t *testing.T) {
	gen, err := keygen.New(8, 1)
	require.NoError(t, err)

	attempts := 0
	insert := func(ctx context.Context, key int64) error {
		attempts++
		if attempts <= 2 {
			return errDuplicateKey
		}
		return nil
	}

	key, err := keygen.WithRetry(context.Background(), gen, 3, nil, isCollision, insert)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NotZero(t, key)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	gen, err := keygen.New(8, 1)
	require.NoError(t, err)

	attempts := 0
	insert := func(ctx context.Context, key int64) error {
		attempts++
		return errDuplicateKey
	}

	payload := map[string]string{"name": "rejected"}
	_, err = keygen.WithRetry(context.Background(), gen, 3, payload, isCollision, insert)

	var exhausted *keygen.ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, payload, exhausted.Rejected)
	assert.NotZero(t, exhausted.LastKey)
}

func TestWithRetryPropagatesOtherErrors(t *testing.T) {
	gen, err := keygen.New(8, 1)
	require.NoError(t, err)

	errStore := errors.New("connection reset")
	attempts := 0
	insert := func(ctx context.Context, key int64) error {
		attempts++
		return errStore
	}

	_, err = keygen.WithRetry(context.Background(), gen, 3, nil, isCollision, insert)
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, 1, attempts, "non-collision errors must not be retried")
}
