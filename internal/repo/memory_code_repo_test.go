package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hashHex = "0a0b0c"

func TestMemoryCodeRepo_ReplaceKeepsLatest(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryCodeRepo()

	first, err := r.ReplaceCode(ctx, "s1", hashHex, time.Now().Add(time.Minute))
	require.NoError(t, err)
	second, err := r.ReplaceCode(ctx, "s1", "ff", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	code, err := r.GetActiveBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, second, code.ID)
	assert.Equal(t, []byte{0xff}, code.CodeHash)

	_, err = r.IncrementAttempt(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound, "replaced code is gone")
}

func TestMemoryCodeRepo_ExpiredIsNotActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC)
	r := newMemoryCodeRepo(func() time.Time { return now })

	_, err := r.ReplaceCode(ctx, "s1", hashHex, now.Add(time.Minute))
	require.NoError(t, err)

	_, err = r.GetActiveBySession(ctx, "s1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = r.GetActiveBySession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCodeRepo_ConsumeAndAttempts(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryCodeRepo()

	id, err := r.ReplaceCode(ctx, "s1", hashHex, time.Now().Add(time.Minute))
	require.NoError(t, err)

	n, err := r.IncrementAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.IncrementAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.MarkConsumed(ctx, id))
	_, err = r.GetActiveBySession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCodeRepo_BadHash(t *testing.T) {
	_, err := NewMemoryCodeRepo().ReplaceCode(context.Background(), "s1", "zz", time.Now())
	assert.Error(t, err)
}
