package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	plain, err := NewRedis(mr.Addr())
	require.NoError(t, err)
	defer plain.Close()
	assert.True(t, plain.Healthy(ctx))

	mr.RequireAuth("s3cret")
	withURL, err := NewRedis("redis://:s3cret@" + mr.Addr() + "/2")
	require.NoError(t, err)
	defer withURL.Close()
	assert.True(t, withURL.Healthy(ctx))
	assert.Equal(t, 2, withURL.Client.Options().DB)

	_, err = NewRedis("redis://" + mr.Addr() + "/notadb")
	assert.Error(t, err)
}

func TestRedisNilSafe(t *testing.T) {
	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}
