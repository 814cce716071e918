package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	for name, addr := range map[string]string{
		"host and port": mr.Addr(),
		"url":           "redis://" + mr.Addr() + "/0",
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewClient(addr)
			require.NoError(t, err)
			defer c.Close()
			assert.NoError(t, c.Ping(context.Background()).Err())
		})
	}

	_, err := NewClient("redis://localhost:6379/notanumber")
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	InitRedis(mr.Addr())
	require.NotNil(t, GetClient())
	require.NoError(t, Close())
	assert.Nil(t, GetClient())

	mr.Close()
	InitRedis(mr.Addr())
	assert.Nil(t, GetClient(), "unreachable redis leaves the client unset")
}

func TestRateLimitKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "rl:comments:user:42", RateLimitKey("comments", UserCaller("42")))
	assert.Equal(t, "rl:comments:ip:10.0.0.1", RateLimitKey("comments", IPCaller("10.0.0.1")))
}
