package redis

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyURLDisablesRedis(t *testing.T) {
	c, err := New(context.Background(), DefaultConfig(""))
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNew_RejectsMalformedURL(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig("mysql://nope"))
	assert.Error(t, err)
}

func TestCollector_ExportsPoolStats(t *testing.T) {
	c := &Client{Client: goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})}
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, 3, testutil.CollectAndCount(c.Collector()))
	assert.Equal(t, 1, testutil.CollectAndCount(c.Collector(), "credentials_redis_pool_idle_conns"))
}
