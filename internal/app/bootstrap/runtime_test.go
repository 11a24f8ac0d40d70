package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/hospital-scheduling-admin/internal/config"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

func TestBuildRedisClientWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, logging.Discard(), true))
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Discard(), true))
}

func TestConnectPostgresEmptyURL(t *testing.T) {
	assert.Nil(t, ConnectPostgres(context.Background(), " ", logging.Discard()))
}

func TestBuildStoresLeavesNilStoresOut(t *testing.T) {
	stores := BuildStores(&appconfig.Config{}, nil, nil)
	cfg := stores.WatchConfig(watch.Config{Interval: time.Second})

	assert.Nil(t, cfg.Cache)
	assert.Nil(t, cfg.Recorder)
	assert.Equal(t, time.Second, cfg.Interval)
}

func TestBuildStoresWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	defer client.Close()

	stores := BuildStores(&appconfig.Config{JobStatusCacheTTL: time.Hour}, client, nil)
	require.NotNil(t, stores.Cache)
	assert.NotNil(t, stores.WatchConfig(watch.Config{}).Cache)
}
