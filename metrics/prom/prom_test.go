package prom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/cache"
	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/service"
	"github.com/IvanBrykalov/syncache/transport/transporttest"
)

func TestAdapter_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "syncache", nil)

	a.Hit()
	a.Hit()
	a.Miss()
	a.Evict(cache.EvictCapacity)
	a.Size(3)
	a.Read(model.KindFriends, "cacheOnly", service.SourceNone, failure.NotCached)
	a.Read(model.KindFriends, "cacheOnly", service.SourceCache, failure.Unknown)
	a.Fetch(model.KindFriends, 10*time.Millisecond, errors.New("boom"))
	a.Write(service.MethodUpdate, service.OutcomeRolledBack)
	a.Dropped(model.TopicFriends)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.evicts.WithLabelValues("capacity")))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.sizeEnt))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.reads.WithLabelValues("friends", "cacheOnly", "none", "not_cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.reads.WithLabelValues("friends", "cacheOnly", "cache", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.fetchErrors.WithLabelValues("friends", "transport_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.writes.WithLabelValues("update", "rolled-back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.dropped.WithLabelValues("friends-changed")))
}

func TestAdapter_WiredIntoService(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "syncache", prometheus.Labels{"app": "test"})

	fake := transporttest.NewFake()
	fake.Respond(transporttest.MethodFetch, service.PathFriends, []model.User{{ID: "u2"}})
	s, err := service.New(fake,
		service.WithMetrics(a),
		service.WithStore(service.NewStore(cache.Options[model.Key, any]{Metrics: a})),
		service.WithBus(bus.New(bus.WithMetrics(a))),
	)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	ctx := context.Background()
	require.NoError(t, s.SignIn(ctx, "u1"))

	key := model.Friends("u1")
	require.NoError(t, s.ReadAny(ctx, key, service.CacheFirst(false)).Err)
	require.NoError(t, s.ReadAny(ctx, key, service.CacheFirst(false)).Err)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.published.WithLabelValues("friends-changed")))
	assert.Equal(t, 1, testutil.CollectAndCount(a.fetchLatency))

	n, err := testutil.GatherAndCount(reg, "syncache_service_reads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
