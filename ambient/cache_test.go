package ambient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/recsync/core"
	"github.com/rushteam/recsync/metrics"
	"github.com/rushteam/recsync/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	coordsCalls atomic.Int32
	cityCalls   atomic.Int32
	failCoords  atomic.Bool
	failCity    atomic.Bool
	cities      []string
	mu          sync.Mutex

	gate chan struct{}
}

func (p *fakeProvider) WeatherByCoords(ctx context.Context, coords core.Coordinates) (core.AmbientContext, error) {
	p.coordsCalls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if p.failCoords.Load() {
		return core.AmbientContext{}, errors.New("coords failed")
	}
	return core.AmbientContext{Condition: core.ConditionRainy, City: "Busan", Temperature: 17}, nil
}

func (p *fakeProvider) WeatherByCity(ctx context.Context, city string) (core.AmbientContext, error) {
	p.cityCalls.Add(1)
	p.mu.Lock()
	p.cities = append(p.cities, city)
	p.mu.Unlock()
	if p.failCity.Load() {
		return core.AmbientContext{}, errors.New("city failed")
	}
	return core.AmbientContext{Condition: core.ConditionCloudy, City: city, Temperature: 12}, nil
}

func newTestCache(t *testing.T, p Provider, opts ...Option) (*Cache, *store.MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore(store.WithMemoryClock(clock))
	t.Cleanup(func() { _ = st.Close() })
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewCache(p, st, opts...), st, clock
}

func TestCache_ResolveByGeolocationAndCache(t *testing.T) {
	p := &fakeProvider{}
	m := metrics.New(prometheus.NewRegistry())
	c, st, _ := newTestCache(t, p, WithGeolocator(StaticGeolocator(core.Coordinates{Latitude: 35.1, Longitude: 129})), WithMetrics(m))
	ctx := context.Background()

	ac := c.Resolve(ctx)
	assert.Equal(t, core.ConditionRainy, ac.Condition)
	state := c.Current()
	assert.Equal(t, SourceGeolocation, state.Source)
	assert.True(t, state.Ready)
	assert.False(t, state.Loading)
	assert.False(t, state.Degraded)

	raw, err := st.Get(ctx, DefaultCacheKey)
	require.NoError(t, err)
	var e entry
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, "Busan", e.Data.City)

	ac = c.Resolve(ctx)
	assert.Equal(t, "Busan", ac.City)
	assert.Equal(t, SourceCache, c.Current().Source)
	assert.Equal(t, int32(1), p.coordsCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AmbientResolutions.WithLabelValues(string(SourceCache))))
}

func TestCache_TTLBoundary(t *testing.T) {
	p := &fakeProvider{}
	c, st, clock := newTestCache(t, p)
	ctx := context.Background()

	c.Resolve(ctx)
	require.Equal(t, int32(1), p.cityCalls.Load())

	clock.Advance(DefaultTTL - time.Millisecond)
	c.Resolve(ctx)
	assert.Equal(t, SourceCache, c.Current().Source, "T+TTL-1ms is a hit")
	assert.Equal(t, int32(1), p.cityCalls.Load())

	clock.Advance(2 * time.Millisecond)
	_, ok := c.readCache(ctx)
	assert.False(t, ok, "T+TTL+1ms is a miss")
	_, err := st.Get(ctx, DefaultCacheKey)
	assert.True(t, core.IsStoreNotFound(err), "expired entry is purged on read")

	c.Resolve(ctx)
	assert.Equal(t, SourceDefaultCity, c.Current().Source)
	assert.Equal(t, int32(2), p.cityCalls.Load())
}

func TestCache_GeolocationFailureFallsBackToDefaultCity(t *testing.T) {
	tests := []struct {
		name string
		geo  Geolocator
		fail bool
	}{
		{"denied", GeolocatorFunc(func(context.Context) (core.Coordinates, error) { return core.Coordinates{}, ErrGeolocationDenied }), false},
		{"timeout", GeolocatorFunc(func(ctx context.Context) (core.Coordinates, error) {
			<-ctx.Done()
			return core.Coordinates{}, ctx.Err()
		}), false},
		{"coords lookup failed", StaticGeolocator(core.Coordinates{}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{}
			p.failCoords.Store(tt.fail)
			c, _, _ := newTestCache(t, p, WithGeolocator(tt.geo), WithGeoTimeout(20*time.Millisecond), WithDefaultCity("Incheon"))

			ac := c.Resolve(context.Background())
			assert.Equal(t, "Incheon", ac.City)
			assert.Equal(t, SourceDefaultCity, c.Current().Source)
		})
	}
}

func TestCache_SyntheticFallback(t *testing.T) {
	p := &fakeProvider{}
	p.failCity.Store(true)
	c, st, _ := newTestCache(t, p)
	ctx := context.Background()

	ac := c.Resolve(ctx)
	assert.Equal(t, Fallback(DefaultCity), ac)
	assert.Equal(t, core.ConditionSunny, ac.Condition)
	assert.Equal(t, "theme-sunny", ac.ThemeClass)
	state := c.Current()
	assert.True(t, state.Degraded)
	assert.Equal(t, SourceFallback, state.Source)

	_, err := st.Get(ctx, DefaultCacheKey)
	assert.True(t, core.IsStoreNotFound(err), "synthetic default is not cached")
}

func TestCache_ManualIsolation(t *testing.T) {
	p := &fakeProvider{}
	c, st, _ := newTestCache(t, p)
	ctx := context.Background()

	ac, err := c.SetManual(core.ConditionSnowy)
	require.NoError(t, err)
	assert.True(t, ac.IsManual)
	assert.Equal(t, ManualCity, ac.City)
	assert.Equal(t, "13d", ac.Icon)
	assert.Equal(t, "눈", ac.DescriptionKo)
	assert.Equal(t, core.ConditionSnowy, c.Condition())
	assert.Equal(t, SourceManual, c.Current().Source)
	assert.Equal(t, 0, st.Len(), "manual selection is never persisted")
	assert.Equal(t, int32(0), p.cityCalls.Load())

	resolved := c.ResetToReal(ctx)
	assert.False(t, resolved.IsManual)
	assert.Equal(t, DefaultCity, resolved.City)
	assert.Equal(t, int32(1), p.cityCalls.Load(), "reset runs the cold pipeline")

	_, err = c.SetManual(core.Condition("foggy"))
	assert.True(t, core.IsInvalidInput(err))
}

func TestCache_ResetToRealPurgesCache(t *testing.T) {
	p := &fakeProvider{}
	c, _, _ := newTestCache(t, p)
	ctx := context.Background()

	c.Resolve(ctx)
	c.ResetToReal(ctx)
	assert.Equal(t, SourceDefaultCity, c.Current().Source)
	assert.Equal(t, int32(2), p.cityCalls.Load())
}

func TestCache_ManualEntryInStoreIsIgnored(t *testing.T) {
	p := &fakeProvider{}
	c, st, clock := newTestCache(t, p)
	ctx := context.Background()

	raw, err := json.Marshal(entry{Data: Representative(core.ConditionRainy), Timestamp: clock.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, DefaultCacheKey, raw))

	ac := c.Resolve(ctx)
	assert.False(t, ac.IsManual)
	assert.Equal(t, SourceDefaultCity, c.Current().Source)
}

func TestCache_FetchByCity(t *testing.T) {
	p := &fakeProvider{}
	c, st, _ := newTestCache(t, p)
	ctx := context.Background()

	ac, err := c.FetchByCity(ctx, "Jeju")
	require.NoError(t, err)
	assert.Equal(t, "Jeju", ac.City)
	assert.Equal(t, SourceCity, c.Current().Source)
	assert.Equal(t, 1, st.Len())

	p.failCity.Store(true)
	_, err = c.FetchByCity(ctx, "Daegu")
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err))
	assert.Equal(t, "Jeju", c.Current().Context.City, "failure keeps the current value")
	assert.False(t, c.Current().Loading)
}

func TestCache_ConcurrentResolveIsCoalesced(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	c, _, _ := newTestCache(t, p, WithGeolocator(StaticGeolocator(core.Coordinates{})))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Resolve(context.Background())
		}()
	}
	assert.Eventually(t, func() bool { return p.coordsCalls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.Current().Loading)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int32(1), p.coordsCalls.Load())
}

func TestCache_ManualDuringResolveWins(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	c, _, _ := newTestCache(t, p, WithGeolocator(StaticGeolocator(core.Coordinates{})))

	done := make(chan core.AmbientContext, 1)
	go func() { done <- c.Resolve(context.Background()) }()
	assert.Eventually(t, func() bool { return p.coordsCalls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := c.SetManual(core.ConditionSunny)
	require.NoError(t, err)
	close(p.gate)

	got := <-done
	assert.True(t, got.IsManual)
	assert.Equal(t, SourceManual, c.Current().Source)
}

func TestPresets(t *testing.T) {
	for _, cond := range core.Conditions() {
		r := Representative(cond)
		assert.Equal(t, cond, r.Condition)
		assert.NotEmpty(t, r.RecommendationMessage)
		assert.NotEmpty(t, r.DescriptionKo)
		assert.Equal(t, "theme-"+string(cond), r.ThemeClass)
	}
	assert.Equal(t, "10d", Representative(core.ConditionRainy).Icon)
	assert.Equal(t, "03d", Representative(core.ConditionCloudy).Icon)
}

// cancelAwareProvider 在 ctx 已取消时失败，与真实的 HTTP 请求一致
type cancelAwareProvider struct {
	*fakeProvider
}

func (p cancelAwareProvider) WeatherByCity(ctx context.Context, city string) (core.AmbientContext, error) {
	if err := ctx.Err(); err != nil {
		return core.AmbientContext{}, err
	}
	return p.fakeProvider.WeatherByCity(ctx, city)
}

func TestCache_ResolveIgnoresCallerCancel(t *testing.T) {
	p := cancelAwareProvider{&fakeProvider{}}
	c, _, _ := newTestCache(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ac := c.Resolve(ctx)
	assert.Equal(t, core.ConditionCloudy, ac.Condition)
	state := c.Current()
	assert.Equal(t, SourceDefaultCity, state.Source)
	assert.False(t, state.Degraded)
}
