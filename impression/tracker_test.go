package impression

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/recsync/metrics"
	"github.com/rushteam/recsync/pkg/dsl"
)

type impressionCall struct {
	section string
	ids     []int64
	count   int
}

type recordingSink struct {
	mu    sync.Mutex
	calls []impressionCall
}

func (s *recordingSink) TrackImpression(_ context.Context, section string, ids []int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, impressionCall{section: section, ids: ids, count: count})
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeRegion 手动驱动可见比例
type fakeRegion struct {
	mu        sync.Mutex
	live      bool
	threshold float64
	fn        func(float64)
	stops     int
	observed  int
	// immediate 非零时 Observe 返回前就以该比例回调一次
	immediate float64
}

func (r *fakeRegion) Live() bool { return r.live }

func (r *fakeRegion) Observe(threshold float64, fn func(float64)) func() {
	r.mu.Lock()
	r.threshold = threshold
	r.fn = fn
	r.observed++
	r.mu.Unlock()
	if r.immediate > 0 {
		fn(r.immediate)
	}
	return func() {
		r.mu.Lock()
		r.fn = nil
		r.stops++
		r.mu.Unlock()
	}
}

func (r *fakeRegion) set(ratio float64) {
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		fn(ratio)
	}
}

func (r *fakeRegion) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func ids(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestTracker_FiresOnceAcrossEnterExitEnter(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New(prometheus.NewRegistry())
	tr := NewTracker(sink, WithMetrics(m))
	region := &fakeRegion{live: true}

	o := tr.Attach(region, "weather", ids(15), true)
	require.True(t, o.Watching())
	assert.Equal(t, DefaultThreshold, region.threshold)

	region.set(0.1)
	assert.Equal(t, 0, sink.len(), "below threshold")

	region.set(0.5)
	region.set(0)
	region.set(0.9)

	require.Equal(t, 1, sink.len())
	call := sink.calls[0]
	assert.Equal(t, "weather", call.section)
	assert.Equal(t, ids(10), call.ids)
	assert.Equal(t, 15, call.count)
	assert.True(t, o.Fired())
	assert.Equal(t, 1, region.stopCount(), "observation stops after firing")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImpressionsFired))

	o.Release()
	assert.Equal(t, 1, region.stopCount())
}

func TestTracker_ConcurrentCallbacksFireOnce(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)

	var fn func(float64)
	region := &fakeRegion{live: true}
	tr.Attach(region, "trending", ids(3), true)
	fn = region.fn

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(1.0)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sink.len())
}

func TestTracker_NoOpCases(t *testing.T) {
	tests := []struct {
		name    string
		region  Region
		ids     []int64
		enabled bool
	}{
		{"empty payload", &fakeRegion{live: true}, nil, true},
		{"disabled", &fakeRegion{live: true}, ids(3), false},
		{"detached region", &fakeRegion{live: false}, ids(3), true},
		{"nil region", nil, ids(3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			o := NewTracker(sink).Attach(tt.region, "s", tt.ids, tt.enabled)
			assert.False(t, o.Watching())
			if r, ok := tt.region.(*fakeRegion); ok {
				assert.Equal(t, 0, r.observed)
			}
			o.Release()
			assert.False(t, o.Fired())
			assert.Equal(t, 0, sink.len())
		})
	}
}

func TestTracker_ReleaseBeforeVisible(t *testing.T) {
	sink := &recordingSink{}
	region := &fakeRegion{live: true}
	o := NewTracker(sink).Attach(region, "s", ids(2), true)

	o.Release()
	assert.Equal(t, 1, region.stopCount())
	region.set(1)
	assert.Equal(t, 0, sink.len())
}

func TestTracker_FiresDuringObserve(t *testing.T) {
	sink := &recordingSink{}
	region := &fakeRegion{live: true, immediate: 0.8}
	o := NewTracker(sink).Attach(region, "s", ids(2), true)

	assert.True(t, o.Fired())
	assert.Equal(t, 1, sink.len())
	assert.Equal(t, 1, region.stopCount(), "stop handed back after firing is still called")
}

func TestTracker_PayloadSnapshot(t *testing.T) {
	sink := &recordingSink{}
	region := &fakeRegion{live: true}
	payload := ids(3)
	NewTracker(sink, WithSampleSize(2)).Attach(region, "s", payload, true)

	payload[0] = 99
	region.set(1)
	require.Equal(t, 1, sink.len())
	assert.Equal(t, []int64{1, 2}, sink.calls[0].ids)
	assert.Equal(t, 3, sink.calls[0].count)
}

func TestTracker_Rule(t *testing.T) {
	rule, err := dsl.Compile(`count >= 3 && weather != "snowy"`)
	require.NoError(t, err)

	weather := "rainy"
	tr := NewTracker(&recordingSink{}, WithRule(rule), WithWeather(func() string { return weather }), WithThreshold(0.5))

	assert.False(t, tr.Attach(&fakeRegion{live: true}, "s", ids(2), true).Watching())

	region := &fakeRegion{live: true}
	assert.True(t, tr.Attach(region, "s", ids(3), true).Watching())
	assert.Equal(t, 0.5, region.threshold)

	weather = "snowy"
	assert.False(t, tr.Attach(&fakeRegion{live: true}, "s", ids(3), true).Watching())
}

func TestTracker_CallbackAfterReleaseIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink)
	region := &fakeRegion{live: true}

	o := tr.Attach(region, "trending", []int64{1, 2}, true)
	region.mu.Lock()
	late := region.fn
	region.mu.Unlock()
	require.NotNil(t, late)

	o.Release()
	// 已排队的可见性回调在卸载后才执行
	late(0.9)

	assert.Equal(t, 0, sink.len())
	assert.False(t, o.Fired())
	assert.Equal(t, 1, region.stopCount())
}
