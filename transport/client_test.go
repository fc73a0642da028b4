package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/recsync/core"
)

// fakeService 是远程服务的最小替身
type fakeService struct {
	mu        sync.Mutex
	favorites map[int64]bool
	ratings   []ratingRequest
	batches   [][]core.Event
	auth      []string

	weatherCalls atomic.Int32
	weatherFail  atomic.Bool
}

func newFakeService() *fakeService {
	return &fakeService{favorites: make(map[int64]bool)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeService) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.auth = append(f.auth, r.Header.Get("Authorization"))
			f.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/interactions/movie/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if id == 404 {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Movie not found"})
			return
		}
		if id == 500 {
			writeJSON(w, http.StatusOK, map[string]any{"movie_id": 501})
			return
		}
		f.mu.Lock()
		fav := f.favorites[id]
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"movie_id": id, "rating": 4.5, "is_favorited": fav})
	})
	r.Post("/interactions/movies", func(w http.ResponseWriter, r *http.Request) {
		var ids []int64
		if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad body"})
			return
		}
		out := map[string]any{}
		for _, id := range ids {
			out[strconv.FormatInt(id, 10)] = map[string]any{"movie_id": id, "rating": nil, "is_favorited": id%2 == 0}
		}
		writeJSON(w, http.StatusOK, map[string]any{"interactions": out})
	})
	r.Post("/interactions/favorite/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		f.mu.Lock()
		f.favorites[id] = !f.favorites[id]
		fav := f.favorites[id]
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"movie_id": id, "is_favorited": fav, "message": "ok"})
	})
	r.Post("/ratings", func(w http.ResponseWriter, r *http.Request) {
		var req ratingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.ratings = append(f.ratings, req)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": 1})
	})
	r.Post("/events/batch", func(w http.ResponseWriter, r *http.Request) {
		var batch core.EventBatch
		_ = json.NewDecoder(r.Body).Decode(&batch)
		f.mu.Lock()
		f.batches = append(f.batches, batch.Events)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"count": len(batch.Events)})
	})
	r.Get("/weather", func(w http.ResponseWriter, r *http.Request) {
		f.weatherCalls.Add(1)
		if f.weatherFail.Load() {
			writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "upstream down"})
			return
		}
		city := r.URL.Query().Get("city")
		if city == "" {
			city = "Busan"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"condition":   "rainy",
			"temperature": 18.5,
			"city":        city,
			"is_manual":   true,
		})
	})
	return r
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *fakeService) {
	t.Helper()
	svc := newFakeService()
	srv := httptest.NewServer(svc.router())
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(cfg, opts...), svc
}

func TestClient_GetInteraction(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	it, err := c.GetInteraction(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), it.ItemID)
	require.NotNil(t, it.Rating)
	assert.Equal(t, 4.5, *it.Rating)

	_, err = c.GetInteraction(ctx, 404)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
	assert.Contains(t, err.Error(), "Movie not found")

	_, err = c.GetInteraction(ctx, 500)
	require.Error(t, err)
	assert.True(t, core.IsInvalidInput(err), "mismatched movie_id is malformed")
}

func TestClient_GetInteractions(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	got, err := c.GetInteractions(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.False(t, got[1].IsFavorited)
	assert.True(t, got[2].IsFavorited)
	assert.Nil(t, got[3].Rating)
}

func TestClient_ToggleFavoriteAndRate(t *testing.T) {
	c, svc := newTestClient(t, Config{}, WithTokenSource(func() string { return "tok" }))
	ctx := context.Background()

	fav, err := c.ToggleFavorite(ctx, 7)
	require.NoError(t, err)
	assert.True(t, fav)
	fav, err = c.ToggleFavorite(ctx, 7)
	require.NoError(t, err)
	assert.False(t, fav)

	require.NoError(t, c.RateMovie(ctx, 7, 3.5, "rainy"))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.ratings, 1)
	assert.Equal(t, ratingRequest{ItemID: 7, Score: 3.5, WeatherContext: "rainy"}, svc.ratings[0])
	for _, h := range svc.auth {
		assert.Equal(t, "Bearer tok", h)
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	c, svc := newTestClient(t, Config{})
	_, err := c.GetInteraction(context.Background(), 1)
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []string{""}, svc.auth)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.GetInteraction(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, core.IsTimeout(err))
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := c.ToggleFavorite(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err))
}

func TestClient_SendEvents(t *testing.T) {
	c, svc := newTestClient(t, Config{})
	events := []core.Event{
		{EventType: core.EventMovieClick, ItemID: core.ItemRef(1), SessionID: "s"},
		{EventType: core.EventSearch, SessionID: "s", Metadata: map[string]any{"query": "matrix"}},
	}
	require.NoError(t, c.SendEvents(context.Background(), events))
	require.NoError(t, c.SendEvents(context.Background(), nil))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.batches, 1)
	assert.Equal(t, events[0].EventType, svc.batches[0][0].EventType)
	assert.Equal(t, "matrix", svc.batches[0][1].Metadata["query"])
}

func TestClient_SendEventsRateLimited(t *testing.T) {
	c, _ := newTestClient(t, Config{EventsPerMinute: 1, EventsBurst: 1})
	ev := []core.Event{{EventType: core.EventSearch, SessionID: "s"}}

	require.NoError(t, c.SendEvents(context.Background(), ev))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.SendEvents(ctx, ev)
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err))
}

func TestClient_BeaconEvents(t *testing.T) {
	c, svc := newTestClient(t, Config{})
	events := []core.Event{{EventType: core.EventMovieDetailLeave, ItemID: core.ItemRef(9), SessionID: "s"}}

	c.BeaconEvents(events)
	// 调用方随后修改切片不影响已交出的批次
	events[0].SessionID = "mutated"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.batches, 1)
	assert.Equal(t, "s", svc.batches[0][0].SessionID)
}

func TestClient_Weather(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	ac, err := c.WeatherByCoords(ctx, core.Coordinates{Latitude: 35.1, Longitude: 129.0})
	require.NoError(t, err)
	assert.Equal(t, core.ConditionRainy, ac.Condition)
	assert.Equal(t, "Busan", ac.City)
	assert.False(t, ac.IsManual, "remote records are never manual")

	ac, err = c.WeatherByCity(ctx, "Seoul")
	require.NoError(t, err)
	assert.Equal(t, "Seoul", ac.City)

	_, err = c.WeatherByCity(ctx, "")
	assert.True(t, core.IsInvalidInput(err))
}

func TestClient_WeatherBreakerOpens(t *testing.T) {
	c, svc := newTestClient(t, Config{BreakerFailures: 2, BreakerTimeout: time.Minute})
	svc.weatherFail.Store(true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.WeatherByCity(ctx, "Seoul")
		require.Error(t, err)
	}
	_, err := c.WeatherByCity(ctx, "Seoul")
	require.Error(t, err)
	assert.True(t, core.IsUnavailable(err))
	assert.Equal(t, int32(2), svc.weatherCalls.Load(), "open breaker short-circuits the request")
}

func TestStatusError_Codes(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, core.IsNotFound},
		{http.StatusUnauthorized, core.IsDenied},
		{http.StatusForbidden, core.IsDenied},
		{http.StatusUnprocessableEntity, core.IsInvalidInput},
		{http.StatusInternalServerError, core.IsUnavailable},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			err := statusError(http.MethodGet, "/x", tt.status, []byte(`{"detail":"nope"}`))
			assert.True(t, tt.check(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}

	err := statusError(http.MethodGet, "/x", http.StatusBadGateway, []byte("<html>"))
	assert.Contains(t, err.Error(), "Request failed")
}
