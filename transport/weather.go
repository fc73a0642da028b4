package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/recsync/core"
)

func newWeatherBreaker(cfg Config, log logr.Logger) *gobreaker.CircuitBreaker[core.AmbientContext] {
	return gobreaker.NewCircuitBreaker[core.AmbientContext](gobreaker.Settings{
		Name:    "weather",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// 城市不存在、响应不合法不算服务故障
		IsSuccessful: func(err error) bool {
			return err == nil || core.IsNotFound(err) || core.IsInvalidInput(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// WeatherByCoords 按经纬度查询天气
func (c *Client) WeatherByCoords(ctx context.Context, coords core.Coordinates) (core.AmbientContext, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	return c.weatherQuery(ctx, q)
}

// WeatherByCity 按城市名查询天气
func (c *Client) WeatherByCity(ctx context.Context, city string) (core.AmbientContext, error) {
	if city == "" {
		return core.AmbientContext{}, core.NewDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput, "transport: empty city")
	}
	q := url.Values{}
	q.Set("city", city)
	return c.weatherQuery(ctx, q)
}

func (c *Client) weatherQuery(ctx context.Context, q url.Values) (core.AmbientContext, error) {
	out, err := c.weather.Execute(func() (core.AmbientContext, error) {
		var ac core.AmbientContext
		if err := c.do(ctx, http.MethodGet, "/weather?"+q.Encode(), nil, &ac); err != nil {
			return core.AmbientContext{}, err
		}
		if !ac.Condition.Valid() {
			return core.AmbientContext{}, core.NewDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput,
				"transport: malformed weather response: condition="+string(ac.Condition))
		}
		ac.IsManual = false
		return ac, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.AmbientContext{}, core.WrapDomainError(core.ModuleTransport, core.ErrorCodeUnavailable, "transport: weather service", err)
	}
	return out, err
}
