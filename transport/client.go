// Package transport 是远程推荐服务的 HTTP 客户端。
//
// 它实现了交互缓存、遥测管道和环境信息缓存所需的远程协作接口：
//   - 交互：GET /interactions/movie/{id}、POST /interactions/movies、POST /interactions/favorite/{id}、POST /ratings
//   - 遥测：POST /events/batch（普通发送与 beacon 式发送）
//   - 天气：GET /weather?lat=&lon= 或 ?city=
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/rushteam/recsync/core"
)

// DefaultBaseURL 与前端默认的 API 地址一致
const DefaultBaseURL = "http://localhost:8000/api/v1"

// Config 客户端配置
type Config struct {
	BaseURL string

	// Timeout 单次请求的上限（交互与天气请求都受此约束）
	Timeout time.Duration

	// BeaconTimeout beacon 发送的上限，与调用方上下文无关
	BeaconTimeout time.Duration

	// EventsPerMinute 普通批量上报的速率上限，EventsBurst 为突发容量
	EventsPerMinute int
	EventsBurst     int

	// 天气服务熔断：连续失败 BreakerFailures 次后打开，BreakerTimeout 后半开
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BeaconTimeout <= 0 {
		c.BeaconTimeout = 5 * time.Second
	}
	if c.EventsPerMinute <= 0 {
		c.EventsPerMinute = 30
	}
	if c.EventsBurst <= 0 {
		c.EventsBurst = 5
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Client 是远程服务的 HTTP 客户端，可并发使用
type Client struct {
	cfg     Config
	http    *http.Client
	token   func() string
	log     logr.Logger
	limiter *rate.Limiter
	weather *gobreaker.CircuitBreaker[core.AmbientContext]

	beacons sync.WaitGroup
}

// Option 配置 Client
type Option func(*Client)

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource 设置访问令牌来源，返回空字符串时不带 Authorization 头
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.token = fn }
}

func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient 创建客户端
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.setDefaults()
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{},
		token: func() string { return "" },
		log:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("transport")
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.EventsPerMinute)), cfg.EventsBurst)
	c.weather = newWeatherBreaker(cfg, c.log)
	return c
}

// Wait 等待所有 beacon 发送结束，或 ctx 结束
func (c *Client) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.beacons.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type errorBody struct {
	Detail any `json:"detail"`
}

// do 发送请求并把响应解码到 out（out 为 nil 时丢弃响应体）
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput, "transport: encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput, "transport: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeTimeout, "transport: "+method+" "+path+" timed out", err)
		}
		return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeUnavailable, "transport: "+method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeUnavailable, "transport: read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(method, path, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput, "transport: malformed response from "+path, err)
	}
	return nil
}

func statusError(method, path string, status int, body []byte) error {
	detail := "Request failed"
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Detail != nil {
		detail = fmt.Sprint(eb.Detail)
	}
	code := core.ErrorCodeUnavailable
	switch status {
	case http.StatusNotFound:
		code = core.ErrorCodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		code = core.ErrorCodeDenied
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = core.ErrorCodeInvalidInput
	}
	return core.NewDomainError(core.ModuleTransport, code,
		fmt.Sprintf("transport: %s %s: status=%d: %s", method, path, status, detail))
}
