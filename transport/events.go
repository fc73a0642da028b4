package transport

import (
	"context"
	"net/http"

	"github.com/rushteam/recsync/core"
)

// SendEvents 上报一批事件，受速率限制约束；响应体被忽略
func (c *Client) SendEvents(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return core.WrapDomainError(core.ModuleTransport, core.ErrorCodeUnavailable, "transport: event rate limit", err)
	}
	return c.do(ctx, http.MethodPost, "/events/batch", core.EventBatch{Events: events}, nil)
}

// BeaconEvents 以 beacon 方式上报：立即返回，发送在独立的 goroutine 中完成，
// 不依赖调用方上下文，也不受速率限制。结果只记录日志。
func (c *Client) BeaconEvents(events []core.Event) {
	if len(events) == 0 {
		return
	}
	batch := make([]core.Event, len(events))
	copy(batch, events)

	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.BeaconTimeout)
		defer cancel()
		if err := c.do(ctx, http.MethodPost, "/events/batch", core.EventBatch{Events: batch}, nil); err != nil {
			c.log.V(1).Info("beacon dropped", "events", len(batch), "error", err.Error())
		}
	}()
}
