package interaction

import "github.com/rushteam/recsync/core"

// ChangeKind 状态变化的原因
type ChangeKind string

const (
	ChangeFetched    ChangeKind = "fetched"     // 远程获取（或失败后的默认值）写入
	ChangeOptimistic ChangeKind = "optimistic"  // 乐观变更已应用
	ChangeReconciled ChangeKind = "reconciled"  // 以服务端返回值对账
	ChangeRolledBack ChangeKind = "rolled_back" // 远程失败，已恢复快照
	ChangeCleared    ChangeKind = "cleared"     // 被清除；ItemID 为 0 表示全部清空
)

// Change 描述一次缓存状态变化。Present 为 false 表示该影片在缓存中已不存在。
type Change struct {
	Kind    ChangeKind
	ItemID  int64
	State   core.Interaction
	Present bool
}

// Subscribe 注册观察者，返回取消订阅函数。
// 观察者在状态变化的 goroutine 中同步调用，调用时不持有缓存锁，可以在回调里读取缓存。
func (c *Cache) Subscribe(fn func(Change)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	c.subMu.Lock()
	subs := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, ch := range changes {
		for _, fn := range subs {
			fn(ch)
		}
	}
}
