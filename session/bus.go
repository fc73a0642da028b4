package session

import "sync"

// Bus 广播会话生命周期（登录 / 登出）。
// 交互缓存等组件订阅“会话结束”，而不是由认证层直接调用它们。
type Bus struct {
	mu     sync.RWMutex
	active bool
	token  string
	nextID int
	onEnd  map[int]func()
}

func NewBus() *Bus {
	return &Bus{onEnd: make(map[int]func())}
}

// Begin 标记会话开始，token 用于请求的 Authorization 头
func (b *Bus) Begin(token string) {
	b.mu.Lock()
	b.active = true
	b.token = token
	b.mu.Unlock()
}

// End 标记会话结束，并同步通知所有订阅者。
// 返回时所有订阅者都已执行完毕。
func (b *Bus) End() {
	b.mu.Lock()
	b.active = false
	b.token = ""
	subs := make([]func(), 0, len(b.onEnd))
	for _, fn := range b.onEnd {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Active 报告当前是否有活跃会话
func (b *Bus) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Token 返回当前访问令牌，无会话时为空
func (b *Bus) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

// OnEnd 订阅会话结束通知，返回取消订阅函数
func (b *Bus) OnEnd(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.onEnd[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.onEnd, id)
		b.mu.Unlock()
	}
}
