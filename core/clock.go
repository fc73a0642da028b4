package core

import "time"

// Clock 抽象当前时间，便于测试 TTL 等时间相关逻辑
type Clock interface {
	Now() time.Time
}

// ClockFunc 允许用普通函数实现 Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock 使用 time.Now
var SystemClock Clock = ClockFunc(time.Now)
