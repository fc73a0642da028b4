// Package store 提供 core.Store 的基础设施实现。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
//	var sessionStore core.Store = store.NewMemoryStore()
//	var localStore core.Store = store.NewBadgerStore(db)
//	var sharedStore core.Store = store.NewRedisStoreWithClient(client, "recsync:")
package store

import (
	"time"

	"github.com/rushteam/recsync/core"
)

// ErrNotFound 是 core.ErrStoreNotFound 的别名，便于包内使用
var ErrNotFound = core.ErrStoreNotFound

func ttlDuration(ttl []int) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return time.Duration(ttl[0]) * time.Second
	}
	return 0
}
