package store

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/rushteam/recsync/core"
)

// BadgerStore 是基于 badger 的本地持久化 Store，对应浏览器的 localStorage：
// 进程重启后数据仍在，过期由 badger 的 TTL 负责。
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// OpenBadgerStore 打开（或创建）目录 dir 下的 badger 数据库。
// dir 为空时使用内存模式。
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: open badger", err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// NewBadgerStore 使用已打开的 DB，调用方负责关闭
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (b *BadgerStore) Name() string { return "badger" }

func (b *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrStoreNotFound
	}
	return out, err
}

func (b *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if d := ttlDuration(ttl); d > 0 {
			e = e.WithTTL(d)
		}
		return txn.SetEntry(e)
	})
}

func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *BadgerStore) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

var _ core.Store = (*BadgerStore)(nil)
