package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Entity 可按 id 存取的实体
type Entity interface {
	EntityID() string
}

// Collection 整集合存储在一个 key 下的 JSON 数组
// 读-改-写在互斥锁内完成；元素按 id 排序保证序列化结果确定
// 返回给调用方的都是副本，调用方无法原地修改集合
type Collection[T Entity] struct {
	kv  KV
	key string
	mu  sync.Mutex
}

func NewCollection[T Entity](kv KV, key string) *Collection[T] {
	return &Collection[T]{kv: kv, key: key}
}

// Key 集合对应的存储 key
func (c *Collection[T]) Key() string { return c.key }

func (c *Collection[T]) load(ctx context.Context) ([]T, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", c.key, err)
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (c *Collection[T]) save(ctx context.Context, items []T) error {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].EntityID() < items[j].EntityID()
	})
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.key, err)
	}
	if err := c.kv.Set(ctx, c.key, string(data), 0); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.key, err)
	}
	return nil
}

// All 返回集合快照
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// Get 按 id 查询
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	items, err := c.All(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, it := range items {
		if it.EntityID() == id {
			return it, true, nil
		}
	}
	return zero, false, nil
}

// Find 按条件过滤
func (c *Collection[T]) Find(ctx context.Context, pred func(T) bool) ([]T, error) {
	items, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Update 原子读-改-写；fn 返回 error 时不写入
func (c *Collection[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, err := c.load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(items)
	if err != nil {
		return err
	}
	return c.save(ctx, next)
}

// Upsert 按 id 插入或替换
func (c *Collection[T]) Upsert(ctx context.Context, item T) error {
	return c.Update(ctx, func(items []T) ([]T, error) {
		return upsertByID(items, item), nil
	})
}

// Replace 整集合覆盖（远端快照写入本地）
func (c *Collection[T]) Replace(ctx context.Context, items []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]T, len(items))
	copy(cp, items)
	return c.save(ctx, cp)
}

// DeleteWhere 删除满足条件的元素，返回被删除的元素
func (c *Collection[T]) DeleteWhere(ctx context.Context, pred func(T) bool) ([]T, error) {
	var removed []T
	err := c.Update(ctx, func(items []T) ([]T, error) {
		kept := items[:0]
		for _, it := range items {
			if pred(it) {
				removed = append(removed, it)
				continue
			}
			kept = append(kept, it)
		}
		return kept, nil
	})
	return removed, err
}

func upsertByID[T Entity](items []T, item T) []T {
	for i := range items {
		if items[i].EntityID() == item.EntityID() {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}
