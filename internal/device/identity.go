// Package device 设备身份：每台设备一个持久化的随机 ID。
//
// 该 ID 是设备绑定的唯一依据，不做硬件指纹。清空本地存储即可获得新 ID，
// 因此它只是一种尽力而为的威慑手段，不是安全边界。
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wisefido-attendance/internal/store"

	"github.com/google/uuid"
)

// Identity 设备 ID 的获取/生成
type Identity struct {
	kv  store.KV
	key string

	mu     sync.Mutex
	cached string
}

func NewIdentity(kv store.KV) *Identity {
	return &Identity{kv: kv, key: store.KeyDeviceID}
}

// GetOrCreate 返回持久化的设备 ID，首次调用时生成并写入
func (i *Identity) GetOrCreate(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" {
		return i.cached, nil
	}

	id, err := i.kv.Get(ctx, i.key)
	switch {
	case err == nil && strings.TrimSpace(id) != "":
		i.cached = strings.TrimSpace(id)
		return i.cached, nil
	case err != nil && !errors.Is(err, store.ErrMiss):
		// 读失败时不能生成新 ID，否则会覆盖已有绑定
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = uuid.NewString()
	if err := i.kv.Set(ctx, i.key, id, 0); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	i.cached = id
	return id, nil
}
