package host

import (
	"context"

	"github.com/property-predictor/offline-cache/internal/worker"
)

// Message 投递页面消息：存在 waiting 版本时发给它，否则发给激活版本。
func (r *Registration) Message(ctx context.Context, msg worker.Message) error {
	r.mu.Lock()
	target := r.waiting
	if target == nil {
		target = r.active
	}
	r.mu.Unlock()
	if target == nil {
		return ErrNoActiveWorker
	}
	return target.manager.OnMessage(ctx, msg)
}

// Push 把推送负载交给激活版本。
func (r *Registration) Push(ctx context.Context, data []byte) (worker.PushOutcome, error) {
	m, ok := r.Active()
	if !ok {
		return "", ErrNoActiveWorker
	}
	return m.OnPush(ctx, data)
}

// NotificationClick 把通知点击交给激活版本。
func (r *Registration) NotificationClick(ctx context.Context, click worker.NotificationClick) error {
	m, ok := r.Active()
	if !ok {
		return ErrNoActiveWorker
	}
	return m.OnNotificationClick(ctx, click)
}

// Sync 触发后台同步。
func (r *Registration) Sync(ctx context.Context, tag string) error {
	m, ok := r.Active()
	if !ok {
		return ErrNoActiveWorker
	}
	return m.OnSync(ctx, tag)
}

// PeriodicSync 触发周期同步。
func (r *Registration) PeriodicSync(ctx context.Context, tag string) error {
	m, ok := r.Active()
	if !ok {
		return ErrNoActiveWorker
	}
	return m.OnPeriodicSync(ctx, tag)
}
