package worker

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// OnActivate 清理旧版本的命名空间后接管所有页面。
// 枚举完成后才开始删除；单个删除失败只记日志，不影响其余删除与 Claim。
func (m *Manager) OnActivate(ctx context.Context) error {
	log := m.event("activate")
	log.Info("worker_activating")

	names, err := m.storage.Names(ctx)
	if err != nil {
		log.WithError(err).Error("cache_enumerate_failed")
		return fmt.Errorf("enumerate caches: %w", err)
	}

	p := pool.New().WithErrors()
	for _, name := range names {
		if m.isCurrent(name) {
			continue
		}
		name := name
		p.Go(func() error {
			if _, err := m.storage.Delete(ctx, name); err != nil {
				log.WithError(err).WithField("cache", name).Warn("stale_cache_delete_failed")
				return err
			}
			log.WithField("cache", name).Info("stale_cache_deleted")
			return nil
		})
	}
	// 删除失败已逐条记录，这里只等待全部删除结束。
	_ = p.Wait()

	if err := m.life.Claim(ctx); err != nil {
		log.WithError(err).Error("worker_claim_failed")
		return fmt.Errorf("claim clients: %w", err)
	}
	log.Info("worker_activated")
	return nil
}

func (m *Manager) isCurrent(name string) bool {
	return name == m.names.Static || name == m.names.Dynamic
}
