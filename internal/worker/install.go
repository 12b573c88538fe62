package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/property-predictor/offline-cache/internal/cache"
)

// ErrInstallFailed 表示预缓存阶段失败，宿主应把该版本标记为 redundant。
var ErrInstallFailed = errors.New("worker install failed")

// maxInstallFetches 限制预缓存阶段的并发请求数。
const maxInstallFetches = 4

// OnInstall 预缓存全部静态资源：先并发拉取，全部成功后一次性写入静态命名空间，
// 任一资源失败则整体放弃且不写入任何条目。成功后请求宿主跳过等待。
func (m *Manager) OnInstall(ctx context.Context) error {
	log := m.event("install")
	log.WithField("assets", len(m.assets)).Info("worker_installing")

	ns, err := m.storage.Open(ctx, m.names.Static)
	if err != nil {
		log.WithError(err).Error("worker_install_failed")
		return fmt.Errorf("%w: open %s: %v", ErrInstallFailed, m.names.Static, err)
	}

	records := make([]cache.Record, len(m.assets))
	p := pool.New().
		WithMaxGoroutines(maxInstallFetches).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, asset := range m.assets {
		i, asset := i, asset
		p.Go(func(ctx context.Context) error {
			resp, err := m.fetchAsset(ctx, asset)
			if err != nil {
				return err
			}
			records[i] = cache.Record{Key: cache.PathKey(asset), Response: *resp.Storable()}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		log.WithError(err).Error("worker_install_failed")
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	if err := ns.PutAll(ctx, records); err != nil {
		log.WithError(err).Error("worker_install_failed")
		return fmt.Errorf("%w: store assets: %v", ErrInstallFailed, err)
	}
	log.WithFields(logrus.Fields{"cache": m.names.Static, "assets": len(records)}).Info("static_assets_cached")

	if err := m.life.SkipWaiting(ctx); err != nil {
		log.WithError(err).Error("worker_install_failed")
		return fmt.Errorf("%w: skip waiting: %v", ErrInstallFailed, err)
	}
	log.Info("worker_installed")
	return nil
}

// fetchAsset 拉取单个静态资源，非 2xx 视为失败。
func (m *Manager) fetchAsset(ctx context.Context, asset string) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset, err)
	}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", asset, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("asset %s: unexpected status %d", asset, resp.Status)
	}
	return resp, nil
}
