package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/property-predictor/offline-cache/internal/cache"
	"github.com/property-predictor/offline-cache/internal/config"
	"github.com/property-predictor/offline-cache/internal/fetch"
	"github.com/property-predictor/offline-cache/internal/host"
	"github.com/property-predictor/offline-cache/internal/logging"
	"github.com/property-predictor/offline-cache/internal/manifest"
	"github.com/property-predictor/offline-cache/internal/proxy"
	"github.com/property-predictor/offline-cache/internal/server"
	"github.com/property-predictor/offline-cache/internal/server/routes"
	"github.com/property-predictor/offline-cache/internal/worker"
)

// service 持有进程生命周期内共享的组件：缓存存储、网络 fetcher、宿主注册表与 Fiber app。
type service struct {
	logger  *logrus.Logger
	storage cache.Storage
	fetcher *fetch.HTTPFetcher
	reg     *host.Registration
	inbox   *host.Inbox
	app     *fiber.App
	global  config.GlobalConfig
}

func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	storage, err := cache.NewStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	fetcher, err := fetch.NewHTTPFetcher(fetch.NewClient(cfg), cfg.Global.Origin)
	if err != nil {
		storage.Close()
		return nil, err
	}

	reg, err := host.NewRegistration(host.Options{Network: fetcher, Logger: logger})
	if err != nil {
		storage.Close()
		return nil, err
	}
	inbox := host.NewInbox(logger, 0)

	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Proxy:        proxy.NewHandler(reg, logger),
		ListenPort:   cfg.Global.ListenPort,
		SecureCookie: fetcher.Origin().Scheme == "https",
	})
	if err != nil {
		storage.Close()
		return nil, err
	}
	routes.RegisterControlRoutes(app, routes.Control{
		Registration: reg,
		Storage:      storage,
		Inbox:        inbox,
		Logger:       logger,
	})

	return &service{
		logger:  logger,
		storage: storage,
		fetcher: fetcher,
		reg:     reg,
		inbox:   inbox,
		app:     app,
		global:  cfg.Global,
	}, nil
}

// installWorker 以 [Worker] 配置构造新版本并交给注册表安装。
func (s *service) installWorker(ctx context.Context, cfg *config.Config, assets []string) error {
	w := cfg.Worker
	build := func(life worker.Lifecycle) (*worker.Manager, error) {
		return worker.New(worker.Options{
			Version: w.CacheVersion,
			Names: worker.Names{
				Static:  w.StaticCacheName(),
				Dynamic: w.DynamicCacheName(),
			},
			StaticAssets:        assets,
			Storage:             s.storage,
			Fetcher:             s.fetcher,
			Lifecycle:           life,
			Notifier:            s.inbox,
			Logger:              s.logger,
			BypassSchemes:       w.BypassSchemes,
			BypassHostFragments: w.BypassHostFragments,
			NotificationRoute:   w.NotificationRoute,
			PeriodicSync:        w.PeriodicSync,
		})
	}
	return s.reg.Install(ctx, w.CacheVersion, build)
}

// reload 重新读取配置；CacheVersion 变化时安装新版本，旧版本的命名空间在激活时清理。
// 进程级配置（端口、存储、源站）需要重启才能生效。
func (s *service) reload(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	assets, err := manifest.Load(cfg.Worker.AssetManifest)
	if err != nil {
		return err
	}

	restartNeeded := cfg.Global.ListenPort != s.global.ListenPort ||
		cfg.Global.StorageDriver != s.global.StorageDriver ||
		cfg.Global.StoragePath != s.global.StoragePath ||
		cfg.Global.Origin != s.global.Origin

	fields := logging.BaseFields("reload", path)
	fields["cache_version"] = cfg.Worker.CacheVersion
	if restartNeeded {
		s.logger.WithFields(fields).Warn("进程级配置变更需要重启后生效")
	}

	err = s.installWorker(ctx, cfg, assets)
	switch {
	case errors.Is(err, host.ErrAlreadyInstalled):
		s.logger.WithFields(fields).Info("worker 版本未变化，跳过安装")
		return nil
	case err != nil:
		return err
	}
	s.logger.WithFields(fields).Info("worker 新版本已安装")
	return nil
}

// Close 释放缓存存储。
func (s *service) Close() error {
	return s.storage.Close()
}
