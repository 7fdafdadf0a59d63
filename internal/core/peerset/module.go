package peerset

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config   *config.Config
	Identity *identity.Identity
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

// ProvideManager 从统一配置提供槽位管理器
func ProvideManager(in ModuleInput) (*Manager, error) {
	return New(ConfigFrom(in.Config, in.Identity.PeerID()), in.Clock, in.Metrics)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("peerset",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			m.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			m.Stop()
			return nil
		},
	})
}
