package eventbus

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
)

// ProvideBus 从统一配置提供事件总线
func ProvideBus(cfg *config.Config, m *metrics.Metrics) *Bus {
	return NewBus(
		WithBacklog(cfg.Events.SubscriberBacklog),
		WithOverflowHook(func(string) { m.SubscriberOverflow() }),
	)
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("eventbus",
		fx.Provide(ProvideBus),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, b *Bus) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return b.Close()
		},
	})
}
