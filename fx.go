package notifnet

import (
	"crypto/ed25519"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/eventbus"
	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/core/notifications"
	"github.com/dep2p/go-notifnet/internal/core/peerset"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	"github.com/dep2p/go-notifnet/internal/core/swarm"
	"github.com/dep2p/go-notifnet/internal/core/transport"
	"github.com/dep2p/go-notifnet/internal/core/upgrader"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 模块按依赖顺序加载；生命周期钩子按相同顺序启动、逆序停止，
// 因此 swarm 先于 peerset、事件总线与传输关闭。
func buildFxApp(cfg *config.Config, o *options, s *Service) *fx.App {
	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Provide(
			func() clock.Clock { return o.clock },
			func() prometheus.Registerer { return o.registerer },
		),
	}
	if o.privateKey != nil {
		modules = append(modules, fx.Provide(fx.Annotate(
			func() ed25519.PrivateKey { return o.privateKey },
			fx.ResultTags(`name:"private_key"`),
		)))
	}
	if o.transport != nil {
		modules = append(modules, fx.Provide(fx.Annotate(
			func() pkgif.Transport { return o.transport },
			fx.ResultTags(`name:"custom_transport"`),
		)))
	}

	modules = append(modules,
		metrics.Module(),
		identity.Module(),
		transport.Module(),
		protocol.Module(),
		eventbus.Module(),
		notifications.Module(),
		upgrader.Module(),
		peerset.Module(),
		swarm.Module(),
	)
	modules = append(modules, o.fxOptions...)

	modules = append(modules,
		fx.Populate(
			&s.identity,
			&s.registry,
			&s.queues,
			&s.bus,
			&s.peerset,
			&s.swarm,
			&s.metrics,
		),
		fx.WithLogger(func() fxevent.Logger {
			if o.fxLogging {
				return &fxevent.ZapLogger{Logger: zap.NewExample()}
			}
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
	return fx.New(modules...)
}
