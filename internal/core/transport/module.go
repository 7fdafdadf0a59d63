// Package transport 按配置选择传输实现
package transport

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/transport/memory"
	"github.com/dep2p/go-notifnet/internal/core/transport/tcp"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
)

var log = logger.Logger("transport")

// New 返回与 kind 对应的传输
func New(kind config.TransportKind) pkgif.Transport {
	if kind == config.TransportMemory {
		return memory.NewTransport()
	}
	return tcp.NewTransport(tcp.DefaultConfig())
}

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config

	// Custom 外部注入的传输（WithTransport 场景），优先于配置
	Custom pkgif.Transport `name:"custom_transport" optional:"true"`
}

// ProvideTransport 从统一配置提供传输
func ProvideTransport(in ModuleInput) pkgif.Transport {
	if in.Custom != nil {
		log.Debug("使用注入的传输")
		return in.Custom
	}
	log.Debug("创建传输", "kind", in.Config.Transport)
	return New(in.Config.Transport)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransport),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, t pkgif.Transport) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return t.Close()
		},
	})
}
