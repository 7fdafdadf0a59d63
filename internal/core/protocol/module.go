package protocol

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
)

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("protocol",
		fx.Provide(
			func(cfg *config.Config) (*Registry, error) { return RegistryFromConfig(cfg) },
			NewNegotiator,
		),
	)
}
