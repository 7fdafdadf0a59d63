package upgrader

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/identity"
)

// Params Upgrader 依赖参数
type Params struct {
	fx.In

	Identity   *identity.Identity
	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("upgrader",
		fx.Provide(ProvideUpgrader),
	)
}

// ProvideUpgrader 提供 Upgrader（依赖注入）
func ProvideUpgrader(params Params) *Upgrader {
	return New(params.Identity, ConfigFromUnified(params.UnifiedCfg))
}
