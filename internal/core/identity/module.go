package identity

import (
	"crypto/ed25519"
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/util/logger"
)

var log = logger.Logger("identity")

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config

	// PrivateKey 直接注入的私钥（WithIdentity 场景），优先于 key_file
	PrivateKey ed25519.PrivateKey `name:"private_key" optional:"true"`
}

// ProvideIdentity 提供节点身份
//
// 优先级：注入的私钥 > key_file > 临时生成。
func ProvideIdentity(in ModuleInput) (*Identity, error) {
	switch {
	case in.PrivateKey != nil:
		return FromPrivateKey(in.PrivateKey)
	case in.Config.Identity.KeyFile != "":
		id, err := LoadOrCreate(in.Config.Identity.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		return id, nil
	default:
		return Generate()
	}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
