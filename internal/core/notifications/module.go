package notifications

import (
	"go.uber.org/fx"
)

// Module 返回 fx 模块配置
//
// 只提供队列索引；Handler 由 swarm 按连接创建。
func Module() fx.Option {
	return fx.Module("notifications",
		fx.Provide(NewQueueTable),
	)
}
