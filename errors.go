package notifnet

import (
	"errors"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// 公共错误定义
var (
	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("service already started")

	// ErrServiceClosed 服务已关闭
	ErrServiceClosed = types.ErrServiceClosed

	// ErrUnknownProtocol 协议未在配置中注册
	ErrUnknownProtocol = types.ErrUnknownProtocol
)
