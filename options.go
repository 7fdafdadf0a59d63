package notifnet

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
)

// Option 服务配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 身份配置，优先于 identity.key_file
	privateKey ed25519.PrivateKey

	clock      clock.Clock
	registerer prometheus.Registerer
	transport  pkgif.Transport
	discovery  pkgif.Discovery

	// 用户扩展
	fxOptions []fx.Option
	fxLogging bool
}

func newOptions() *options {
	return &options{}
}

func (o *options) apply(opts ...Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}
	return nil
}

// WithIdentity 使用给定的 ed25519 私钥作为节点身份
func WithIdentity(key ed25519.PrivateKey) Option {
	return func(o *options) error {
		if len(key) != ed25519.PrivateKeySize {
			return fmt.Errorf("invalid private key size %d", len(key))
		}
		o.privateKey = key
		return nil
	}
}

// WithClock 替换超时与退避使用的时钟，主要用于测试
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		if clk == nil {
			return errors.New("clock is nil")
		}
		o.clock = clk
		return nil
	}
}

// WithRegisterer 指定指标注册器；默认使用私有注册表
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithTransport 使用外部传输替代按配置创建的传输
//
// 服务关闭时会关闭该传输。
func WithTransport(t pkgif.Transport) Option {
	return func(o *options) error {
		o.transport = t
		return nil
	}
}

// WithDiscovery 接入节点发现组件，其事件以 DhtEvent 转发
func WithDiscovery(d pkgif.Discovery) Option {
	return func(o *options) error {
		o.discovery = d
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}

// WithFxLogging 输出 Fx 依赖注入日志
func WithFxLogging(enabled bool) Option {
	return func(o *options) error {
		o.fxLogging = enabled
		return nil
	}
}
