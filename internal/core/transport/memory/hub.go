// Package memory 提供进程内内存传输
//
// 地址形如 /memory/<port>。同一进程内所有 Transport 共享一个端口表，
// 连接由 net.Pipe 实现，主要用于测试与本地模拟网络。
package memory

import (
	"errors"
	"math/rand"
	"sync"
)

var (
	// ErrAddressInUse 端口已被占用
	ErrAddressInUse = errors.New("memory: address in use")
	// ErrConnectionRefused 端口上没有监听器
	ErrConnectionRefused = errors.New("memory: connection refused")
	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("memory: listener closed")
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("memory: transport closed")
)

// hub 端口到监听器的映射
type hub struct {
	mu        sync.Mutex
	listeners map[uint64]*Listener
	ephemeral uint64
}

var defaultHub = &hub{listeners: make(map[uint64]*Listener)}

// register 注册监听器，port 为 0 时分配随机端口
func (h *hub) register(port uint64, l *Listener) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if port == 0 {
		for {
			port = rand.Uint64()
			if port == 0 {
				continue
			}
			if _, used := h.listeners[port]; !used {
				break
			}
		}
	} else if _, used := h.listeners[port]; used {
		return 0, ErrAddressInUse
	}
	h.listeners[port] = l
	return port, nil
}

func (h *hub) unregister(port uint64, l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners[port] == l {
		delete(h.listeners, port)
	}
}

func (h *hub) lookup(port uint64) *Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listeners[port]
}

// nextEphemeral 为拨号方分配一个不参与监听的端口号
func (h *hub) nextEphemeral() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ephemeral++
	return 1<<63 | h.ephemeral
}
