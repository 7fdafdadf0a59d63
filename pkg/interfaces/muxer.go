package interfaces

import (
	"context"
	"io"
	"time"
)

// MuxedConn 定义多路复用连接接口
type MuxedConn interface {
	// OpenStream 打开新流
	OpenStream(ctx context.Context) (MuxedStream, error)

	// AcceptStream 接受新流，连接关闭时返回错误
	AcceptStream() (MuxedStream, error)

	// Close 关闭连接
	Close() error

	// IsClosed 检查连接是否已关闭
	IsClosed() bool

	// CloseChan 连接关闭时被关闭的通道
	CloseChan() <-chan struct{}
}

// MuxedStream 定义多路复用流接口
type MuxedStream interface {
	io.ReadWriteCloser

	// SetDeadline 设置读写截止时间
	SetDeadline(t time.Time) error

	// SetReadDeadline 设置读截止时间
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline 设置写截止时间
	SetWriteDeadline(t time.Time) error
}
