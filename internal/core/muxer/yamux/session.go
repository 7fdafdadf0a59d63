package yamux

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/yamux"

	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
)

// Session 封装 yamux.Session，实现 MuxedConn
type Session struct {
	session *yamux.Session
}

var _ pkgif.MuxedConn = (*Session)(nil)

// NewSession 在连接上建立 yamux 会话
func NewSession(conn io.ReadWriteCloser, isServer bool, cfg Config) (*Session, error) {
	var (
		s   *yamux.Session
		err error
	)
	if isServer {
		s, err = yamux.Server(conn, cfg.toYamux())
	} else {
		s, err = yamux.Client(conn, cfg.toYamux())
	}
	if err != nil {
		return nil, fmt.Errorf("创建 yamux session 失败: %w", err)
	}
	return &Session{session: s}, nil
}

// OpenStream 打开新流
//
// yamux 的 OpenStream 不支持 context，在单独的 goroutine 中等待。
func (s *Session) OpenStream(ctx context.Context) (pkgif.MuxedStream, error) {
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		st, err := s.session.OpenStream()
		resultCh <- result{stream: st, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("创建流失败: %w", r.err)
		}
		return r.stream, nil
	case <-ctx.Done():
		// 关闭迟到的流以防止泄漏
		go func() {
			if r := <-resultCh; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// AcceptStream 接受新流
func (s *Session) AcceptStream() (pkgif.MuxedStream, error) {
	st, err := s.session.AcceptStream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Close 关闭会话及底层连接
func (s *Session) Close() error {
	return s.session.Close()
}

// IsClosed 检查会话是否已关闭
func (s *Session) IsClosed() bool {
	return s.session.IsClosed()
}

// CloseChan 会话关闭时被关闭的通道
func (s *Session) CloseChan() <-chan struct{} {
	return s.session.CloseChan()
}

// NumStreams 返回活跃流数量
func (s *Session) NumStreams() int {
	return s.session.NumStreams()
}
