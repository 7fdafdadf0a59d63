package notifications

import (
	"bufio"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-notifnet/internal/core/protocol"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// pair 一个 (peer, protocol) 子流对，只由所属 Handler 的 goroutine 访问
type pair struct {
	set   types.SetID
	desc  protocol.Descriptor
	state types.SubstreamState

	// gen 每次进入 Opening 和放弃 Opening 时递增，过期的辅助任务结果据此丢弃
	gen uint64

	attempt  *attempt
	out      pkgif.MuxedStream
	fallback types.ProtocolName

	in        pkgif.MuxedStream
	inReader  *bufio.Reader
	handshake []byte
	responded bool

	timer *clock.Timer
	queue *Queue
	tasks int

	// slot 持有 PeerSet 分配的槽位，离开 Opening/Open 时归还
	slot bool
	// reopen Closing 期间收到的打开请求，Closed 后重放
	reopen bool
}

func (p *pair) established() bool {
	return p.out != nil && p.responded
}

func (p *pair) reset() {
	p.attempt = nil
	p.out = nil
	p.fallback = ""
	p.in = nil
	p.inReader = nil
	p.handshake = nil
	p.responded = false
	p.queue = nil
	p.tasks = 0
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// closeStream 关闭流并让阻塞中的读写立即返回
func closeStream(s pkgif.MuxedStream) {
	if s == nil {
		return
	}
	_ = s.SetDeadline(time.Now())
	_ = s.Close()
}

// attempt 一次出站子流建立尝试
//
// Handler 放弃 Opening 时调用 abort，正在协商的流被关闭，
// 打开流的 goroutine 随之返回。
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stream  pkgif.MuxedStream
	aborted bool
}

func newAttempt() *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{ctx: ctx, cancel: cancel}
}

// bind 记录已打开的流，尝试已被放弃时返回 false
func (a *attempt) bind(s pkgif.MuxedStream) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aborted {
		return false
	}
	a.stream = s
	return true
}

func (a *attempt) abort() {
	a.mu.Lock()
	a.aborted = true
	s := a.stream
	a.mu.Unlock()

	a.cancel()
	closeStream(s)
}

// done 尝试结束，释放 context
func (a *attempt) done() {
	a.cancel()
}
