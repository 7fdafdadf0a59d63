package notifications

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// inboxSize 入站帧通道容量；Handler 处理变慢时读任务阻塞，
// 远端随之被 yamux 流控反压
const inboxSize = 64

// PeerSet Handler 使用的槽位管理接口
type PeerSet interface {
	// Incoming 入站子流的准入判定，同步返回
	Incoming(set types.SetID, peer types.PeerID) bool
	// Dropped 归还子流对持有的槽位
	Dropped(set types.SetID, peer types.PeerID, reason types.DropReason)
}

// Emitter 事件发射接口
type Emitter interface {
	Emit(ev types.Event)
}

// Config Handler 配置
type Config struct {
	QueueSize        int
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	MaxHandshakeSize uint64
}

// ConfigFrom 从统一配置构建 Handler 配置
func ConfigFrom(c config.NotificationsConfig) Config {
	return Config{
		QueueSize:        c.QueueSize,
		HandshakeTimeout: c.HandshakeTimeout.Duration(),
		IdleTimeout:      c.IdleConnectionTimeout.Duration(),
		MaxHandshakeSize: c.MaxHandshakeSize,
	}
}

// HandlerParams 创建 Handler 所需的依赖
type HandlerParams struct {
	ConnID     string
	Remote     types.PeerID
	Session    pkgif.MuxedConn
	Registry   *protocol.Registry
	Negotiator *protocol.Negotiator
	PeerSet    PeerSet
	Events     Emitter
	Queues     *QueueTable
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Config     Config

	// OnDone Handler 退出后调用
	OnDone func(*Handler)
}

// Handler 一个对端连接上所有子流对的唯一拥有者
type Handler struct {
	connID     string
	remote     types.PeerID
	session    pkgif.MuxedConn
	negotiator *protocol.Negotiator
	peerset    PeerSet
	events     Emitter
	queues     *QueueTable
	clock      clock.Clock
	metrics    *metrics.Metrics
	cfg        Config
	onDone     func(*Handler)
	log        *slog.Logger

	pairs []*pair

	mbox  *mailbox
	inbox chan inboundFrame
	done  chan struct{}

	lost      bool
	idleGen   uint64
	idleTimer *clock.Timer
}

// Handler 消息
type (
	openCmd struct {
		set types.SetID
	}
	disconnectCmd struct {
		set types.SetID
	}
	stateQuery struct {
		set   types.SetID
		reply chan types.SubstreamState
	}
	outboundResult struct {
		set       types.SetID
		gen       uint64
		stream    pkgif.MuxedStream
		negotiate protocol.Negotiated
		err       error
	}
	inboundArrived struct {
		set       types.SetID
		stream    pkgif.MuxedStream
		reader    *bufio.Reader
		handshake []byte
	}
	respondResult struct {
		set types.SetID
		gen uint64
		err error
	}
	handshakeTimeout struct {
		set types.SetID
		gen uint64
	}
	writerExited struct {
		set types.SetID
		gen uint64
		err error
	}
	connectionLost struct {
		err error
	}
	idleTimeout struct {
		gen uint64
	}
)

// inboundFrame 读任务的输出；err 非空表示读任务已退出
type inboundFrame struct {
	set     types.SetID
	gen     uint64
	payload []byte
	err     error
}

// NewHandler 创建 Handler，调用 Run 后开始工作
func NewHandler(p HandlerParams) *Handler {
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	h := &Handler{
		connID:     p.ConnID,
		remote:     p.Remote,
		session:    p.Session,
		negotiator: p.Negotiator,
		peerset:    p.PeerSet,
		events:     p.Events,
		queues:     p.Queues,
		clock:      p.Clock,
		metrics:    p.Metrics,
		cfg:        p.Config,
		onDone:     p.OnDone,
		log:        log.With("peer", p.Remote.ShortString(), "conn", p.ConnID),
		mbox:       newMailbox(),
		inbox:      make(chan inboundFrame, inboxSize),
		done:       make(chan struct{}),
	}
	for _, set := range p.Registry.Sets() {
		h.pairs = append(h.pairs, &pair{set: set, desc: p.Registry.Get(set)})
	}
	return h
}

// Remote 返回远端节点
func (h *Handler) Remote() types.PeerID { return h.remote }

// ConnID 返回连接标识
func (h *Handler) ConnID() string { return h.connID }

// Done Handler 退出后关闭
func (h *Handler) Done() <-chan struct{} { return h.done }

// Open 请求打开集合的子流对，调用方已从 PeerSet 获得槽位
//
// Handler 已退出时返回 false，槽位仍归调用方处理。
func (h *Handler) Open(set types.SetID) bool {
	return h.mbox.post(openCmd{set: set})
}

// Disconnect 关闭集合的子流对；子流对已关闭时无操作
func (h *Handler) Disconnect(set types.SetID) bool {
	return h.mbox.post(disconnectCmd{set: set})
}

// State 查询子流对状态
func (h *Handler) State(ctx context.Context, set types.SetID) types.SubstreamState {
	q := stateQuery{set: set, reply: make(chan types.SubstreamState, 1)}
	if !h.mbox.post(q) {
		return types.StateClosed
	}
	select {
	case st := <-q.reply:
		return st
	case <-h.done:
		return types.StateClosed
	case <-ctx.Done():
		return types.StateClosed
	}
}

// Shutdown 关闭连接；所有子流对随之关闭，Done 在其全部进入 Closed 后关闭
func (h *Handler) Shutdown() {
	_ = h.session.Close()
}

// Run 处理消息直到连接断开且所有子流对关闭
func (h *Handler) Run() {
	defer h.exit()

	go h.acceptLoop()
	h.armIdle()

	for !h.finished() {
		select {
		case <-h.mbox.signal:
			for _, msg := range h.mbox.drain() {
				h.handle(msg)
			}
		case f := <-h.inbox:
			h.handleFrame(f)
		}
	}
}

func (h *Handler) finished() bool {
	return h.lost && h.allClosed()
}

func (h *Handler) allClosed() bool {
	for _, p := range h.pairs {
		if p.state != types.StateClosed {
			return false
		}
	}
	return true
}

func (h *Handler) pair(set types.SetID) *pair {
	if set < 0 || int(set) >= len(h.pairs) {
		return nil
	}
	return h.pairs[set]
}

func (h *Handler) exit() {
	for _, msg := range h.mbox.close() {
		switch m := msg.(type) {
		case openCmd:
			h.peerset.Dropped(m.set, h.remote, types.DropConnectionClosed)
		case inboundArrived:
			closeStream(m.stream)
		case outboundResult:
			closeStream(m.stream)
		case stateQuery:
			m.reply <- types.StateClosed
		}
	}
	_ = h.session.Close()
	h.log.Debug("handler exited")
	close(h.done)
	if h.onDone != nil {
		h.onDone(h)
	}
}

func (h *Handler) handle(msg any) {
	switch m := msg.(type) {
	case openCmd:
		h.handleOpen(m.set)
	case disconnectCmd:
		h.handleDisconnect(m.set)
	case stateQuery:
		st := types.StateClosed
		if p := h.pair(m.set); p != nil {
			st = p.state
		}
		m.reply <- st
	case outboundResult:
		h.handleOutbound(m)
	case inboundArrived:
		h.handleInbound(m)
	case respondResult:
		h.handleRespond(m)
	case handshakeTimeout:
		if p := h.pair(m.set); p != nil && p.gen == m.gen && p.state == types.StateOpening {
			h.log.Debug("handshake timed out", "protocol", p.desc.Name)
			h.abort(p, types.DropTimeout)
		}
	case writerExited:
		h.handleWriterExit(m)
	case connectionLost:
		h.handleConnectionLost(m.err)
	case idleTimeout:
		if m.gen == h.idleGen && !h.lost && h.allClosed() {
			h.log.Debug("closing idle connection")
			_ = h.session.Close()
		}
	}
}

// ============================================================================
//                              状态转换
// ============================================================================

func (h *Handler) handleOpen(set types.SetID) {
	p := h.pair(set)
	if p == nil {
		return
	}
	if h.lost {
		h.peerset.Dropped(set, h.remote, types.DropConnectionClosed)
		return
	}
	switch p.state {
	case types.StateClosed:
		h.enterOpening(p)
		h.startOutbound(p)
	case types.StateClosing:
		p.reopen = true
	}
}

func (h *Handler) handleDisconnect(set types.SetID) {
	p := h.pair(set)
	if p == nil {
		return
	}
	switch p.state {
	case types.StateOpening:
		h.abort(p, types.DropLocalDisconnect)
	case types.StateOpen:
		h.beginClose(p, types.DropLocalDisconnect)
	case types.StateClosing:
		if p.reopen {
			p.reopen = false
			h.peerset.Dropped(p.set, h.remote, types.DropLocalDisconnect)
		}
	}
}

func (h *Handler) handleOutbound(m outboundResult) {
	p := h.pair(m.set)
	if p == nil || p.gen != m.gen || p.state != types.StateOpening {
		closeStream(m.stream)
		return
	}
	p.attempt = nil
	if m.err != nil {
		h.log.Debug("outbound substream failed", "protocol", p.desc.Name, "err", m.err)
		h.abort(p, types.DropRefused)
		return
	}
	p.out = m.stream
	p.fallback = m.negotiate.Fallback
	h.maybeOpen(p)
}

func (h *Handler) handleInbound(m inboundArrived) {
	p := h.pair(m.set)
	if p == nil || h.lost {
		closeStream(m.stream)
		return
	}
	switch p.state {
	case types.StateClosed:
		if !h.peerset.Incoming(p.set, h.remote) {
			h.log.Debug("inbound substream refused", "protocol", p.desc.Name)
			closeStream(m.stream)
			return
		}
		h.enterOpening(p)
		h.acceptInbound(p, m)
		h.startOutbound(p)
	case types.StateOpening:
		if p.in != nil {
			h.log.Debug("duplicate inbound substream", "protocol", p.desc.Name)
			closeStream(m.stream)
			return
		}
		h.acceptInbound(p, m)
	default:
		h.log.Debug("inbound substream rejected", "protocol", p.desc.Name, "state", p.state)
		closeStream(m.stream)
	}
}

func (h *Handler) handleRespond(m respondResult) {
	p := h.pair(m.set)
	if p == nil || p.gen != m.gen || p.state != types.StateOpening {
		return
	}
	if m.err != nil {
		h.log.Debug("handshake answer failed", "protocol", p.desc.Name, "err", m.err)
		h.abort(p, types.DropConnectionClosed)
		return
	}
	p.responded = true
	h.maybeOpen(p)
}

func (h *Handler) handleWriterExit(m writerExited) {
	p := h.pair(m.set)
	if p == nil || p.gen != m.gen {
		return
	}
	if m.err != nil && p.state == types.StateOpen {
		h.log.Debug("write failed", "protocol", p.desc.Name, "err", m.err)
		h.beginClose(p, types.DropConnectionClosed)
	}
	h.taskDone(p)
}

func (h *Handler) handleFrame(f inboundFrame) {
	p := h.pair(f.set)
	if p == nil || p.gen != f.gen {
		return
	}
	if f.err != nil {
		if p.state == types.StateOpen {
			reason := readFailureReason(f.err)
			if reason == types.DropProtocolViolation {
				h.log.Warn("closing substream: oversized notification", "protocol", p.desc.Name, "err", f.err)
			} else {
				h.log.Debug("inbound substream ended", "protocol", p.desc.Name, "err", f.err)
			}
			h.beginClose(p, reason)
		}
		h.taskDone(p)
		return
	}
	if p.state != types.StateOpen {
		return
	}
	h.metrics.NotificationReceived(string(p.desc.Name), len(f.payload))
	h.events.Emit(types.NotificationsReceived{
		Remote:   h.remote,
		Messages: []types.Notification{{Protocol: p.desc.Name, Payload: f.payload}},
	})
}

func (h *Handler) handleConnectionLost(err error) {
	if h.lost {
		return
	}
	h.log.Debug("connection closed", "err", err)
	h.lost = true
	h.disarmIdle()
	for _, p := range h.pairs {
		switch p.state {
		case types.StateOpening:
			h.abort(p, types.DropConnectionClosed)
		case types.StateOpen:
			h.beginClose(p, types.DropConnectionClosed)
		case types.StateClosing:
			if p.reopen {
				p.reopen = false
				h.peerset.Dropped(p.set, h.remote, types.DropConnectionClosed)
			}
		}
	}
}

// enterOpening Closed → Opening
func (h *Handler) enterOpening(p *pair) {
	h.disarmIdle()
	p.gen++
	p.state = types.StateOpening
	p.slot = true

	set, gen := p.set, p.gen
	p.timer = h.clock.AfterFunc(h.cfg.HandshakeTimeout, func() {
		h.mbox.post(handshakeTimeout{set: set, gen: gen})
	})
}

// maybeOpen 出站已握手且入站已应答时 Opening → Open
func (h *Handler) maybeOpen(p *pair) {
	if !p.established() {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state = types.StateOpen

	q := newQueue(h.remote, p.set, p.desc.Name, p.desc.MaxNotificationSize, h.cfg.QueueSize, h.metrics)
	p.queue = q
	h.queues.publish(q)

	h.metrics.SubstreamOpened(string(p.desc.Name))
	h.log.Debug("substream open", "protocol", p.desc.Name, "fallback", p.fallback)
	h.events.Emit(types.StreamOpened{
		Remote:             h.remote,
		Protocol:           p.desc.Name,
		NegotiatedFallback: p.fallback,
		ReceivedHandshake:  p.handshake,
	})

	p.tasks = 2
	go h.runWriter(p.set, p.gen, p.out, q)
	go h.runReader(p.set, p.gen, p.inReader, p.desc.MaxNotificationSize)
}

// abort Opening → Closed，不发射事件
func (h *Handler) abort(p *pair, reason types.DropReason) {
	if p.attempt != nil {
		p.attempt.abort()
	}
	closeStream(p.out)
	closeStream(p.in)
	p.gen++
	p.state = types.StateClosed
	p.reset()
	h.release(p, reason)
	h.armIdle()
}

// beginClose Open → Closing
func (h *Handler) beginClose(p *pair, reason types.DropReason) {
	p.state = types.StateClosing
	h.queues.remove(p.queue)
	p.queue.Close()
	closeStream(p.out)
	closeStream(p.in)
	h.metrics.SubstreamClosed(string(p.desc.Name))
	h.release(p, reason)
	if p.tasks == 0 {
		h.finishClose(p)
	}
}

func (h *Handler) taskDone(p *pair) {
	if p.tasks > 0 {
		p.tasks--
	}
	if p.tasks == 0 && p.state == types.StateClosing {
		h.finishClose(p)
	}
}

// finishClose Closing → Closed
func (h *Handler) finishClose(p *pair) {
	p.state = types.StateClosed
	p.reset()
	h.log.Debug("substream closed", "protocol", p.desc.Name)
	h.events.Emit(types.StreamClosed{Remote: h.remote, Protocol: p.desc.Name})

	if p.reopen {
		p.reopen = false
		h.enterOpening(p)
		h.startOutbound(p)
		return
	}
	h.armIdle()
}

func (h *Handler) release(p *pair, reason types.DropReason) {
	if !p.slot {
		return
	}
	p.slot = false
	h.peerset.Dropped(p.set, h.remote, reason)
}

func readFailureReason(err error) types.DropReason {
	switch {
	case errors.Is(err, io.EOF):
		return types.DropRemoteClosed
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return types.DropProtocolViolation
	default:
		return types.DropConnectionClosed
	}
}

// ============================================================================
//                              空闲连接
// ============================================================================

func (h *Handler) armIdle() {
	if h.lost || h.cfg.IdleTimeout <= 0 || h.idleTimer != nil || !h.allClosed() {
		return
	}
	h.idleGen++
	gen := h.idleGen
	h.idleTimer = h.clock.AfterFunc(h.cfg.IdleTimeout, func() {
		h.mbox.post(idleTimeout{gen: gen})
	})
}

func (h *Handler) disarmIdle() {
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
	h.idleGen++
}
