package notifications

import (
	"bufio"

	"github.com/dep2p/go-notifnet/internal/core/protocol"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// 以下函数运行在辅助 goroutine 中，只通过消息与 Handler 交互

func (h *Handler) acceptLoop() {
	for {
		s, err := h.session.AcceptStream()
		if err != nil {
			h.mbox.post(connectionLost{err: err})
			return
		}
		go h.negotiateInbound(s)
	}
}

// negotiateInbound 协商入站子流并读取对方握手
func (h *Handler) negotiateInbound(s pkgif.MuxedStream) {
	neg, err := h.negotiator.Accept(s)
	if err != nil {
		h.log.Debug("inbound negotiation failed", "err", err)
		closeStream(s)
		return
	}
	br := bufio.NewReader(s)
	hs, err := protocol.ReadFrame(br, h.cfg.MaxHandshakeSize)
	if err != nil {
		h.log.Debug("inbound handshake failed", "protocol", neg.Name, "err", err)
		closeStream(s)
		return
	}
	if !h.mbox.post(inboundArrived{set: neg.Set, stream: s, reader: br, handshake: hs}) {
		closeStream(s)
	}
}

// acceptInbound 记录入站子流并回写本地握手
func (h *Handler) acceptInbound(p *pair, m inboundArrived) {
	p.in = m.stream
	p.inReader = m.reader
	p.handshake = m.handshake

	set, gen, in, hs := p.set, p.gen, p.in, p.desc.Handshake
	go func() {
		err := protocol.WriteFrame(in, hs)
		h.mbox.post(respondResult{set: set, gen: gen, err: err})
	}()
}

// startOutbound 打开出站子流：协商名称，写出握手，等待对方应答
//
// 对方拒绝时直接关闭流，表现为读取应答失败。
func (h *Handler) startOutbound(p *pair) {
	a := newAttempt()
	p.attempt = a

	set, gen, desc := p.set, p.gen, p.desc
	go func() {
		defer a.done()
		res := outboundResult{set: set, gen: gen}
		res.stream, res.negotiate, res.err = h.openOutbound(a, set, desc)
		if !h.mbox.post(res) {
			closeStream(res.stream)
		}
	}()
}

func (h *Handler) openOutbound(a *attempt, set types.SetID, desc protocol.Descriptor) (pkgif.MuxedStream, protocol.Negotiated, error) {
	s, err := h.session.OpenStream(a.ctx)
	if err != nil {
		return nil, protocol.Negotiated{}, err
	}
	if !a.bind(s) {
		closeStream(s)
		return nil, protocol.Negotiated{}, errAttemptAborted
	}
	neg, err := h.negotiator.Select(s, set)
	if err != nil {
		closeStream(s)
		return nil, protocol.Negotiated{}, err
	}
	if err := protocol.WriteFrame(s, desc.Handshake); err != nil {
		closeStream(s)
		return nil, protocol.Negotiated{}, err
	}
	if _, err := protocol.ReadFrame(s, h.cfg.MaxHandshakeSize); err != nil {
		closeStream(s)
		return nil, protocol.Negotiated{}, err
	}
	return s, neg, nil
}

// runWriter 把队列中的帧写入出站子流，写完一帧才释放其槽位
func (h *Handler) runWriter(set types.SetID, gen uint64, s pkgif.MuxedStream, q *Queue) {
	var err error
	for err == nil {
		select {
		case frame := <-q.frames:
			err = protocol.WriteFrame(s, frame)
			q.release()
			if err == nil {
				h.metrics.NotificationSent(string(q.protocol), len(frame))
			}
		case <-q.closed:
			h.mbox.post(writerExited{set: set, gen: gen})
			return
		}
	}
	h.mbox.post(writerExited{set: set, gen: gen, err: err})
}

// runReader 从入站子流读取通知，连同退出原因经同一通道交给 Handler
func (h *Handler) runReader(set types.SetID, gen uint64, r *bufio.Reader, max uint64) {
	for {
		payload, err := protocol.ReadFrame(r, max)
		select {
		case h.inbox <- inboundFrame{set: set, gen: gen, payload: payload, err: err}:
		case <-h.done:
			return
		}
		if err != nil {
			return
		}
	}
}
