// Package peerset 实现连接准入与槽位分配
//
// 所有槽位计数只在管理器的单个 goroutine 中修改。外部通过命令通道
// 提交请求，分配结果以 Action 通过无界队列交给 swarm。
//
// 每个协议集合包含：
//   - 保留节点：始终拨号、始终接受、不计入容量
//   - 普通节点：入站受 in_peers 限制，出站受 out_peers 限制
package peerset

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("peerset")

// ErrStopped 管理器已停止
var ErrStopped = errors.New("peerset stopped")

const cmdBuffer = 256

type entry struct {
	kind types.SlotKind
	dir  types.Direction
}

type setState struct {
	id           types.SetID
	label        string
	name         string
	inPeers      int
	outPeers     int
	reservedOnly bool

	reserved  map[types.PeerID]struct{}
	connected map[types.PeerID]entry
	inUsed    int
	outUsed   int
}

func (s *setState) isReserved(p types.PeerID) bool {
	_, ok := s.reserved[p]
	return ok
}

// release 移除条目并归还普通槽位
func (s *setState) release(p types.PeerID) (entry, bool) {
	e, ok := s.connected[p]
	if !ok {
		return entry{}, false
	}
	delete(s.connected, p)
	if e.kind == types.SlotRegular {
		if e.dir == types.DirInbound {
			s.inUsed--
		} else {
			s.outUsed--
		}
	}
	return e, true
}

// Manager 槽位管理器
type Manager struct {
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics

	sets       []*setState
	candidates *lru.Cache[types.PeerID, struct{}]
	backoff    map[backoffKey]time.Time

	cmds   chan any
	outbox *outbox

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type backoffKey struct {
	set  types.SetID
	peer types.PeerID
}

// 管理器命令
type (
	incomingCmd struct {
		set   types.SetID
		peer  types.PeerID
		reply chan bool
	}
	canAcceptCmd struct {
		peer  types.PeerID
		reply chan bool
	}
	droppedCmd struct {
		set    types.SetID
		peer   types.PeerID
		reason types.DropReason
	}
	addReservedCmd struct {
		set  types.SetID
		peer types.PeerID
	}
	removeReservedCmd struct {
		set  types.SetID
		peer types.PeerID
	}
	reservedOnlyCmd struct {
		set types.SetID
		on  bool
	}
	discoveredCmd struct {
		peers []types.PeerID
	}
	snapshotCmd struct {
		set   types.SetID
		reply chan Snapshot
	}
)

// Snapshot 集合的槽位快照
type Snapshot struct {
	InUsed       int
	OutUsed      int
	ReservedOnly bool
	Connected    map[types.PeerID]types.SlotKind
	Reserved     []types.PeerID
}

// New 创建管理器，调用 Start 后开始分配
func New(cfg Config, clk clock.Clock, m *metrics.Metrics) (*Manager, error) {
	if clk == nil {
		clk = clock.New()
	}
	size := cfg.CandidateCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[types.PeerID, struct{}](size)
	if err != nil {
		return nil, err
	}
	mgr := &Manager{
		cfg:        cfg,
		clock:      clk,
		metrics:    m,
		candidates: cache,
		backoff:    make(map[backoffKey]time.Time),
		cmds:       make(chan any, cmdBuffer),
		outbox:     newOutbox(),
		done:       make(chan struct{}),
	}
	for i, sc := range cfg.Sets {
		s := &setState{
			id:           types.SetID(i),
			label:        strconv.Itoa(i),
			name:         sc.Name,
			inPeers:      sc.InPeers,
			outPeers:     sc.OutPeers,
			reservedOnly: sc.ReservedOnly,
			reserved:     make(map[types.PeerID]struct{}),
			connected:    make(map[types.PeerID]entry),
		}
		for _, p := range sc.Reserved {
			if p != cfg.Local {
				s.reserved[p] = struct{}{}
			}
		}
		mgr.sets = append(mgr.sets, s)
	}
	for _, p := range cfg.BootNodes {
		mgr.addCandidate(p)
	}
	return mgr, nil
}

// Start 启动管理器 goroutine
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			m.run()
		}()
		go func() {
			defer m.wg.Done()
			m.outbox.pump(m.done)
		}()
	})
}

// Stop 停止管理器；之后的请求被拒绝
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// Actions 返回动作通道
func (m *Manager) Actions() <-chan Action {
	return m.outbox.out
}

// NumSets 返回集合数量
func (m *Manager) NumSets() int {
	return len(m.sets)
}

func (m *Manager) send(cmd any) bool {
	select {
	case m.cmds <- cmd:
		return true
	case <-m.done:
		return false
	}
}

// Incoming 入站子流准入
//
// 保留节点总是接受；普通节点在非 reserved_only 且有空闲入站槽位时接受；
// 已计入该集合的节点直接接受，不占用新槽位。拒绝不产生任何状态。
func (m *Manager) Incoming(set types.SetID, peer types.PeerID) bool {
	reply := make(chan bool, 1)
	if !m.send(incomingCmd{set: set, peer: peer, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-m.done:
		return false
	}
}

// CanAccept 连接级准入：节点在任一集合中可能被接受时返回 true
func (m *Manager) CanAccept(peer types.PeerID) bool {
	reply := make(chan bool, 1)
	if !m.send(canAcceptCmd{peer: peer, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-m.done:
		return false
	}
}

// Dropped 子流对离开 Opening/Open，归还其槽位
func (m *Manager) Dropped(set types.SetID, peer types.PeerID, reason types.DropReason) {
	m.send(droppedCmd{set: set, peer: peer, reason: reason})
}

// AddReserved 把节点加入集合的保留节点
func (m *Manager) AddReserved(set types.SetID, peer types.PeerID) {
	m.send(addReservedCmd{set: set, peer: peer})
}

// RemoveReserved 把节点移出保留节点；已连接且无法获得普通槽位时断开
func (m *Manager) RemoveReserved(set types.SetID, peer types.PeerID) {
	m.send(removeReservedCmd{set: set, peer: peer})
}

// SetReservedOnly 设置集合的 reserved_only 模式；开启时断开所有普通节点
func (m *Manager) SetReservedOnly(set types.SetID, on bool) {
	m.send(reservedOnlyCmd{set: set, on: on})
}

// Discovered 补充候选节点
func (m *Manager) Discovered(peers ...types.PeerID) {
	if len(peers) == 0 {
		return
	}
	m.send(discoveredCmd{peers: append([]types.PeerID(nil), peers...)})
}

// Snapshot 返回集合的槽位快照
func (m *Manager) Snapshot(set types.SetID) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !m.send(snapshotCmd{set: set, reply: reply}) {
		return Snapshot{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-m.done:
		return Snapshot{}, ErrStopped
	}
}

// ============================================================================
//                              管理器 goroutine
// ============================================================================

func (m *Manager) run() {
	interval := m.cfg.AllocationInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	m.allocate()
	for {
		select {
		case cmd := <-m.cmds:
			m.handle(cmd)
			m.allocate()
		case <-ticker.C:
			m.allocate()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) set(id types.SetID) *setState {
	if id < 0 || int(id) >= len(m.sets) {
		return nil
	}
	return m.sets[id]
}

func (m *Manager) handle(cmd any) {
	switch c := cmd.(type) {
	case incomingCmd:
		c.reply <- m.incoming(c.set, c.peer)
	case canAcceptCmd:
		c.reply <- m.canAccept(c.peer)
	case droppedCmd:
		m.dropped(c.set, c.peer, c.reason)
	case addReservedCmd:
		m.addReserved(c.set, c.peer)
	case removeReservedCmd:
		m.removeReserved(c.set, c.peer)
	case reservedOnlyCmd:
		m.setReservedOnly(c.set, c.on)
	case discoveredCmd:
		for _, p := range c.peers {
			m.addCandidate(p)
		}
	case snapshotCmd:
		c.reply <- m.snapshot(c.set)
	}
}

func (m *Manager) incoming(id types.SetID, peer types.PeerID) bool {
	s := m.set(id)
	if s == nil || peer == m.cfg.Local {
		return false
	}
	if _, ok := s.connected[peer]; ok {
		return true
	}
	if s.isReserved(peer) {
		s.connected[peer] = entry{kind: types.SlotReserved, dir: types.DirInbound}
		log.Debug("reserved peer accepted", "set", s.name, "peer", peer.ShortString())
		return true
	}
	if s.reservedOnly || s.inUsed >= s.inPeers {
		log.Debug("inbound refused", "set", s.name, "peer", peer.ShortString(), "in_used", s.inUsed)
		return false
	}
	s.inUsed++
	s.connected[peer] = entry{kind: types.SlotRegular, dir: types.DirInbound}
	m.updateMetrics(s)
	return true
}

func (m *Manager) canAccept(peer types.PeerID) bool {
	if peer == m.cfg.Local {
		return false
	}
	for _, s := range m.sets {
		if _, ok := s.connected[peer]; ok || s.isReserved(peer) {
			return true
		}
		if !s.reservedOnly && s.inUsed < s.inPeers {
			return true
		}
	}
	return false
}

func (m *Manager) dropped(id types.SetID, peer types.PeerID, reason types.DropReason) {
	s := m.set(id)
	if s == nil {
		return
	}
	e, ok := s.release(peer)
	if !ok {
		return
	}
	d := m.cfg.RegularBackoff
	if s.isReserved(peer) {
		d = m.cfg.ReservedBackoff
	}
	m.backoff[backoffKey{id, peer}] = m.clock.Now().Add(jitter(d))
	log.Debug("slot released",
		"set", s.name,
		"peer", peer.ShortString(),
		"kind", e.kind,
		"reason", reason)
	m.updateMetrics(s)
}

func (m *Manager) addReserved(id types.SetID, peer types.PeerID) {
	s := m.set(id)
	if s == nil || peer == m.cfg.Local {
		return
	}
	s.reserved[peer] = struct{}{}
	if e, ok := s.connected[peer]; ok && e.kind == types.SlotRegular {
		s.release(peer)
		s.connected[peer] = entry{kind: types.SlotReserved, dir: e.dir}
	}
	delete(m.backoff, backoffKey{id, peer})
	m.updateMetrics(s)
}

func (m *Manager) removeReserved(id types.SetID, peer types.PeerID) {
	s := m.set(id)
	if s == nil || !s.isReserved(peer) {
		return
	}
	delete(s.reserved, peer)
	e, ok := s.connected[peer]
	if !ok {
		return
	}
	switch {
	case !s.reservedOnly && e.dir == types.DirInbound && s.inUsed < s.inPeers:
		s.inUsed++
		s.connected[peer] = entry{kind: types.SlotRegular, dir: e.dir}
	case !s.reservedOnly && e.dir == types.DirOutbound && s.outUsed < s.outPeers:
		s.outUsed++
		s.connected[peer] = entry{kind: types.SlotRegular, dir: e.dir}
	default:
		m.drop(s, peer)
	}
	m.updateMetrics(s)
}

func (m *Manager) setReservedOnly(id types.SetID, on bool) {
	s := m.set(id)
	if s == nil {
		return
	}
	s.reservedOnly = on
	if !on {
		return
	}
	for peer, e := range s.connected {
		if e.kind == types.SlotRegular {
			m.drop(s, peer)
		}
	}
	m.updateMetrics(s)
}

// drop 主动断开：立即归还槽位，之后子流对的 Dropped 成为空操作
func (m *Manager) drop(s *setState, peer types.PeerID) {
	s.release(peer)
	m.backoff[backoffKey{s.id, peer}] = m.clock.Now().Add(jitter(m.cfg.RegularBackoff))
	m.outbox.push(Action{Kind: ActionDrop, Set: s.id, Peer: peer})
	log.Debug("dropping peer", "set", s.name, "peer", peer.ShortString())
}

func (m *Manager) addCandidate(p types.PeerID) {
	if p == m.cfg.Local || p.IsEmpty() {
		return
	}
	m.candidates.Add(p, struct{}{})
}

func (m *Manager) backingOff(id types.SetID, peer types.PeerID, now time.Time) bool {
	k := backoffKey{id, peer}
	until, ok := m.backoff[k]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(m.backoff, k)
	return false
}

// allocate 拨号所有未连接的保留节点，并用候选节点填满空闲出站槽位
func (m *Manager) allocate() {
	now := m.clock.Now()
	for _, s := range m.sets {
		for peer := range s.reserved {
			if _, ok := s.connected[peer]; ok || m.backingOff(s.id, peer, now) {
				continue
			}
			s.connected[peer] = entry{kind: types.SlotReserved, dir: types.DirOutbound}
			m.connect(s, peer)
		}

		if s.reservedOnly || s.outUsed >= s.outPeers {
			continue
		}
		for _, peer := range m.candidates.Keys() {
			if s.outUsed >= s.outPeers {
				break
			}
			if _, ok := s.connected[peer]; ok || s.isReserved(peer) || m.backingOff(s.id, peer, now) {
				continue
			}
			s.outUsed++
			s.connected[peer] = entry{kind: types.SlotRegular, dir: types.DirOutbound}
			m.connect(s, peer)
		}
		m.updateMetrics(s)
	}
}

func (m *Manager) connect(s *setState, peer types.PeerID) {
	log.Debug("allocating slot", "set", s.name, "peer", peer.ShortString())
	m.outbox.push(Action{Kind: ActionConnect, Set: s.id, Peer: peer})
}

func (m *Manager) snapshot(id types.SetID) Snapshot {
	s := m.set(id)
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		InUsed:       s.inUsed,
		OutUsed:      s.outUsed,
		ReservedOnly: s.reservedOnly,
		Connected:    make(map[types.PeerID]types.SlotKind, len(s.connected)),
	}
	for p, e := range s.connected {
		snap.Connected[p] = e.kind
	}
	for p := range s.reserved {
		snap.Reserved = append(snap.Reserved, p)
	}
	return snap
}

func (m *Manager) updateMetrics(s *setState) {
	m.metrics.SetSlots(s.label, s.inUsed, s.outUsed)
}

// jitter 返回 [d, 1.5d) 之间的随机时长
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(d)/2+1))
}
