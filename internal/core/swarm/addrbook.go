package swarm

import (
	"slices"
	"sync"

	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// AddrBook 对端地址簿
//
// 常驻条目（引导节点、保留节点）不会被淘汰；其余条目由 ARC 缓存淘汰，
// 反复出现的节点比只出现一次的节点保留更久。
type AddrBook struct {
	mu     sync.Mutex
	pinned map[types.PeerID][]types.Multiaddr
	cache  *arc.ARCCache[types.PeerID, []types.Multiaddr]
}

// NewAddrBook 创建地址簿
func NewAddrBook(size int) (*AddrBook, error) {
	if size <= 0 {
		size = DefaultConfig().AddrBookSize
	}
	cache, err := arc.NewARC[types.PeerID, []types.Multiaddr](size)
	if err != nil {
		return nil, err
	}
	return &AddrBook{
		pinned: make(map[types.PeerID][]types.Multiaddr),
		cache:  cache,
	}, nil
}

// Add 记录地址，/p2p 后缀被去掉
func (b *AddrBook) Add(peer types.PeerID, addrs ...types.Multiaddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if known, ok := b.pinned[peer]; ok {
		b.pinned[peer] = merge(known, addrs)
		return
	}
	known, _ := b.cache.Get(peer)
	b.cache.Add(peer, merge(known, addrs))
}

// Pin 记录常驻地址
func (b *AddrBook) Pin(peer types.PeerID, addrs ...types.Multiaddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	known, _ := b.cache.Peek(peer)
	b.cache.Remove(peer)
	b.pinned[peer] = merge(merge(b.pinned[peer], known), addrs)
}

// Addrs 返回对端的已知地址
func (b *AddrBook) Addrs(peer types.PeerID) []types.Multiaddr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addrs, ok := b.pinned[peer]; ok {
		return slices.Clone(addrs)
	}
	addrs, _ := b.cache.Get(peer)
	return slices.Clone(addrs)
}

// Len 返回已知对端数量
func (b *AddrBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pinned) + b.cache.Len()
}

func merge(known, add []types.Multiaddr) []types.Multiaddr {
	out := slices.Clone(known)
	for _, a := range add {
		a = a.WithoutPeerID()
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}
