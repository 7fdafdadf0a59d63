package peerset

import (
	"time"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// SetConfig 一个协议集合的槽位配置
type SetConfig struct {
	Name         string
	Reserved     []types.PeerID
	InPeers      int
	OutPeers     int
	ReservedOnly bool
}

// Config 槽位管理配置
type Config struct {
	// Local 本地节点，永远不会成为候选
	Local types.PeerID
	// Sets 按 SetID 排列
	Sets []SetConfig
	// BootNodes 初始候选节点
	BootNodes []types.PeerID

	ReservedBackoff    time.Duration
	RegularBackoff     time.Duration
	AllocationInterval time.Duration
	CandidateCacheSize int
}

// ConfigFrom 从统一配置构建槽位管理配置
func ConfigFrom(cfg *config.Config, local types.PeerID) Config {
	c := Config{
		Local:              local,
		ReservedBackoff:    cfg.PeerSet.ReservedBackoff.Duration(),
		RegularBackoff:     cfg.PeerSet.RegularBackoff.Duration(),
		AllocationInterval: cfg.PeerSet.AllocationInterval.Duration(),
		CandidateCacheSize: cfg.PeerSet.CandidateCacheSize,
	}
	for i, set := range cfg.ExtraSets {
		sc := cfg.ResolvedSetConfig(i)
		s := SetConfig{
			Name:         string(set.NotificationsProtocol),
			InPeers:      int(sc.InPeers),
			OutPeers:     int(sc.OutPeers),
			ReservedOnly: sc.ReservedOnly,
		}
		for _, r := range sc.ReservedNodes {
			s.Reserved = append(s.Reserved, r.PeerID)
		}
		c.Sets = append(c.Sets, s)
	}
	for _, b := range cfg.BootNodes {
		c.BootNodes = append(c.BootNodes, b.PeerID)
	}
	return c
}
