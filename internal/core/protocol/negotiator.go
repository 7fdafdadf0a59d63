package protocol

import (
	"errors"
	"fmt"
	"io"

	mss "github.com/multiformats/go-multistream"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// ErrUnexpectedProtocol 协商结果不属于任何已注册集合
var ErrUnexpectedProtocol = errors.New("negotiated protocol is not registered")

// Negotiated 一次成功协商的结果
type Negotiated struct {
	// Set 协议集合
	Set types.SetID
	// Name 实际协商到的名称
	Name types.ProtocolName
	// Fallback 发起方协商到回退名时等于 Name，否则为空
	Fallback types.ProtocolName
}

// Negotiator 子流协议协商器
type Negotiator struct {
	registry *Registry
	muxer    *mss.MultistreamMuxer[types.ProtocolName]
}

// NewNegotiator 创建协商器，响应方接受注册表中的所有名称
func NewNegotiator(registry *Registry) *Negotiator {
	muxer := mss.NewMultistreamMuxer[types.ProtocolName]()
	for _, name := range registry.AllNames() {
		muxer.AddHandler(name, nil)
	}
	return &Negotiator{registry: registry, muxer: muxer}
}

// Select 作为发起方协商集合的协议名
//
// 先提议规范名，再依次提议回退名。
func (n *Negotiator) Select(rwc io.ReadWriteCloser, set types.SetID) (Negotiated, error) {
	desc := n.registry.Get(set)
	selected, err := mss.SelectOneOf(desc.Names(), rwc)
	if err != nil {
		return Negotiated{}, fmt.Errorf("select %s: %w", desc.Name, err)
	}
	res := Negotiated{Set: set, Name: selected}
	if selected != desc.Name {
		res.Fallback = selected
	}
	return res, nil
}

// Accept 作为响应方协商协议名
//
// 响应方始终以本地规范名报告协议，不产生回退名。
func (n *Negotiator) Accept(rwc io.ReadWriteCloser) (Negotiated, error) {
	name, _, err := n.muxer.Negotiate(rwc)
	if err != nil {
		return Negotiated{}, fmt.Errorf("negotiate: %w", err)
	}
	set, ok := n.registry.Lookup(name)
	if !ok {
		return Negotiated{}, fmt.Errorf("%w: %s", ErrUnexpectedProtocol, name)
	}
	return Negotiated{Set: set, Name: name}, nil
}
