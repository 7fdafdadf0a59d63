package swarm

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-notifnet/pkg/types"
)

var (
	// ErrSwarmClosed Swarm 已关闭
	ErrSwarmClosed = errors.New("swarm closed")

	// ErrNoAddresses 没有可用地址
	ErrNoAddresses = errors.New("no addresses")
)

// DialError 拨号错误，包含每个地址的错误信息
type DialError struct {
	Peer   types.PeerID
	Errors []error
}

func (e *DialError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("failed to dial %s: unknown error", e.Peer.ShortString())
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("failed to dial %s: %v", e.Peer.ShortString(), e.Errors[0])
	}
	return fmt.Sprintf("failed to dial %s: %d errors: %v", e.Peer.ShortString(), len(e.Errors), e.Errors)
}

// Unwrap 返回所有错误
func (e *DialError) Unwrap() []error {
	return e.Errors
}
