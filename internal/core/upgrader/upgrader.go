package upgrader

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	mss "github.com/multiformats/go-multistream"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/internal/core/muxer/yamux"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("upgrader")

const (
	nonceSize = 32
	helloSize = ed25519.PublicKeySize + nonceSize

	// signaturePrefix 签名内容的域前缀
	signaturePrefix = "notifnet-identity:"
)

// Upgrader 连接升级器
type Upgrader struct {
	identity *identity.Identity
	cfg      Config
}

// New 创建连接升级器
func New(id *identity.Identity, cfg Config) *Upgrader {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	return &Upgrader{identity: id, cfg: cfg}
}

// LocalPeer 返回本地节点 ID
func (u *Upgrader) LocalPeer() types.PeerID {
	return u.identity.PeerID()
}

// Upgrade 升级连接
//
// 出站连接必须提供 expected；入站连接的对端 PeerID 由身份交换确定。
// 失败时 conn 被关闭。
func (u *Upgrader) Upgrade(
	ctx context.Context,
	conn net.Conn,
	dir types.Direction,
	expected types.PeerID,
	raddr types.Multiaddr,
) (*Conn, error) {
	if dir == types.DirOutbound && expected.IsEmpty() {
		conn.Close()
		return nil, ErrNoPeerID
	}

	deadline := time.Now().Add(u.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	// 1. 身份交换
	remote, err := u.exchangeIdentity(ctx, conn)
	if err != nil {
		log.Debug("身份交换失败", "direction", dir, "error", err)
		conn.Close()
		return nil, err
	}
	if remote == u.identity.PeerID() {
		conn.Close()
		return nil, ErrSelfConnection
	}
	if dir == types.DirOutbound && remote != expected {
		conn.Close()
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerIDMismatch, expected.ShortString(), remote.ShortString())
	}

	// 2. 协商多路复用器
	isServer := dir == types.DirInbound
	if err := negotiateMuxer(conn, isServer); err != nil {
		log.Debug("多路复用器协商失败", "remotePeer", remote.ShortString(), "error", err)
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clear deadline: %w", err)
	}

	// 3. 多路复用设置
	session, err := yamux.NewSession(conn, isServer, u.cfg.Muxer)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Conn{
		id:         uuid.NewString(),
		session:    session,
		local:      u.identity.PeerID(),
		remote:     remote,
		dir:        dir,
		remoteAddr: raddr,
	}
	log.Debug("连接升级成功", "remotePeer", remote.ShortString(), "direction", dir, "conn", c.id)
	return c, nil
}

// exchangeIdentity 交换公钥并互相证明私钥持有
//
// 双方的写与读并发进行：同步管道上串行写会互相阻塞。
func (u *Upgrader) exchangeIdentity(ctx context.Context, conn net.Conn) (types.PeerID, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return types.PeerID{}, err
	}
	hello := make([]byte, 0, helloSize)
	hello = append(hello, u.identity.PublicKey()...)
	hello = append(hello, nonce...)

	var remoteHello []byte
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return protocol.WriteFrame(conn, hello) })
	g.Go(func() error {
		var err error
		remoteHello, err = protocol.ReadFrame(conn, helloSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.PeerID{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if len(remoteHello) != helloSize {
		return types.PeerID{}, fmt.Errorf("%w: hello size %d", ErrHandshakeFailed, len(remoteHello))
	}
	remotePub := ed25519.PublicKey(remoteHello[:ed25519.PublicKeySize])
	remoteNonce := remoteHello[ed25519.PublicKeySize:]

	sig := u.identity.Sign(signedPayload(remoteNonce))
	var remoteSig []byte
	g, _ = errgroup.WithContext(ctx)
	g.Go(func() error { return protocol.WriteFrame(conn, sig) })
	g.Go(func() error {
		var err error
		remoteSig, err = protocol.ReadFrame(conn, ed25519.SignatureSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.PeerID{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if !identity.Verify(remotePub, signedPayload(nonce), remoteSig) {
		return types.PeerID{}, ErrInvalidSignature
	}
	return types.PeerIDFromPublicKey(remotePub), nil
}

func signedPayload(nonce []byte) []byte {
	out := make([]byte, 0, len(signaturePrefix)+len(nonce))
	out = append(out, signaturePrefix...)
	return append(out, nonce...)
}

// negotiateMuxer 使用 multistream-select 协商 yamux
func negotiateMuxer(conn net.Conn, isServer bool) error {
	var (
		selected string
		err      error
	)
	if isServer {
		muxer := mss.NewMultistreamMuxer[string]()
		muxer.AddHandler(yamux.ProtocolID, nil)
		selected, _, err = muxer.Negotiate(conn)
	} else {
		selected, err = mss.SelectOneOf([]string{yamux.ProtocolID}, conn)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if selected != yamux.ProtocolID {
		return fmt.Errorf("%w: unexpected %s", ErrNegotiationFailed, selected)
	}
	return nil
}
