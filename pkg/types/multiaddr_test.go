package types

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMultiaddr(t *testing.T) {
	peer := RandomPeerID()

	tests := []struct {
		name    string
		input   string
		wantErr bool
		memory  bool
	}{
		{"memory", "/memory/42", false, true},
		{"memory with peer", "/memory/42/p2p/" + peer.String(), false, true},
		{"ip4 tcp", "/ip4/127.0.0.1/tcp/30333", false, false},
		{"ip6 tcp", "/ip6/::1/tcp/30333", false, false},
		{"dns4 tcp", "/dns4/example.org/tcp/1", false, false},
		{"ip4 tcp with peer", "/ip4/10.0.0.1/tcp/1/p2p/" + peer.String(), false, false},
		{"no slash", "memory/1", true, false},
		{"bad memory port", "/memory/x", true, false},
		{"bad ip4", "/ip4/300.0.0.1/tcp/1", true, false},
		{"host without tcp", "/ip4/127.0.0.1", true, false},
		{"memory combined", "/memory/1/tcp/2", true, false},
		{"p2p not last", "/p2p/" + peer.String() + "/memory/1", true, false},
		{"unknown", "/udp/1", true, false},
		{"bad tcp port", "/ip4/127.0.0.1/tcp/70000", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma, err := ParseMultiaddr(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMultiaddr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.memory, ma.IsMemory())
		})
	}
}

func TestMultiaddrAccessors(t *testing.T) {
	peer := RandomPeerID()

	t.Run("MemoryPort", func(t *testing.T) {
		port, err := NewMemoryMultiaddr(7).MemoryPort()
		require.NoError(t, err)
		assert.Equal(t, uint64(7), port)

		_, err = Multiaddr("/ip4/127.0.0.1/tcp/1").MemoryPort()
		assert.Error(t, err)
	})

	t.Run("HostPort", func(t *testing.T) {
		hp, err := Multiaddr("/ip6/::1/tcp/5").HostPort()
		require.NoError(t, err)
		assert.Equal(t, "[::1]:5", hp)

		_, err = NewMemoryMultiaddr(1).HostPort()
		assert.Error(t, err)
	})

	t.Run("PeerSuffix", func(t *testing.T) {
		ma := NewMemoryMultiaddr(3).WithPeerID(peer)
		id, ok := ma.PeerID()
		require.True(t, ok)
		assert.Equal(t, peer, id)
		assert.Equal(t, NewMemoryMultiaddr(3), ma.WithoutPeerID())

		_, ok = NewMemoryMultiaddr(3).PeerID()
		assert.False(t, ok)
	})

	t.Run("FromTCPAddr", func(t *testing.T) {
		ma := MultiaddrFromTCPAddr(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
		assert.Equal(t, Multiaddr("/ip4/127.0.0.1/tcp/9"), ma)
	})
}

func TestMultiaddrWithPeerID(t *testing.T) {
	peer := RandomPeerID()
	s := "/memory/11/p2p/" + peer.String()

	m, err := ParseMultiaddrWithPeerID(s)
	require.NoError(t, err)
	assert.Equal(t, NewMemoryMultiaddr(11), m.Multiaddr)
	assert.Equal(t, peer, m.PeerID)
	assert.Equal(t, s, m.String())

	_, err = ParseMultiaddrWithPeerID("/memory/11")
	assert.ErrorIs(t, err, ErrMissingPeerID)

	var out MultiaddrWithPeerID
	require.NoError(t, out.UnmarshalText([]byte(s)))
	assert.Equal(t, m, out)
}
