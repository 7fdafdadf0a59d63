package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/pkg/types"
)

func TestGenerateAndSign(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	assert.Equal(t, types.PeerIDFromPublicKey(id.PublicKey()), id.PeerID())

	sig := id.Sign([]byte("hello"))
	assert.True(t, Verify(id.PublicKey(), []byte("hello"), sig))
	assert.False(t, Verify(id.PublicKey(), []byte("hellO"), sig))
	assert.False(t, Verify(nil, []byte("hello"), sig))
}

func TestFromPrivateKeyRejectsShortKey(t *testing.T) {
	_, err := FromPrivateKey(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	created, err := LoadOrCreate(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, created.PeerID(), loaded.PeerID())
}

func TestLoadInvalidPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidPEM)

	_, err = LoadOrCreate(path)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestModule(t *testing.T) {
	t.Run("injected key", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		var id *Identity
		app := fxtest.New(t,
			fx.Supply(config.NewLocalConfig()),
			fx.Supply(fx.Annotated{Name: "private_key", Target: priv}),
			Module(),
			fx.Populate(&id),
		)
		app.RequireStart().RequireStop()
		assert.Equal(t, types.PeerIDFromPublicKey(priv.Public().(ed25519.PublicKey)), id.PeerID())
	})

	t.Run("key file", func(t *testing.T) {
		cfg := config.NewLocalConfig()
		cfg.Identity.KeyFile = filepath.Join(t.TempDir(), "node.key")

		var id *Identity
		app := fxtest.New(t, fx.Supply(cfg), Module(), fx.Populate(&id))
		app.RequireStart().RequireStop()

		loaded, err := Load(cfg.Identity.KeyFile)
		require.NoError(t, err)
		assert.Equal(t, loaded.PeerID(), id.PeerID())
	})

	t.Run("ephemeral", func(t *testing.T) {
		var id *Identity
		app := fxtest.New(t, fx.Supply(config.NewLocalConfig()), Module(), fx.Populate(&id))
		app.RequireStart().RequireStop()
		assert.False(t, id.PeerID().IsEmpty())
	})
}
