package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INSIGHTBULL_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8002, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.MaxItemsPerSymbol)
	assert.True(t, cfg.ParallelCollectors)
	assert.Equal(t, 300, cfg.CollectorTimeout)
	assert.Equal(t, 16, cfg.SentimentBatchSize)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Contains(t, cfg.DatabasePath, "insightbull.db")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INSIGHTBULL_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PIPELINE_PARALLEL_COLLECTORS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.ParallelCollectors)
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("INSIGHTBULL_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "99999")

	_, err := Load()
	assert.Error(t, err)
}

func TestEnvKeyLoader(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "fh-secret")
	t.Setenv("NEWS_API_KEY", "")

	keys, err := EnvKeyLoader{}.Load()
	require.NoError(t, err)

	assert.Equal(t, "fh-secret", keys[KeyFinnhub])
	_, hasNews := keys[KeyNewsAPI]
	assert.False(t, hasNews)
}

// encryptKeyFile builds a key file the way the ops tooling does: AES-GCM over
// a JSON object, key stretched from the master passphrase with SHA-256.
func encryptKeyFile(t *testing.T, master string, keys map[string]string) string {
	t.Helper()

	plaintext, err := json.Marshal(keys)
	require.NoError(t, err)

	keyBytes := sha256.Sum256([]byte(master))
	block, err := aes.NewCipher(keyBytes[:])
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	blob := gcm.Seal(nonce, nonce, plaintext, nil)

	path := filepath.Join(t.TempDir(), "keys.enc")
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(blob)), 0o600))
	return path
}

func TestFileKeyLoaderRoundTrip(t *testing.T) {
	path := encryptKeyFile(t, "test-master", map[string]string{
		KeyFinnhub:   "fh-key",
		KeyAnthropic: "llm-key",
	})

	loader := NewFileKeyLoader(path, zerolog.Nop())
	loader.MasterKey = "test-master"

	keys, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "fh-key", keys[KeyFinnhub])
	assert.Equal(t, "llm-key", keys[KeyAnthropic])
}

func TestFileKeyLoaderWrongMaster(t *testing.T) {
	path := encryptKeyFile(t, "right-master", map[string]string{KeyFinnhub: "x"})

	loader := NewFileKeyLoader(path, zerolog.Nop())
	loader.MasterKey = "wrong-master"

	_, err := loader.Load()
	assert.Error(t, err)
}

func TestChainKeyLoaderMergesAndSkipsFailures(t *testing.T) {
	t.Setenv("MARKETAUX_API_KEY", "ma-key")

	broken := NewFileKeyLoader(filepath.Join(t.TempDir(), "missing.enc"), zerolog.Nop())
	broken.MasterKey = "irrelevant"

	chain := ChainKeyLoader{
		Loaders: []KeyLoader{broken, EnvKeyLoader{}},
		Log:     zerolog.Nop(),
	}

	keys, err := chain.Load()
	require.NoError(t, err)
	assert.Equal(t, "ma-key", keys[KeyMarketAux])
}
