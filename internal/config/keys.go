package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Recognized credential names. A missing key disables the dependent
// collector or verifier rather than failing startup.
const (
	KeyFinnhub   = "finnhub_api_key"
	KeyNewsAPI   = "news_api_key"
	KeyMarketAux = "marketaux_api_key"
	KeyAnthropic = "anthropic_api_key"
)

// KeyLoader resolves API credentials by name.
type KeyLoader interface {
	Load() (map[string]string, error)
}

// EnvKeyLoader reads credentials from plain environment variables.
type EnvKeyLoader struct{}

// envNames maps credential names to their environment variable spellings.
var envNames = map[string]string{
	KeyFinnhub:   "FINNHUB_API_KEY",
	KeyNewsAPI:   "NEWS_API_KEY",
	KeyMarketAux: "MARKETAUX_API_KEY",
	KeyAnthropic: "ANTHROPIC_API_KEY",
}

// Load returns every credential that is set in the environment.
func (EnvKeyLoader) Load() (map[string]string, error) {
	keys := make(map[string]string)
	for name, env := range envNames {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			keys[name] = v
		}
	}
	return keys, nil
}

// FileKeyLoader reads an AES-GCM-encrypted JSON document of credentials.
// The master key comes from INSIGHTBULL_MASTER_KEY, stretched with SHA-256.
type FileKeyLoader struct {
	Path      string
	MasterKey string
	log       zerolog.Logger
}

// NewFileKeyLoader creates a file-backed key loader.
func NewFileKeyLoader(path string, log zerolog.Logger) *FileKeyLoader {
	return &FileKeyLoader{
		Path:      path,
		MasterKey: os.Getenv("INSIGHTBULL_MASTER_KEY"),
		log:       log.With().Str("component", "key_loader").Logger(),
	}
}

// Load decrypts the key file. File format: base64(nonce || ciphertext) where
// the plaintext is a JSON object {name: secret}.
func (l *FileKeyLoader) Load() (map[string]string, error) {
	if l.MasterKey == "" {
		return nil, fmt.Errorf("INSIGHTBULL_MASTER_KEY is not set")
	}

	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key file is not valid base64: %w", err)
	}

	keyBytes := sha256.Sum256([]byte(l.MasterKey))
	block, err := aes.NewCipher(keyBytes[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("key file too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key file: %w", err)
	}

	var keys map[string]string
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted key file: %w", err)
	}

	l.log.Info().Int("keys", len(keys)).Msg("Loaded encrypted credentials")
	return keys, nil
}

// ChainKeyLoader tries loaders in order and merges their results; earlier
// loaders win on conflicts. A loader error is logged and skipped so a broken
// key file degrades to env-only credentials.
type ChainKeyLoader struct {
	Loaders []KeyLoader
	Log     zerolog.Logger
}

// Load merges all loader results.
func (c ChainKeyLoader) Load() (map[string]string, error) {
	merged := make(map[string]string)
	for _, l := range c.Loaders {
		keys, err := l.Load()
		if err != nil {
			c.Log.Warn().Err(err).Msg("Key loader failed, continuing with remaining loaders")
			continue
		}
		for name, secret := range keys {
			if _, exists := merged[name]; !exists {
				merged[name] = secret
			}
		}
	}
	return merged, nil
}
