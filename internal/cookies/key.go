package cookies

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/instant-hq/instant/internal/logging"
)

// LoadOrCreateKey returns the server signing key. If path is empty a fresh
// random key is generated, meaning cookies will not survive a restart. An
// explicitly configured path that cannot be read is a startup failure.
func LoadOrCreateKey(path string) ([]byte, error) {
	if path == "" {
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
		logging.Warn(context.Background(), "No cookie keyfile configured, using an ephemeral key")
		return key, nil
	}

	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cookie keyfile %s: %w", path, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cookie keyfile %s must hold exactly %d bytes (got %d)", path, KeySize, len(key))
	}
	return key, nil
}
