package arca

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// validityMargin is how much remaining lifetime a token needs before it
// is considered usable. Tokens closer to expiry trigger a new WSAA call.
const validityMargin = 5 * time.Minute

// tokenCache keeps tokens in memory first and on disk second, so a
// process restart does not burn a WSAA authentication (AFIP rejects a
// second login while a ticket is still active).
type tokenCache struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	mem map[string]Token
}

func newTokenCache(dir string, logger *slog.Logger) *tokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &tokenCache{dir: dir, logger: logger, mem: map[string]Token{}}
}

func (c *tokenCache) path(cuit string, homologation bool) string {
	env := "prod"
	if homologation {
		env = "homo"
	}
	return filepath.Join(c.dir, fmt.Sprintf("token_%s_%s.json", cuit, env))
}

// get returns a still-valid token from memory or disk, or false.
func (c *tokenCache) get(cuit string, homologation bool) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(cuit, homologation)
	if tok, ok := c.mem[path]; ok {
		if tokenValid(tok) {
			return tok, true
		}
		delete(c.mem, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Token{}, false
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil || !tokenValid(tok) {
		c.logger.Info("wsaa: cached token unusable, removing", "path", path)
		_ = os.Remove(path)
		return Token{}, false
	}
	c.logger.Info("wsaa: valid token found on disk", "expires", tok.Expiration)
	c.mem[path] = tok
	return tok, true
}

func (c *tokenCache) put(cuit string, homologation bool, tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(cuit, homologation)
	c.mem[path] = tok
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		c.logger.Warn("wsaa: could not create token cache dir", "error", err)
		return
	}
	data, _ := json.MarshalIndent(tok, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		c.logger.Warn("wsaa: could not save token to disk", "error", err)
	}
}

func (c *tokenCache) drop(cuit string, homologation bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.path(cuit, homologation)
	delete(c.mem, path)
	_ = os.Remove(path)
}

// tokenValid reports whether the token keeps more than the validity
// margin of lifetime. AFIP expiration timestamps carry a zone offset.
func tokenValid(tok Token) bool {
	exp, err := time.Parse(time.RFC3339, tok.Expiration)
	if err != nil {
		return false
	}
	return time.Now().Before(exp.Add(-validityMargin))
}
