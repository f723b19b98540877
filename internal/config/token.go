package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tokenFile = "api_token"

// GetAPIToken returns the bearer token guarding the daemon API. It is read
// from PAINEL_API_TOKEN when set, otherwise from a 0600 file in dataDir
// that is created with a fresh random token on first use.
func GetAPIToken(dataDir string) (string, error) {
	if tok := strings.TrimSpace(os.Getenv("PAINEL_API_TOKEN")); tok != "" {
		return tok, nil
	}

	p := filepath.Join(dataDir, tokenFile)
	data, err := os.ReadFile(p)
	if err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
		return "", fmt.Errorf("token file %s is empty", p)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// Lost a race with another process; use its token.
		return GetAPIToken(dataDir)
	}
	if err != nil {
		return "", fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(tok + "\n"); err != nil {
		return "", fmt.Errorf("writing token file: %w", err)
	}
	return tok, nil
}
