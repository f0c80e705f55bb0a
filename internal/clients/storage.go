package clients

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageClient keeps export files on the local filesystem.
type StorageClient struct {
	BaseDir      string // directory files are written to
	PublicPrefix string // URL prefix files are served under, e.g. "/files"
	BaseURL      string // optional scheme+host used to build absolute URLs
}

// NewLocalStorage creates baseDir if it does not exist.
func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure storage dir %q: %w", baseDir, err)
	}

	return &StorageClient{BaseDir: baseDir, PublicPrefix: publicPrefix, BaseURL: baseURL}, nil
}

// Put writes data under a random prefix and returns the stored file name.
func (s *StorageClient) Put(_ context.Context, fileName string, data []byte) (string, error) {
	fileName = filepath.Base(fileName)

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate file name: %w", err)
	}
	final := hex.EncodeToString(randBytes) + "_" + fileName

	path := filepath.Join(s.BaseDir, final)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize file: %w", err)
	}

	return final, nil
}

// URL returns BaseURL+PublicPrefix/name, or just PublicPrefix/name without BaseURL.
func (s *StorageClient) URL(_ context.Context, fileName string) (string, error) {
	prefix := "/" + strings.Trim(s.PublicPrefix, "/")
	if prefix == "/" {
		prefix = "/files"
	}

	base := strings.TrimRight(s.BaseURL, "/")
	return fmt.Sprintf("%s%s/%s", base, prefix, fileName), nil
}

// Open resolves a served file name inside BaseDir. Names with path separators are rejected.
func (s *StorageClient) Open(fileName string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		return "", os.ErrNotExist
	}
	path := filepath.Join(s.BaseDir, fileName)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// OriginalName strips the random prefix added by Put.
func OriginalName(stored string) string {
	if idx := strings.IndexByte(stored, '_'); idx >= 0 {
		return stored[idx+1:]
	}
	return stored
}

// CleanupOlderThan deletes files in BaseDir last modified more than d ago.
func (s *StorageClient) CleanupOlderThan(d time.Duration) error {
	now := time.Now()
	return filepath.WalkDir(s.BaseDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) > d {
			_ = os.Remove(path)
		}
		return nil
	})
}
