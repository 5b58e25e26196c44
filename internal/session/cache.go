package session

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

// DefaultCacheName is the fixed file name the identity is cached under.
const DefaultCacheName = "session.yaml"

var ErrNoSession = errors.New("no cached session")

type cachedSession struct {
	Identity domain.Identity `yaml:"identity"`
}

// FileCache stores the identity as YAML on local disk.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache {
	if path == "" {
		path = DefaultCacheName
	}
	return &FileCache{path: path}
}

func (c *FileCache) Load() (*domain.Identity, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cs cachedSession
	if err := yaml.Unmarshal(b, &cs); err != nil {
		return nil, err
	}
	if cs.Identity.ID == "" {
		return nil, ErrNoSession
	}
	return &cs.Identity, nil
}

func (c *FileCache) Save(id domain.Identity) error {
	b, err := yaml.Marshal(cachedSession{Identity: id})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(c.path, b, 0o600)
}

func (c *FileCache) Clear() error {
	err := os.Remove(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
