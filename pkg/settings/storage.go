// Package settings persists the relay server address and token between runs
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is returned when nothing was saved yet
var ErrNotConfigured = errors.New("connection settings were not saved yet")

// Settings are the values needed to open a connection
type Settings struct {
	Address string `json:"address" yaml:"address" toml:"address"`
	Token   string `json:"token" yaml:"token" toml:"token"`
}

// Merge returns s with empty fields taken from fallback
func (s Settings) Merge(fallback Settings) Settings {
	if s.Address == "" {
		s.Address = fallback.Address
	}
	if s.Token == "" {
		s.Token = fallback.Token
	}
	return s
}

// Storage is an interface for storing and retrieving connection settings
type Storage interface {
	Load() (Settings, error)
	Save(Settings) error
}

type inMemoryStorage struct {
	mu       sync.Mutex
	settings *Settings
}

func (s *inMemoryStorage) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return Settings{}, ErrNotConfigured
	}
	return *s.settings, nil
}

func (s *inMemoryStorage) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

// NewInMemoryStorage creates a Storage that forgets everything on exit
func NewInMemoryStorage() Storage {
	return &inMemoryStorage{}
}

var (
	bucketName  = []byte("settings")
	settingsKey = []byte("connection")
)

type boltStorage struct {
	db *bolt.DB
}

func (s *boltStorage) Load() (Settings, error) {
	var settings Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket(bucketName).Get(settingsKey)
		if payload == nil {
			return ErrNotConfigured
		}
		return json.Unmarshal(payload, &settings)
	})
	return settings, err
}

func (s *boltStorage) Save(settings Settings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		encoded, encodeErr := json.Marshal(settings)
		if encodeErr != nil {
			return encodeErr
		}
		return tx.Bucket(bucketName).Put(settingsKey, encoded)
	})
}

// Close releases the database file
func (s *boltStorage) Close() error {
	return s.db.Close()
}

// NewBoltStorage creates a BoltDB (persistent, on-disk storage) Storage instance.
// The returned storage also implements io.Closer.
func NewBoltStorage(path string) (Storage, error) {
	db, openErr := bolt.Open(path, 0600, nil)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", openErr)
	}
	if updateErr := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); updateErr != nil {
		return nil, fmt.Errorf("failed to create BoltDB bucket: %w", updateErr)
	}
	return &boltStorage{db: db}, nil
}

type codec struct {
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

var codecs = map[string]codec{
	".yaml": {marshal: yaml.Marshal, unmarshal: yaml.Unmarshal},
	".yml":  {marshal: yaml.Marshal, unmarshal: yaml.Unmarshal},
	".json": {
		marshal: func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
		unmarshal: json.Unmarshal,
	},
	".toml": {
		marshal: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			if encodeErr := toml.NewEncoder(&buf).Encode(v); encodeErr != nil {
				return nil, encodeErr
			}
			return buf.Bytes(), nil
		},
		unmarshal: toml.Unmarshal,
	},
}

type fileStorage struct {
	fs    afero.Fs
	path  string
	codec codec
}

func (s *fileStorage) Load() (Settings, error) {
	var settings Settings
	payload, readErr := afero.ReadFile(s.fs, s.path)
	if errors.Is(readErr, os.ErrNotExist) {
		return settings, ErrNotConfigured
	}
	if readErr != nil {
		return settings, fmt.Errorf("failed to read %s: %w", s.path, readErr)
	}
	if unmarshalErr := s.codec.unmarshal(payload, &settings); unmarshalErr != nil {
		return settings, fmt.Errorf("failed to parse %s: %w", s.path, unmarshalErr)
	}
	return settings, nil
}

func (s *fileStorage) Save(settings Settings) error {
	payload, marshalErr := s.codec.marshal(settings)
	if marshalErr != nil {
		return marshalErr
	}
	if mkdirErr := s.fs.MkdirAll(filepath.Dir(s.path), 0700); mkdirErr != nil {
		return mkdirErr
	}
	return afero.WriteFile(s.fs, s.path, payload, 0600)
}

// NewFileStorage creates a Storage keeping settings in a single file. The
// format is picked by extension: .yaml, .yml, .json or .toml.
func NewFileStorage(fs afero.Fs, path string) (Storage, error) {
	c, ok := codecs[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported settings file format: %s", path)
	}
	return &fileStorage{fs: fs, path: path, codec: c}, nil
}
