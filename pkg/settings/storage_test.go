package settings

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageImplementations(t *testing.T) {
	tests := []struct {
		name    string
		storage func(t *testing.T) Storage
	}{
		{
			name: "in memory",
			storage: func(t *testing.T) Storage {
				return NewInMemoryStorage()
			},
		},
		{
			name: "bolt",
			storage: func(t *testing.T) Storage {
				s, err := NewBoltStorage(filepath.Join(t.TempDir(), "settings.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.(io.Closer).Close() })
				return s
			},
		},
		{
			name: "yaml file",
			storage: func(t *testing.T) Storage {
				s, err := NewFileStorage(afero.NewMemMapFs(), "/etc/breathlink/settings.yaml")
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "json file",
			storage: func(t *testing.T) Storage {
				s, err := NewFileStorage(afero.NewMemMapFs(), "settings.json")
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "toml file",
			storage: func(t *testing.T) Storage {
				s, err := NewFileStorage(afero.NewMemMapFs(), "conf/settings.toml")
				require.NoError(t, err)
				return s
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			storage := tt.storage(t)
			_, emptyErr := storage.Load()
			assert.ErrorIs(t, emptyErr, ErrNotConfigured)

			// when
			require.NoError(t, storage.Save(Settings{Address: "relay://first", Token: "1"}))
			require.NoError(t, storage.Save(Settings{Address: "relays://example.com", Token: "123"}))

			// then
			loaded, loadErr := storage.Load()
			require.NoError(t, loadErr)
			assert.Equal(t, Settings{Address: "relays://example.com", Token: "123"}, loaded)
		})
	}
}

func TestFileStorageReadsHandWrittenFiles(t *testing.T) {
	tests := []struct {
		path    string
		content string
	}{
		{path: "settings.yml", content: "address: relay://host:8080\ntoken: \"42\"\n"},
		{path: "settings.toml", content: "address = \"relay://host:8080\"\ntoken = \"42\"\n"},
		{path: "settings.json", content: `{"address": "relay://host:8080", "token": "42"}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, tt.path, []byte(tt.content), 0600))
			storage, err := NewFileStorage(fs, tt.path)
			require.NoError(t, err)

			loaded, loadErr := storage.Load()

			require.NoError(t, loadErr)
			assert.Equal(t, Settings{Address: "relay://host:8080", Token: "42"}, loaded)
		})
	}
}

func TestFileStorageRejectsUnknownExtension(t *testing.T) {
	_, err := NewFileStorage(afero.NewMemMapFs(), "settings.ini")

	assert.Error(t, err)
}

func TestFileStorageReportsMalformedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "settings.json", []byte("{"), 0600))
	storage, err := NewFileStorage(fs, "settings.json")
	require.NoError(t, err)

	_, loadErr := storage.Load()

	assert.Error(t, loadErr)
	assert.NotErrorIs(t, loadErr, ErrNotConfigured)
}

func TestSettingsMerge(t *testing.T) {
	stored := Settings{Address: "relay://stored", Token: "1"}

	assert.Equal(t, stored, Settings{}.Merge(stored))
	assert.Equal(t, Settings{Address: "relay://flag", Token: "1"}, Settings{Address: "relay://flag"}.Merge(stored))
	assert.Equal(t, Settings{Address: "relay://stored", Token: "9"}, Settings{Token: "9"}.Merge(stored))
}
