package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "jobats.json")
	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(validConfig()))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) { changes <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	updated := validConfig()
	updated.Dispatcher.DefaultMaxRetries = 9
	require.NoError(t, loader.Save(updated))

	select {
	case cfg := <-changes:
		assert.Equal(t, 9, cfg.Dispatcher.DefaultMaxRetries)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatcherWarnsAboutQuestionableValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "jobats.json")
	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(validConfig()))

	logs := &syncBuffer{}
	changes := make(chan *Config, 4)
	w, err := NewWatcher(loader, zerolog.New(logs), func(cfg *Config) { changes <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	updated := validConfig()
	updated.AI.Temperature = 3.5
	require.NoError(t, loader.Save(updated))

	select {
	case cfg := <-changes:
		assert.Equal(t, 3.5, cfg.AI.Temperature)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
	assert.Contains(t, logs.String(), "Reloaded config looks suspicious")
	assert.Contains(t, logs.String(), "temperature must be between 0 and 2")
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "jobats.json")
	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(validConfig()))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) { changes <- cfg })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"ai": {"profiles": []}}`), 0600))

	select {
	case <-changes:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewLoader(filepath.Join(tmpDir, "jobats.json"))
	require.NoError(t, loader.Save(validConfig()))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) { changes <- cfg })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "other.json"), []byte(`{}`), 0600))

	select {
	case <-changes:
		t.Fatal("unrelated file triggered reload")
	case <-time.After(1200 * time.Millisecond):
	}

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
