package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Nash0810/kollab-board/internal/config"
)

func TestInitialize(t *testing.T) {
	t.Run("fresh directory gets defaults", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, Options{})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "kollab.yml"), path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, *config.Default(), *cfg)
	})

	t.Run("board and redis url are substituted", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, Options{Board: "sprint-42", RedisURL: "redis://cache:6379/3"})
		require.NoError(t, err)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sprint-42", cfg.Board)
		assert.Equal(t, "redis://cache:6379/3", cfg.Redis.URL)
	})

	t.Run("output is plain yaml", func(t *testing.T) {
		dir := t.TempDir()

		path, err := Initialize(dir, Options{Board: "team"})
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, yaml.Unmarshal(content, &doc))
		assert.Equal(t, "team", doc["board"])
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "kollab.yml"), []byte("old"), 0644))

		_, err := Initialize(dir, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "board already initialized")

		content, err := os.ReadFile(filepath.Join(dir, "kollab.yml"))
		require.NoError(t, err)
		assert.Equal(t, "old", string(content))
	})

	t.Run("force overwrites", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "kollab.yml"), []byte("old"), 0644))

		path, err := Initialize(dir, Options{Force: true})
		require.NoError(t, err)

		_, err = config.Load(path)
		assert.NoError(t, err)
	})

	t.Run("invalid board is rejected before writing", func(t *testing.T) {
		dir := t.TempDir()

		_, err := Initialize(dir, Options{Board: "my:board"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generated configuration is invalid")

		_, statErr := os.Stat(filepath.Join(dir, "kollab.yml"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "kollab.yml"), []byte("x"), 0644))
	err := CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kollab init --force")
}
