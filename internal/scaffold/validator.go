package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Nash0810/kollab-board/internal/config"
)

// CheckExisting returns an error if dir already holds a kollab.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("board already initialized\n\nFound existing: %s\n\nUse 'kollab init --force' to overwrite it", config.DefaultPath)
	}
	return nil
}
