package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Nash0810/kollab-board/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Options are the values substituted into the generated configuration.
type Options struct {
	Board    string
	RedisURL string
	Force    bool
}

// Initialize writes a starter kollab.yml into dir.
// Without Force it refuses to overwrite an existing file.
// Returns the path written.
func Initialize(dir string, opts Options) (string, error) {
	path := filepath.Join(dir, config.DefaultPath)

	if !opts.Force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := render(opts)
	if err != nil {
		return "", err
	}

	// Validate before touching the disk so a bad --board never lands in a file.
	if err := validate(content); err != nil {
		return "", err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}

func render(opts Options) ([]byte, error) {
	defaults := config.Default()
	if opts.Board == "" {
		opts.Board = defaults.Board
	}
	if opts.RedisURL == "" {
		opts.RedisURL = defaults.Redis.URL
	}

	raw, err := templatesFS.ReadFile("templates/kollab.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read kollab.yml template: %w", err)
	}

	tmpl, err := template.New("kollab.yml").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse kollab.yml template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render kollab.yml: %w", err)
	}
	return buf.Bytes(), nil
}

// validate round-trips the rendered file through the config loader.
func validate(content []byte) error {
	tmp, err := os.CreateTemp("", "kollab-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if _, err := config.Load(tmp.Name()); err != nil {
		return fmt.Errorf("generated configuration is invalid: %w", err)
	}
	return nil
}
