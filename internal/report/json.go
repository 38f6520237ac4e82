package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"waker/internal/checks"
)

// WriteJSON replaces the artifact at path with results as an indented JSON
// array, creating parent directories as needed.
func WriteJSON(path string, results []checks.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if results == nil {
		results = []checks.Result{}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}
