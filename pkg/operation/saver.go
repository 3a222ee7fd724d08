package operation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const saverLogPrefix = "operation:saver"

// Saver stores a downloaded body under a filename.
type Saver interface {
	Save(filename string, data []byte) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(filename string, data []byte) error

// Save calls f.
func (f SaverFunc) Save(filename string, data []byte) error {
	return f(filename, data)
}

// DirSaver writes downloads into Dir. Only the base name of the filename is
// used.
type DirSaver struct {
	Dir string
}

// Save writes data to Dir/base(filename).
func (s DirSaver) Save(filename string, data []byte) error {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || name == string(filepath.Separator) {
		return errors.New("empty filename")
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("%s - failed to write %s: %w", saverLogPrefix, target, err)
	}
	slog.Info(fmt.Sprintf("%s - Saved %d bytes to %s", saverLogPrefix, len(data), target))
	return nil
}
