package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileSink writes the rendered payload to a file.
type FileSink struct {
	Path   string
	Format string
	Append bool
}

func (s *FileSink) Type() string { return "file" }

func (s *FileSink) Deliver(_ context.Context, p Payload) (Delivery, error) {
	if s.Path == "" {
		return Delivery{}, fmt.Errorf("file sink: path is required")
	}
	path := expandPath(s.Path, p)

	data, err := Render(p, s.Format)
	if err != nil {
		return Delivery{}, fmt.Errorf("file sink: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Delivery{}, fmt.Errorf("file sink: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Delivery{}, fmt.Errorf("file sink: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Delivery{}, fmt.Errorf("file sink: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Delivery{}, fmt.Errorf("file sink: close %s: %w", path, err)
	}

	return Delivery{Sink: s.Type(), Location: path, At: time.Now()}, nil
}
