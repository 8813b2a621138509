package output

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// ClipboardSink pipes the rendered payload into the platform clipboard tool.
type ClipboardSink struct {
	Format string
	// Command overrides tool detection, e.g. []string{"xclip", "-selection", "clipboard"}.
	Command []string
}

func (s *ClipboardSink) Type() string { return "clipboard" }

func (s *ClipboardSink) Deliver(ctx context.Context, p Payload) (Delivery, error) {
	format := s.Format
	if format == "" {
		format = FormatText
	}
	data, err := Render(p, format)
	if err != nil {
		return Delivery{}, fmt.Errorf("clipboard sink: %w", err)
	}

	argv := s.Command
	if len(argv) == 0 {
		argv, err = clipboardCommand()
		if err != nil {
			return Delivery{}, err
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil
	if err := cmd.Run(); err != nil {
		return Delivery{}, fmt.Errorf("clipboard sink: %s: %w: %s", argv[0], err, stderr.String())
	}
	return Delivery{Sink: s.Type(), Location: "clipboard", At: time.Now()}, nil
}

func clipboardCommand() ([]string, error) {
	var candidates [][]string
	switch runtime.GOOS {
	case "darwin":
		candidates = [][]string{{"pbcopy"}}
	case "windows":
		candidates = [][]string{{"clip"}}
	default:
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			candidates = append(candidates, []string{"wl-copy"})
		}
		candidates = append(candidates,
			[]string{"xclip", "-selection", "clipboard"},
			[]string{"xsel", "--clipboard", "--input"},
		)
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("clipboard sink: no clipboard tool found")
}
