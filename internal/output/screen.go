package output

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	screenTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	screenMeta  = lipgloss.NewStyle().Faint(true)
)

// ScreenSink renders the payload to a terminal writer for live display.
type ScreenSink struct {
	Title  string
	Format string
	Writer io.Writer

	mu *sync.Mutex
}

func (s *ScreenSink) Type() string { return "screen" }

func (s *ScreenSink) Deliver(_ context.Context, p Payload) (Delivery, error) {
	format := s.Format
	if format == "" {
		format = FormatText
	}
	body, err := Render(p, format)
	if err != nil {
		return Delivery{}, fmt.Errorf("screen sink: %w", err)
	}

	title := s.Title
	if title == "" {
		title = p.WorkflowName
	}
	if title == "" {
		title = "autoflow"
	}

	if s.mu != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	_, err = fmt.Fprintf(s.Writer, "%s\n%s\n%s",
		screenTitle.Render(title),
		screenMeta.Render("execution "+p.ExecutionID),
		body,
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("screen sink: %w", err)
	}
	return Delivery{Sink: s.Type(), Location: "screen", At: time.Now()}, nil
}
