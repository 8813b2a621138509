package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/streaming"
)

// SessionPublisher forwards run events to one MCP client session as
// notifications/message. It satisfies streaming.Publisher.
type SessionPublisher struct {
	mcpServer *server.MCPServer
	sessionID string
}

// NewSessionPublisher creates a publisher bound to sessionID.
func NewSessionPublisher(mcpServer *server.MCPServer, sessionID string) *SessionPublisher {
	return &SessionPublisher{mcpServer: mcpServer, sessionID: sessionID}
}

// Publish is best-effort: a session that went away is not an error.
func (p *SessionPublisher) Publish(_ context.Context, ev streaming.Event) error {
	payload := map[string]any{
		"level":  "info",
		"logger": "autoflow",
		"data":   ev,
	}
	err := p.mcpServer.SendNotificationToSpecificClient(p.sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		return nil
	}
	return err
}
