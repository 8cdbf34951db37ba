package realtime

import (
	"context"
	"encoding/json"
)

// Publisher delivers a named event to every client joined to a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID, event string, payload any) error
}

// Message is the frame written to sockets.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Discard drops every event. It stands in when no client transport is wired.
type Discard struct{}

func (Discard) Publish(context.Context, string, string, any) error { return nil }
