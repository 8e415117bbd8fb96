// Package events publishes rename-completed events to interested listeners.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/nats-io/nats.go"
	"gitlab.com/gitlab-org/rename-project/internal/models"
)

// Event is emitted once a project has been renamed on this node.
type Event struct {
	ID         string             `json:"id"`
	OldProject models.ProjectName `json:"old_project"`
	NewProject models.ProjectName `json:"new_project"`
	Plugin     string             `json:"plugin"`
	Timestamp  time.Time          `json:"timestamp"`
	// Data is the legacy "<old>:<new>" payload.
	Data string `json:"data"`
}

// NewEvent returns the rename-completed event of the rename from old to new.
func NewEvent(plugin string, old, new models.ProjectName) Event {
	return Event{
		ID:         uuid.New().String(),
		OldProject: old,
		NewProject: new,
		Plugin:     plugin,
		Timestamp:  time.Now().UTC(),
		Data:       old.String() + ":" + new.String(),
	}
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher only logs events. It is used when no message broker is configured.
type LogPublisher struct{}

// Publish logs the event.
func (LogPublisher) Publish(ctx context.Context, event Event) error {
	ctxlogrus.Extract(ctx).WithFields(map[string]interface{}{
		"event_id":    event.ID,
		"old_project": event.OldProject,
		"new_project": event.NewProject,
	}).Info("project renamed")
	return nil
}

// NATSPublisher publishes events as JSON messages on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher returns a publisher using an established connection.
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Connect dials the NATS server and returns a publisher owning the connection.
func Connect(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("rename-project"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	return NewNATSPublisher(conn, subject), nil
}

// Publish sends the event and waits until the server has processed it.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}

	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
