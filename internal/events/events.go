// Package events publishes file change notifications for other services
// (search indexing, thumbnails, activity feeds).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/allopze/cloudbox-wopi/internal/logger"
)

const (
	SubjectFileUpdated = "files.updated"
	SubjectFileCreated = "files.created"
	SubjectFileDeleted = "files.deleted"

	streamName = "file-events"
)

// FileEvent is the payload of every files.* message.
type FileEvent struct {
	FileID    string    `json:"file_id"`
	OwnerID   string    `json:"owner_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits file events.
type Publisher interface {
	Publish(ctx context.Context, subject string, event FileEvent) error
	Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, FileEvent) error { return nil }
func (NopPublisher) Close()                                           {}

// NATSPublisher publishes durable events through JetStream.
type NATSPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// ConnectNATS connects to url and makes sure the file event stream exists.
func ConnectNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("cloudbox-wopi"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[NATS] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[NATS] reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to init JetStream: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{"files.*"},
			Storage:  nats.FileStorage,
			MaxAge:   30 * 24 * time.Hour,
		})
		if err != nil {
			logger.Warn("[NATS] failed to ensure stream %s: %v", streamName, err)
		}
	}

	logger.Info("[NATS] connected and JetStream initialized")
	return &NATSPublisher{nc: nc, js: js}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, event FileEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// The message id lets JetStream drop duplicates on client retries.
	_, err = p.js.Publish(subject, data, nats.MsgId(uuid.New().String()), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	p.nc.Drain()
}
