// Package notify publishes chunk lifecycle events to NATS so downstream
// consumers can follow a job's audio as it becomes available.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Notifier publishes an AudioChunkCreatedEvent for every chunk whose audio
// becomes available. Publishing is best effort: failures are logged and
// never block the pipeline.
type Notifier struct {
	conn    *nats.Conn
	subject string
	log     *logger.Logger
}

// New creates a notifier publishing on the given subject.
func New(conn *nats.Conn, subject string, log *logger.Logger) *Notifier {
	return &Notifier{
		conn:    conn,
		subject: subject,
		log:     log,
	}
}

// ChunkReady announces that a chunk's audio is resolved. audioKey is the
// cache fingerprint the audio is stored under.
func (n *Notifier) ChunkReady(jobID string, chunkIndex, chunkTotal int, audioKey string) {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: jobID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   audioKey,
		PageNumber: chunkIndex,
		TotalPages: chunkTotal,
	}

	err := n.publish(event)
	if err != nil {
		n.log.Warn("Failed to publish chunk event for job %s: %v", jobID, err)
	}
}

func (n *Notifier) publish(event *events.AudioChunkCreatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk event: %w", err)
	}

	err = n.conn.Publish(n.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish chunk event: %w", err)
	}

	return nil
}
