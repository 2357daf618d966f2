package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// Publisher is the subset of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON on a subject.
type NATSSink struct {
	conn    Publisher
	subject string
	close   func()
}

// ConnectNATS dials url and returns a sink publishing on subject.
func ConnectNATS(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("ekaya-monitor"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s := NewNATSSink(conn, subject)
	s.close = func() {
		_ = conn.Drain()
		conn.Close()
	}
	return s, nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn Publisher, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Publish(_ context.Context, e models.CheckRunEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.subject, err)
	}
	return nil
}

// Close drains the connection if the sink owns it.
func (s *NATSSink) Close() {
	if s.close != nil {
		s.close()
	}
}
