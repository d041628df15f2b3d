// Package producer publishes document outcomes to Kafka.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/filigrane/internal/model"
)

// batchTimeout caps how long a single event waits for a batch to fill.
const batchTimeout = 10 * time.Millisecond

// messageWriter is the part of kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message published for every document of a run.
type Event struct {
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	File       string    `json:"file"`
	Status     string    `json:"status"`
	OutputPath string    `json:"output_path,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewEvent builds the event for one outcome.
func NewEvent(runID string, o model.Outcome) Event {
	return Event{
		RunID:      runID,
		JobID:      o.JobID,
		File:       o.Document.RelPath,
		Status:     string(o.Status),
		OutputPath: o.OutputPath,
		Bytes:      o.Bytes,
		Error:      o.Reason(),
		FinishedAt: o.FinishedAt,
	}
}

// Producer represents a Kafka producer.
type Producer struct {
	writer   messageWriter
	strategy retry.Strategy
}

// New creates a new Producer.
// - brokers: Kafka broker addresses
// - topic: topic the events are written to
// - s: retry strategy
func New(brokers []string, topic string, s retry.Strategy) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		// Events are written one at a time.
		BatchTimeout: batchTimeout,
	}

	return &Producer{writer: w, strategy: s}
}

// Publish serializes the outcome to JSON and sends it to Kafka.
// The document path is used as the message key so every event of a file
// lands on the same partition.
func (p *Producer) Publish(ctx context.Context, runID string, o model.Outcome) error {
	data, err := json.Marshal(NewEvent(runID, o))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(o.Document.RelPath),
		Value: data,
	}

	err = retry.Do(func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, p.strategy)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
