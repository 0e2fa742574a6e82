package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// Notice is the completion message published for a batch.
type Notice struct {
	BatchID    string         `json:"batch_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Workers    int            `json:"workers"`
	Summary    scrape.Summary `json:"summary"`
}

// Notify publishes a Notice for every batch it is handed.
type Notify struct {
	publisher scrape.Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotify creates a Notify sink publishing to topic.
func NewNotify(publisher scrape.Publisher, topic string, logger *zap.Logger) (*Notify, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notify{publisher: publisher, topic: topic, logger: logger}, nil
}

// Write publishes the batch summary.
func (n *Notify) Write(ctx context.Context, batch scrape.Batch) error {
	notice := Notice{
		BatchID:    batch.ID,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		Workers:    batch.Workers,
		Summary:    batch.Summary(),
	}
	id, err := n.publisher.Publish(ctx, n.topic, notice)
	if err != nil {
		return fmt.Errorf("publish completion notice: %w", err)
	}
	n.logger.Debug("completion notice published", zap.String("batch_id", batch.ID), zap.String("message_id", id))
	return nil
}
