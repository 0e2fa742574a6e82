package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// BatchIDPlaceholder in a blob path is replaced with the batch ID.
const BatchIDPlaceholder = "{batch_id}"

// BlobConfig controls how the results artifact is encoded.
type BlobConfig struct {
	Path        string
	ContentType string
	Indent      int
}

// Blob writes the outcome list of a batch as one JSON document.
type Blob struct {
	store  scrape.BlobStore
	cfg    BlobConfig
	logger *zap.Logger
}

// NewBlob creates a Blob sink.
func NewBlob(store scrape.BlobStore, cfg BlobConfig, logger *zap.Logger) (*Blob, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("blob path is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.Indent < 0 {
		cfg.Indent = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blob{store: store, cfg: cfg, logger: logger}, nil
}

// Write encodes the outcomes and stores them.
func (b *Blob) Write(ctx context.Context, batch scrape.Batch) error {
	data, err := EncodeOutcomes(batch.Outcomes, b.cfg.Indent)
	if err != nil {
		return err
	}
	path := strings.ReplaceAll(b.cfg.Path, BatchIDPlaceholder, batch.ID)
	uri, err := b.store.PutObject(ctx, path, b.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	b.logger.Info("results saved",
		zap.String("batch_id", batch.ID),
		zap.String("uri", uri),
		zap.Int("outcomes", len(batch.Outcomes)),
	)
	return nil
}

// EncodeOutcomes renders outcomes as a JSON array with indent spaces per level.
// A nil slice encodes as an empty array.
func EncodeOutcomes(outcomes []scrape.Outcome, indent int) ([]byte, error) {
	if outcomes == nil {
		outcomes = []scrape.Outcome{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent > 0 {
		enc.SetIndent("", strings.Repeat(" ", indent))
	}
	if err := enc.Encode(outcomes); err != nil {
		return nil, fmt.Errorf("encode outcomes: %w", err)
	}
	return buf.Bytes(), nil
}
