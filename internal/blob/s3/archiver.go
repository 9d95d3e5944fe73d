package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager. Results
// carry every candle of the run and can reach tens of megabytes.
const multipartThreshold = 16 * 1024 * 1024

// Archiver implements domain.ResultArchiver by writing run output under
// <prefix>/<run id>/.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
}

var _ domain.ResultArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver writing under prefix, e.g. "backtests"
// or "paper".
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	return &Archiver{writer: writer, prefix: prefix}
}

// ResultPath is where ArchiveResult stores runID's result.
func (a *Archiver) ResultPath(runID string) string {
	return path.Join(a.prefix, runID, "result.json")
}

// TradesPath is where ArchiveTrades stores runID's trade log.
func (a *Archiver) TradesPath(runID string) string {
	return path.Join(a.prefix, runID, "trades.jsonl")
}

// ArchiveResult uploads result as a single JSON document.
func (a *Archiver) ArchiveResult(ctx context.Context, runID string, result any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return "", fmt.Errorf("s3blob: archive result marshal: %w", err)
	}

	p := a.ResultPath(runID)
	if err := a.upload(ctx, p, &buf, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive result upload: %w", err)
	}
	return p, nil
}

// ArchiveTrades uploads trades as JSONL, one trade per line.
func (a *Archiver) ArchiveTrades(ctx context.Context, runID string, trades []domain.Trade) (string, error) {
	data, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	p := a.TradesPath(runID)
	if err := a.upload(ctx, p, bytes.NewBuffer(data), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return p, nil
}

func (a *Archiver) upload(ctx context.Context, p string, buf *bytes.Buffer, contentType string) error {
	if buf.Len() >= multipartThreshold {
		return a.writer.PutMultipart(ctx, p, buf, minPartSize)
	}
	return a.writer.Put(ctx, p, buf, contentType)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
