package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

type object struct {
	data        []byte
	contentType string
	multipart   bool
}

type memWriter struct {
	objects map[string]object
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = object{data: b, contentType: contentType}
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, _ := io.ReadAll(data)
	w.objects[path] = object{data: b, multipart: true}
	return nil
}

func TestArchiveResult(t *testing.T) {
	w := &memWriter{objects: map[string]object{}}
	a := NewArchiver(w, "backtests")

	p, err := a.ArchiveResult(t.Context(), "run-1", map[string]any{"final_balance": 10_009.79, "note": "<ok>"})
	require.NoError(t, err)
	assert.Equal(t, "backtests/run-1/result.json", p)

	obj := w.objects[p]
	assert.Equal(t, "application/json", obj.contentType)
	assert.False(t, obj.multipart)
	assert.Contains(t, string(obj.data), `"note":"<ok>"`)

	var back map[string]any
	require.NoError(t, json.Unmarshal(obj.data, &back))
	assert.Equal(t, 10_009.79, back["final_balance"])
}

func TestArchiveLargeResultUsesMultipart(t *testing.T) {
	w := &memWriter{objects: map[string]object{}}
	a := NewArchiver(w, "backtests")

	p, err := a.ArchiveResult(t.Context(), "big", strings.Repeat("x", multipartThreshold))
	require.NoError(t, err)
	assert.True(t, w.objects[p].multipart)
}

func TestArchiveTrades(t *testing.T) {
	w := &memWriter{objects: map[string]object{}}
	a := NewArchiver(w, "paper")
	trades := []domain.Trade{
		{Side: domain.SideLong, EntryPrice: 100, ExitPrice: 110, NetPnL: 9.79, ExitReason: domain.ExitSignal},
		{Side: domain.SideShort, EntryPrice: 110, ExitPrice: 112, NetPnL: -2.2, ExitReason: domain.ExitStopLoss},
	}

	p, err := a.ArchiveTrades(t.Context(), "live-7", trades)
	require.NoError(t, err)
	assert.Equal(t, "paper/live-7/trades.jsonl", p)
	assert.Equal(t, "application/x-ndjson", w.objects[p].contentType)

	lines := bytes.Split(bytes.TrimSpace(w.objects[p].data), []byte("\n"))
	require.Len(t, lines, 2)
	var second domain.Trade
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, trades[1], second)
}

func TestArchiveUploadError(t *testing.T) {
	boom := errors.New("access denied")
	a := NewArchiver(&memWriter{objects: map[string]object{}, err: boom}, "backtests")
	_, err := a.ArchiveResult(t.Context(), "r", 1)
	require.ErrorIs(t, err, boom)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://s3.example.com", normaliseEndpoint("s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
