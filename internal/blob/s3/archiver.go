package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/brokergw/internal/domain"
)

// ArchiveImpl implements domain.Archiver by serialising a session's ledger to
// JSONL and uploading it. Archives are write-once: every call produces a new
// object, so a retried shutdown never overwrites an earlier archive.
type ArchiveImpl struct {
	writer domain.BlobWriter
	audit  domain.AuditStore // optional
	now    func() time.Time
	// multipartAbove switches to multipart uploads for large payloads.
	multipartAbove int
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:         writer,
		audit:          audit,
		now:            time.Now,
		multipartAbove: int(minPartSize),
	}
}

// executionRecord is the archived line format.
type executionRecord struct {
	Session      string          `json:"session"`
	ExecID       string          `json:"exec_id"`
	BrokerID     int64           `json:"broker_id"`
	LocalID      int64           `json:"local_id"`
	Symbol       string          `json:"symbol"`
	SecurityType string          `json:"security_type"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	Currency     string          `json:"currency"`
	Time         time.Time       `json:"time"`
}

// ArchiveExecutions uploads execs and returns the object path. An empty
// session is not archived and returns "".
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, sessionID string, execs []domain.Execution) (string, error) {
	if len(execs) == 0 {
		return "", nil
	}

	records := make([]executionRecord, len(execs))
	for i, e := range execs {
		records[i] = executionRecord{
			Session:      sessionID,
			ExecID:       e.ExecID,
			BrokerID:     e.BrokerID,
			LocalID:      e.LocalID,
			Symbol:       e.Symbol,
			SecurityType: string(e.SecurityType),
			Side:         string(e.Side),
			Quantity:     e.Quantity,
			Price:        e.Price,
			Commission:   e.Commission,
			Currency:     e.Currency,
			Time:         e.Time,
		}
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath(a.now().UTC(), sessionID)
	if len(buf) > a.multipartAbove {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":    path,
			"count":   len(execs),
			"session": sessionID,
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return path, nil
}

// archivePath partitions archives by day:
//
//	executions/2026/10/16/<session>-<uuid>.jsonl
func archivePath(at time.Time, sessionID string) string {
	return fmt.Sprintf("executions/%s/%s-%s.jsonl", at.Format("2006/01/02"), sessionID, uuid.NewString())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
