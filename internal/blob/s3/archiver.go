package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Narrow store interfaces required by the archiver: only the time-ranged
// queries it actually calls, not the full domain stores.

// MarketArchiveStore provides read access to settled markets for archival.
type MarketArchiveStore interface {
	// ListResolvedBefore returns markets resolved strictly before the cutoff.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
}

// BetArchiveStore provides read access to settled bets for archival.
type BetArchiveStore interface {
	// ListSettledBefore returns bets on markets resolved strictly before
	// the cutoff.
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Bet, error)
}

// Archiver exports settled markets and their bets as monthly JSONL objects.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here; that is a separate, explicit step executed after the
// archive has been verified.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets MarketArchiveStore
	bets    BetArchiveStore
	audit   domain.AuditStore

	bus         domain.SignalBus
	eventStream string
	lastEventID string
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, markets MarketArchiveStore, bets BetArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:  writer,
		markets: markets,
		bets:    bets,
		audit:   audit,
	}
}

// WithReader enables post-upload verification: each archive object is read
// back and its record count compared against what was uploaded.
func (a *Archiver) WithReader(reader domain.BlobReader) *Archiver {
	a.reader = reader
	return a
}

// WithEventStream enables event export: each sweep drains the named durable
// stream through the signal bus into a timestamped JSONL object.
func (a *Archiver) WithEventStream(bus domain.SignalBus, stream string) *Archiver {
	a.bus = bus
	a.eventStream = stream
	a.lastEventID = "0"
	return a
}

// ArchiveMarkets uploads all markets resolved before the cutoff to
// archive/markets/YYYY-MM.jsonl, records the event in the audit log, and
// returns the number of archived records.
func (a *Archiver) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(markets)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}
	if err := a.verify(ctx, path, len(markets)); err != nil {
		return 0, fmt.Errorf("s3blob: archive markets: %w", err)
	}

	count := int64(len(markets))
	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
	}
	return count, nil
}

// ArchiveBets uploads all settled bets before the cutoff to
// archive/bets/YYYY-MM.jsonl, records the event in the audit log, and
// returns the number of archived records.
func (a *Archiver) ArchiveBets(ctx context.Context, before time.Time) (int64, error) {
	bets, err := a.bets.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets query: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(bets)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets marshal: %w", err)
	}

	path := archivePath("bets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive bets upload: %w", err)
	}
	if err := a.verify(ctx, path, len(bets)); err != nil {
		return 0, fmt.Errorf("s3blob: archive bets: %w", err)
	}

	count := int64(len(bets))
	if err := a.audit.Log(ctx, "archive.bets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive bets audit log: %w", err)
	}
	return count, nil
}

// eventBatchSize bounds a single stream read during an event export sweep.
const eventBatchSize = 500

// ArchiveEvents drains the durable event stream since the last sweep and
// uploads the batch to archive/events/<sweep timestamp>.jsonl, returning the
// number of exported events. The stream checkpoint only advances after the
// upload has been verified, so a failed sweep re-exports the same events.
func (a *Archiver) ArchiveEvents(ctx context.Context, at time.Time) (int64, error) {
	if a.bus == nil {
		return 0, nil
	}

	var (
		buf    bytes.Buffer
		count  int64
		lastID = a.lastEventID
	)
	for {
		msgs, err := a.bus.StreamRead(ctx, a.eventStream, lastID, eventBatchSize)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events read: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			buf.Write(msg.Payload)
			buf.WriteByte('\n')
			lastID = msg.ID
			count++
		}
		if len(msgs) < eventBatchSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	path := fmt.Sprintf("archive/events/%s.jsonl", at.UTC().Format("20060102T150405Z"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	if err := a.verify(ctx, path, int(count)); err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	}
	a.lastEventID = lastID

	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"path":    path,
		"count":   count,
		"last_id": lastID,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}
	return count, nil
}

// verify reads the uploaded object back and counts its records. A mismatch
// fails the sweep so nothing downstream treats a partial upload as archived.
func (a *Archiver) verify(ctx context.Context, path string, want int) error {
	if a.reader == nil {
		return nil
	}

	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	defer rc.Close()

	got := 0
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			got++
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("verify %s: %w", path, err)
	}
	if got != want {
		return fmt.Errorf("verify %s: read back %d records, uploaded %d", path, got, want)
	}
	return nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2026-08.jsonl
//	archive/bets/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
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
