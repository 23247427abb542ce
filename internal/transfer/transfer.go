// Package transfer copies table rows from the source to the target in
// ordered, independently committed batches.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"time"

	"go.uber.org/ratelimit"

	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

// Status is the state of one table's data transfer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stats tracks timing statistics for profiling
type Stats struct {
	QueryTime time.Duration
	WriteTime time.Duration
	Batches   int
	Rows      int64
}

func (s *Stats) String() string {
	total := s.QueryTime + s.WriteTime
	if total == 0 {
		return "no data"
	}
	return fmt.Sprintf("query=%.1fs (%.0f%%), write=%.1fs (%.0f%%), batches=%d, rows=%d",
		s.QueryTime.Seconds(), float64(s.QueryTime)/float64(total)*100,
		s.WriteTime.Seconds(), float64(s.WriteTime)/float64(total)*100,
		s.Batches, s.Rows)
}

// Progress is the transfer record of one table.
type Progress struct {
	Table           string     `json:"table"`
	TotalRecords    int64      `json:"total_records"`
	MigratedRecords int64      `json:"migrated_records"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Status          Status     `json:"status"`
	Error           string     `json:"error,omitempty"`
	Checksum        string     `json:"checksum,omitempty"`
	Stats           Stats      `json:"-"`
}

// Duration is the time from start to end, or to now while running.
func (p *Progress) Duration() time.Duration {
	if p.EndTime != nil {
		return p.EndTime.Sub(p.StartTime)
	}
	return time.Since(p.StartTime)
}

// ProgressFunc receives a copy of the table's progress after each committed batch.
type ProgressFunc func(p Progress)

// Option configures a Migrator.
type Option func(*Migrator)

// WithRateLimit caps committed batches per second. Zero disables the limit.
func WithRateLimit(perSecond int) Option {
	return func(m *Migrator) {
		if perSecond > 0 {
			m.limiter = ratelimit.New(perSecond)
		}
	}
}

// WithProgress registers a per-batch callback.
func WithProgress(fn ProgressFunc) Option {
	return func(m *Migrator) { m.onBatch = fn }
}

// Migrator moves rows of one table at a time from src to tgt.
type Migrator struct {
	src     *source.Pool
	tgt     *target.Pool
	mapper  *typemap.Mapper
	limiter ratelimit.Limiter
	onBatch ProgressFunc
}

// NewMigrator creates a Migrator.
func NewMigrator(src *source.Pool, tgt *target.Pool, opts ...Option) *Migrator {
	m := &Migrator{
		src:     src,
		tgt:     tgt,
		mapper:  typemap.New(tgt.Dialect()),
		limiter: ratelimit.NewUnlimited(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate copies every row of table.
func (m *Migrator) Migrate(ctx context.Context, table string, batchSize int) (*Progress, error) {
	return m.MigrateFrom(ctx, table, 0, batchSize)
}

// MigrateFrom copies the rows of table from the given offset in primary-key
// (or rowid) order. The source is counted once up front; rows appearing
// later are left for a later call. Each batch is committed on its own, so a
// failure leaves the earlier batches in place and the returned progress
// says how far the copy got.
//
// Once ctx is done no further batch starts, but a batch already being
// written is allowed to commit.
func (m *Migrator) MigrateFrom(ctx context.Context, table string, offset int64, batchSize int) (*Progress, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	prog := &Progress{Table: table, StartTime: time.Now(), Status: StatusInProgress}
	h := sha256.New()

	fail := func(at int64, err error) (*Progress, error) {
		err = &migerr.BatchWriteError{Table: table, Offset: at, Err: err}
		prog.finish(StatusFailed, h)
		prog.Error = err.Error()
		logging.Error("Transfer of %s failed after %d rows: %v", table, prog.MigratedRecords, err)
		return prog, err
	}

	total, err := m.src.RowCount(ctx, table)
	if err != nil {
		return fail(offset, err)
	}
	if total > offset {
		prog.TotalRecords = total - offset
	}
	if prog.TotalRecords == 0 {
		prog.finish(StatusCompleted, h)
		logging.Debug("%s: nothing to transfer", table)
		return prog, nil
	}

	cols, err := m.src.Columns(ctx, table)
	if err != nil {
		return fail(offset, err)
	}
	names := driver.ColumnNames(cols)
	kinds := make([]typemap.Kind, len(cols))
	for i, c := range cols {
		kinds[i], _, _ = m.mapper.Classify(c.DeclaredType)
	}

	for at := offset; at < total; {
		if err := ctx.Err(); err != nil {
			return fail(at, err)
		}
		m.limiter.Take()

		// The batch runs to completion even if ctx is cancelled meanwhile.
		bctx := context.WithoutCancel(ctx)

		queryStart := time.Now()
		limit := batchSize
		if remaining := total - at; remaining < int64(limit) {
			limit = int(remaining)
		}
		rows, err := m.src.Page(bctx, table, cols, limit, at)
		if err != nil {
			return fail(at, err)
		}
		prog.Stats.QueryTime += time.Since(queryStart)
		if len(rows) == 0 {
			logging.Warn("%s: source returned no rows at offset %d of %d", table, at, total)
			break
		}

		hashRows(h, rows)
		for _, row := range rows {
			driver.AdaptRow(m.tgt.Dialect(), kinds, row)
		}

		writeStart := time.Now()
		if err := m.tgt.InsertBatch(bctx, table, names, rows); err != nil {
			return fail(at, err)
		}
		prog.Stats.WriteTime += time.Since(writeStart)
		prog.Stats.Batches++
		prog.Stats.Rows += int64(len(rows))

		prog.MigratedRecords += int64(len(rows))
		at += int64(len(rows))
		if m.onBatch != nil {
			m.onBatch(*prog)
		}
	}

	prog.finish(StatusCompleted, h)
	logging.Debug("%s: %d rows in %s (%s)", table, prog.MigratedRecords, prog.Duration().Round(time.Millisecond), prog.Stats.String())
	return prog, nil
}

func (p *Progress) finish(status Status, h hash.Hash) {
	end := time.Now()
	p.EndTime = &end
	p.Status = status
	p.Checksum = hex.EncodeToString(h.Sum(nil))
}

// hashRows feeds a canonical rendering of each row into h. Fields are
// separated by 0x1f and rows terminated by 0x1e; NULL and byte strings have
// their own markers so they cannot collide with text.
func hashRows(h hash.Hash, rows [][]any) {
	var buf []byte
	for _, row := range rows {
		buf = buf[:0]
		for i, v := range row {
			if i > 0 {
				buf = append(buf, 0x1f)
			}
			buf = appendValue(buf, v)
		}
		buf = append(buf, 0x1e)
		h.Write(buf)
	}
}

func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, 0x00)
	case []byte:
		buf = append(buf, 'x')
		return hex.AppendEncode(buf, x)
	case string:
		return append(buf, x...)
	case int64:
		return strconv.AppendInt(buf, x, 10)
	case float64:
		return strconv.AppendFloat(buf, x, 'g', -1, 64)
	case bool:
		return strconv.AppendBool(buf, x)
	case time.Time:
		return x.UTC().AppendFormat(buf, time.RFC3339Nano)
	default:
		return fmt.Appendf(buf, "%v", x)
	}
}

// Checksum returns the digest MigrateFrom would report for rows.
func Checksum(rows [][]any) string {
	h := sha256.New()
	hashRows(h, rows)
	return hex.EncodeToString(h.Sum(nil))
}
