// Package sqlite persists fetched bars so restarts and upstream outages keep
// history available to the analysis pipeline.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"marketscope/internal/model"
)

const (
	defaultBatchSize  = 20
	defaultFlushDelay = 500 * time.Millisecond

	dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Batch is one fetched bar series for (Symbol, Timeframe).
type Batch struct {
	Symbol    string
	Timeframe model.Timeframe
	Bars      []model.Bar
}

// Writer is a single-connection SQLite writer.
type Writer struct {
	db *sql.DB

	// OnCommit, if set, is called with the number of bars in each committed transaction.
	OnCommit func(n int)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates the parent directory if needed, opens the database in WAL mode
// and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol  TEXT    NOT NULL,
			tf      TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, tf, ts)
		);
	`)
	return err
}

// SaveBars upserts bars for (symbol, tf) in one transaction. A bar already
// stored at the same timestamp is replaced, so a forming bar converges to its
// final values.
func (w *Writer) SaveBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return w.insertBatches(ctx, []Batch{{Symbol: symbol, Timeframe: tf, Bars: bars}})
}

// Run consumes batches and commits them in groups of defaultBatchSize or every
// defaultFlushDelay, whichever comes first. Blocks until ctx is cancelled or ch
// is closed; pending batches are flushed before returning.
func (w *Writer) Run(ctx context.Context, ch <-chan Batch) {
	pending := make([]Batch, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be cancelled here; the final flush must still land.
		if err := w.insertBatches(context.Background(), pending); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d series in %v", len(pending), time.Since(start))
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case b, ok := <-ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, b)
			if len(pending) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertBatches(ctx context.Context, batches []Batch) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	n := 0
	for _, b := range batches {
		tf := b.Timeframe.String()
		for _, bar := range b.Bars {
			if _, err := stmt.ExecContext(ctx, b.Symbol, tf, bar.TS.Unix(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert %s/%s@%d: %w", b.Symbol, tf, bar.TS.Unix(), err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if w.OnCommit != nil {
		w.OnCommit(n)
	}
	return nil
}

// Prune deletes bars for (symbol, tf) older than before and returns the number removed.
func (w *Writer) Prune(ctx context.Context, symbol string, tf model.Timeframe, before time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM bars WHERE symbol = ? AND tf = ? AND ts < ?`,
		symbol, tf.String(), before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
