package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketscope/internal/model"
)

var t0 = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func hourly(n int, start float64) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := start + float64(i)
		bars[i] = model.Bar{TS: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
	}
	return bars
}

func openStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r
}

func TestNew_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "bars.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestNew_ParentDirError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(WriterConfig{DBPath: filepath.Join(blocker, "bars.db")}); err == nil {
		t.Error("expected error when the parent path is a file")
	}
}

func TestWriterReader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	w, r := openStore(t)

	committed := 0
	w.OnCommit = func(n int) { committed += n }

	if err := w.SaveBars(ctx, "AAPL", model.TF1h, hourly(5, 100)); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	// Re-saving the last bar with new values replaces it.
	upd := hourly(5, 100)[4:]
	upd[0].Close = 999
	if err := w.SaveBars(ctx, "AAPL", model.TF1h, upd); err != nil {
		t.Fatalf("SaveBars update: %v", err)
	}
	if committed != 6 {
		t.Errorf("committed = %d, want 6", committed)
	}

	bars, err := r.Bars(ctx, "AAPL", model.TF1h, t0, 100)
	if err != nil {
		t.Fatalf("Bars: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("got %d bars, want 5", len(bars))
	}
	if bars[4].Close != 999 || !bars[0].TS.Equal(t0) {
		t.Errorf("bars = %+v", bars)
	}

	// limit keeps the newest bars, still ascending.
	tail, _ := r.Bars(ctx, "AAPL", model.TF1h, t0, 2)
	if len(tail) != 2 || !tail[0].TS.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("tail = %+v", tail)
	}

	last, err := r.LastTimestamp(ctx, "AAPL", model.TF1h)
	if err != nil || !last.Equal(t0.Add(4*time.Hour)) {
		t.Errorf("LastTimestamp = %v, %v", last, err)
	}
	none, err := r.LastTimestamp(ctx, "AAPL", model.TF1d)
	if err != nil || !none.IsZero() {
		t.Errorf("LastTimestamp(1d) = %v, %v; want zero", none, err)
	}
}

func TestWriter_Prune(t *testing.T) {
	ctx := context.Background()
	w, r := openStore(t)
	w.SaveBars(ctx, "AAPL", model.TF1h, hourly(5, 100))

	n, err := w.Prune(ctx, "AAPL", model.TF1h, t0.Add(2*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v; want 2", n, err)
	}
	bars, _ := r.Bars(ctx, "AAPL", model.TF1h, time.Time{}, 100)
	if len(bars) != 3 {
		t.Errorf("got %d bars after prune, want 3", len(bars))
	}
}

func TestWriter_RunFlushesOnClose(t *testing.T) {
	ctx := context.Background()
	w, r := openStore(t)

	ch := make(chan Batch, 4)
	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()
	ch <- Batch{Symbol: "MSFT", Timeframe: model.TF1d, Bars: hourly(3, 300)}
	close(ch)
	<-done

	bars, err := r.Bars(ctx, "MSFT", model.TF1d, time.Time{}, 100)
	if err != nil || len(bars) != 3 {
		t.Errorf("got %d bars, %v; want 3", len(bars), err)
	}
}

// fakeLive counts calls and returns canned bars or an error.
type fakeLive struct {
	bars  []model.Bar
	err   error
	calls int
}

func (f *fakeLive) Bars(context.Context, string, model.Timeframe) ([]model.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func (f *fakeLive) Quote(_ context.Context, symbol string) (model.Quote, error) {
	return model.Quote{Symbol: symbol, Price: 1}, nil
}

func TestSource_AlwaysAsksLiveFirst(t *testing.T) {
	ctx := context.Background()
	w, r := openStore(t)
	live := &fakeLive{bars: hourly(5, 100)}
	src := NewSource(live, r, w)
	src.now = func() time.Time { return t0.Add(4*time.Hour + 10*time.Minute) }

	if _, err := src.Bars(ctx, "AAPL", model.TF1d); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	// The provider rewrites the forming bar within the same period.
	updated := hourly(5, 100)
	updated[4].Close = 150
	live.bars = updated
	src.now = func() time.Time { return t0.Add(4*time.Hour + 50*time.Minute) }

	bars, err := src.Bars(ctx, "AAPL", model.TF1d)
	if err != nil || len(bars) != 5 {
		t.Fatalf("second fetch = %d bars, %v", len(bars), err)
	}
	if live.calls != 2 {
		t.Errorf("live calls = %d, want 2", live.calls)
	}
	if got := bars[4].Close; got != 150 {
		t.Errorf("forming bar close = %v, want 150", got)
	}

	stored, err := r.Bars(ctx, "AAPL", model.TF1d, time.Time{}, 100)
	if err != nil || len(stored) != 5 || stored[4].Close != 150 {
		t.Errorf("stored forming bar not updated: %d bars, %v", len(stored), err)
	}
}

func TestSource_FallsBackToStoreOnLiveError(t *testing.T) {
	ctx := context.Background()
	w, r := openStore(t)
	w.SaveBars(ctx, "AAPL", model.TF1h, hourly(10, 100))

	live := &fakeLive{err: errors.New("503")}
	src := NewSource(live, r, w)
	src.now = func() time.Time { return t0.Add(48 * time.Hour) }

	bars, err := src.Bars(ctx, "AAPL", model.TF1h)
	if err != nil || len(bars) != 10 {
		t.Fatalf("got %d bars, %v; want stored bars", len(bars), err)
	}

	// Nothing stored for MSFT: the live error surfaces.
	if _, err := src.Bars(ctx, "MSFT", model.TF1h); err == nil {
		t.Error("expected live error with empty store")
	}
}

func TestAsyncSource_DropsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	_, r := openStore(t)
	ch := make(chan Batch) // unbuffered, nobody reading
	src := NewAsyncSource(&fakeLive{bars: hourly(3, 1)}, r, ch)

	bars, err := src.Bars(ctx, "AAPL", model.TF1h)
	if err != nil || len(bars) != 3 {
		t.Fatalf("got %d bars, %v", len(bars), err)
	}
}
