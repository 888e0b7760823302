package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrChatQueueFull is returned when the chat writer cannot accept more
// messages. Callers drop the message rather than block a read goroutine.
var ErrChatQueueFull = errors.New("chat queue full")

// ChatWriterConfig holds chat writer configuration.
type ChatWriterConfig struct {
	BatchSize     int           // Rows per insert batch (default: 64)
	FlushInterval time.Duration // Max time a row waits unflushed (default: 2s)
	QueueSize     int           // Inbound queue capacity (default: 1024)
}

// DefaultChatWriterConfig returns sensible defaults.
func DefaultChatWriterConfig() ChatWriterConfig {
	return ChatWriterConfig{
		BatchSize:     64,
		FlushInterval: 2 * time.Second,
		QueueSize:     1024,
	}
}

// ChatWriterMetrics tracks writer activity.
type ChatWriterMetrics struct {
	Enqueued int64
	Dropped  int64
	Inserts  int64
	Flushes  int64
	Errors   int64
}

// ChatWriter batches chat inserts so a burst of messages costs one round
// trip instead of one per message. Rows accumulate until the batch fills
// or the flush interval elapses.
type ChatWriter struct {
	cfg    ChatWriterConfig
	logger *slog.Logger

	input chan ChatMessage
	db    *pgxpool.Pool

	batch       []ChatMessage
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics ChatWriterMetrics
}

// NewChatWriter creates a ChatWriter over the given pool.
func NewChatWriter(cfg ChatWriterConfig, db *pgxpool.Pool, logger *slog.Logger) *ChatWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan ChatMessage, cfg.QueueSize),
		batch:  make([]ChatMessage, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *ChatWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("chat writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes whatever is pending.
func (w *ChatWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping chat writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("chat writer stopped")
	case <-ctx.Done():
		w.logger.Warn("chat writer stop timed out")
	}

	w.flush(context.Background())

	return nil
}

// Stats returns current metrics.
func (w *ChatWriter) Stats() ChatWriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Add enqueues one chat message. Never blocks: a full queue drops the
// message and reports ErrChatQueueFull.
func (w *ChatWriter) Add(author, body string) error {
	msg := ChatMessage{Author: author, Body: body, PostedAt: time.Now().UTC()}
	select {
	case w.input <- msg:
		w.batchMu.Lock()
		w.metrics.Enqueued++
		w.batchMu.Unlock()
		return nil
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("chat queue full, dropping message", "author", author)
		return ErrChatQueueFull
	}
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *ChatWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case msg := <-w.input:
			w.handleMessage(msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *ChatWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage adds a message to the batch, flushing when full.
func (w *ChatWriter) handleMessage(msg ChatMessage) {
	w.batchMu.Lock()
	w.batch = append(w.batch, msg)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// drain moves whatever is still queued into the batch for the final flush.
func (w *ChatWriter) drain() {
	for {
		select {
		case msg := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, msg)
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// flush writes the current batch to the database.
func (w *ChatWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]ChatMessage, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("chat batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed chat messages",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (w *ChatWriter) batchInsert(ctx context.Context, rows []ChatMessage) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO chat_messages (author, body, posted_at) VALUES ($1, $2, $3)`,
			r.Author, r.Body, r.PostedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
