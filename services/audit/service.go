package audit

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"go.uber.org/zap"
)

// Event is the caller-facing description of something to audit
type Event struct {
	Action     models.AuditAction
	Outcome    models.AuditOutcome
	Reason     string
	Stage      string
	ActorID    uuid.UUID
	TenantID   uuid.UUID
	TargetType string
	TargetID   string
	Metadata   map[string]interface{}
	SourceIP   string
	UserAgent  string
	RequestID  string
}

// Recorder is the fire-and-forget side of the writer used on the request path
type Recorder interface {
	Record(event Event)
}

// Config holds configuration for the Writer
type Config struct {
	BufferSize    int           // Size of the event buffer channel
	WorkerCount   int           // Number of concurrent workers
	InsertTimeout time.Duration // Per-record insert deadline, independent of any request
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		WorkerCount:   5,
		InsertTimeout: 5 * time.Second,
	}
}

// Writer appends audit records asynchronously. Record never blocks and never fails the
// caller; delivery problems go to the operational logger and the drop counter.
type Writer struct {
	auditRepo     repositories.AuditRepository
	logger        *zap.Logger
	ops           *zap.Logger
	metrics       *observability.Metrics
	eventChan     chan *models.AuditLog
	workerCount   int
	bufferSize    int
	insertTimeout time.Duration
	wg            sync.WaitGroup

	// mu guards lifecycle, the hash chain and per-actor clocks. Record assigns
	// sequence and enqueues under the same lock so the chain has no gaps from drops.
	mu          sync.Mutex
	started     bool
	stopped     bool
	chainID     string
	sequence    int64
	prevHash    string
	lastByActor map[uuid.UUID]time.Time
	entropy     io.Reader
	clock       func() time.Time
}

// NewWriter creates a new Writer instance
func NewWriter(auditRepo repositories.AuditRepository, logger *zap.Logger, metrics *observability.Metrics, config Config) *Writer {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = DefaultConfig().InsertTimeout
	}

	entropy := ulid.Monotonic(rand.Reader, 0)
	return &Writer{
		auditRepo:     auditRepo,
		logger:        logger.Named("audit"),
		ops:           logger.Named("audit.ops"),
		metrics:       metrics,
		eventChan:     make(chan *models.AuditLog, config.BufferSize),
		workerCount:   config.WorkerCount,
		bufferSize:    config.BufferSize,
		insertTimeout: config.InsertTimeout,
		chainID:       ulid.MustNew(ulid.Now(), entropy).String(),
		prevHash:      GenesisHash,
		lastByActor:   make(map[uuid.UUID]time.Time),
		entropy:       entropy,
		clock:         time.Now,
	}
}

// ChainID identifies this writer's hash chain
func (w *Writer) ChainID() string {
	return w.chainID
}

// Start starts the background workers
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("audit writer already started")
	}

	for i := 0; i < w.workerCount; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.started = true
	w.logger.Info("started audit writer",
		zap.Int("worker_count", w.workerCount),
		zap.Int("buffer_size", w.bufferSize),
		zap.String("chain_id", w.chainID))

	return nil
}

// Stop stops accepting records and waits for queued ones to be written
func (w *Writer) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("audit writer not running")
	}
	w.stopped = true
	pending := len(w.eventChan)
	close(w.eventChan)
	w.mu.Unlock()

	w.logger.Info("stopping audit writer", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("audit writer stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit writer stop timeout after %v", timeout)
	}
}

// Record builds, chains and enqueues an audit record
func (w *Writer) Record(event Event) {
	log := models.NewAuditLog(event.Action, event.Outcome, event.Reason).
		WithActor(event.ActorID).
		WithTenant(event.TenantID).
		WithTarget(event.TargetType, event.TargetID).
		WithStage(event.Stage).
		WithRequest(event.RequestID, event.SourceIP, event.UserAgent)
	if event.Metadata != nil {
		log.WithMetadata(RedactMetadata(event.Metadata))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		w.drop(log, "writer_stopped")
		return
	}

	log.Timestamp = w.nextTimestamp(event.ActorID)
	log.ID = ulid.MustNew(ulid.Timestamp(log.Timestamp), w.entropy).String()
	log.ChainID = w.chainID
	log.Sequence = w.sequence + 1
	log.PrevHash = w.prevHash

	hash, err := ComputeHash(log.PrevHash, log)
	if err != nil {
		w.drop(log, "unhashable")
		return
	}
	log.Hash = hash

	select {
	case w.eventChan <- log:
		w.sequence = log.Sequence
		w.prevHash = hash
		w.lastByActor[event.ActorID] = log.Timestamp
	default:
		w.drop(log, "buffer_full")
	}
}

// nextTimestamp keeps each actor's timestamps strictly increasing at the
// microsecond precision the database stores (must be called with lock held)
func (w *Writer) nextTimestamp(actor uuid.UUID) time.Time {
	now := w.clock().UTC().Truncate(time.Microsecond)
	if last, ok := w.lastByActor[actor]; ok && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	return now
}

func (w *Writer) drop(log *models.AuditLog, cause string) {
	w.metrics.AuditDropped(cause)
	w.ops.Error("audit record dropped",
		zap.String("cause", cause),
		zap.String("action", string(log.Action)),
		zap.String("outcome", string(log.Outcome)),
		zap.String("reason", log.Reason),
		zap.String("request_id", log.RequestID))
}

// worker processes records from the channel
func (w *Writer) worker(id int) {
	defer w.wg.Done()

	w.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for log := range w.eventChan {
		if err := w.processEvent(log); err != nil {
			w.metrics.AuditDropped("insert_failed")
			w.ops.Error("failed to persist audit record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("id", log.ID),
				zap.Int64("sequence", log.Sequence),
				zap.String("action", string(log.Action)))
			continue
		}
		w.metrics.AuditWritten()
	}

	w.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent inserts one record on a context detached from any request,
// so a cancelled request never leaves its record half written
func (w *Writer) processEvent(log *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.insertTimeout)
	defer cancel()

	if err := w.auditRepo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Stats represents audit writer statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
	Sequence      int64
}

// GetStats returns statistics about the writer
func (w *Writer) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		BufferSize:    w.bufferSize,
		PendingEvents: len(w.eventChan),
		WorkerCount:   w.workerCount,
		Started:       w.started && !w.stopped,
		Sequence:      w.sequence,
	}
}

// Query validates the filter and reads matching records
func (w *Writer) Query(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	if err := ValidateFilter(&filter); err != nil {
		return nil, err
	}
	return w.auditRepo.Query(ctx, filter)
}

// Get reads one record
func (w *Writer) Get(ctx context.Context, id string) (*models.AuditLog, error) {
	if _, err := ulid.ParseStrict(id); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid audit log id", err)
	}
	return w.auditRepo.GetByID(ctx, id)
}

// Verify loads a stored chain and checks it
func (w *Writer) Verify(ctx context.Context, chainID string) error {
	records, err := w.auditRepo.ChainRecords(ctx, chainID)
	if err != nil {
		return err
	}
	return VerifyChain(records)
}

// Update always fails: audit records are immutable through the service
func (w *Writer) Update(context.Context, *models.AuditLog) error {
	return services.ErrAuditImmutable
}

// Delete always fails: only out-of-band retention jobs may purge audit records
func (w *Writer) Delete(context.Context, string) error {
	return services.ErrAuditImmutable
}

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// ValidateFilter applies defaults and rejects malformed filters
func ValidateFilter(f *repositories.AuditFilter) error {
	if f.Limit == 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit < 1 || f.Limit > MaxQueryLimit {
		return services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("limit must be between 1 and %d", MaxQueryLimit), nil)
	}
	if f.Offset < 0 {
		return services.NewDomainError(services.ErrorTypeValidation, "offset must not be negative", nil)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Since.After(f.Until) {
		return services.NewDomainError(services.ErrorTypeValidation, "since must not be after until", nil)
	}
	return nil
}
