package audit

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/protojour/pymoriam/arango"
	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/pkg/retry"
	"github.com/protojour/pymoriam/pkg/timestamp"
	"github.com/protojour/pymoriam/tasks"
)

// Config selects where records go.
type Config struct {
	// Log writes records to the service log.
	Log bool
	// LogDB stores records in audit_log.
	LogDB bool
	// Versioning stamps _version on changed documents.
	Versioning bool
	// PollAttempts and PollInterval bound the wait for an open transaction
	// before a version stamp.
	PollAttempts int
	PollInterval time.Duration
}

// Enabled reports whether records are kept anywhere.
func (c Config) Enabled() bool { return c.Log || c.LogDB }

// Recorder writes audit records and version stamps.
type Recorder struct {
	store   arango.Store
	runner  tasks.Runner
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	clock   timestamp.Clock
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records audit and stamping metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithClock sets the clock used for records without a timestamp.
func WithClock(clock timestamp.Clock) Option {
	return func(r *Recorder) { r.clock = clock }
}

// NewRecorder creates a recorder. Deferred version stamps run on runner.
func NewRecorder(store arango.Store, runner tasks.Runner, cfg Config, opts ...Option) *Recorder {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	r := &Recorder{store: store, runner: runner, cfg: cfg, logger: slog.Default(), clock: timestamp.System}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "audit")
	return r
}

// Config returns the recorder configuration.
func (r *Recorder) Config() Config { return r.cfg }

// Record builds, logs and stores the record of one change and stamps the
// changed document. Inside a transaction the stamp waits for the
// transaction to commit on the task runner. It returns the stored record,
// or nil when nothing changed.
func (r *Recorder) Record(ctx context.Context, pre, post map[string]any, edge bool, meta Meta) (map[string]any, error) {
	rec := BuildRecord(pre, post, edge, meta, r.clock)
	if rec == nil {
		return nil, nil
	}
	doc := rec.Document()
	r.metrics.RecordAudit(rec.Operation)
	if r.cfg.Log {
		r.logger.Info("audit", "operation", rec.Operation, "changed_id", rec.ChangedID,
			"edge", rec.Edge, "trx_id", rec.TrxID, "pre", rec.Pre, "post", rec.Post)
	}
	if !r.cfg.LogDB {
		return doc, nil
	}

	results, err := r.store.BulkCreate(ctx, Collection, []map[string]any{doc},
		arango.WriteOptions{Sync: true, ReturnNew: true})
	if err != nil {
		return nil, errors.Wrap(err, "Recorder", "Record", "audit insert")
	}
	saved := doc
	if len(results) > 0 {
		saved = results[0].Document()
	}

	if len(post) == 0 || !r.cfg.Versioning {
		return saved, nil
	}
	if meta.TrxID == "" {
		return saved, r.Stamp(ctx, saved, "")
	}
	trxID := meta.TrxID
	err = r.runner.Submit(tasks.Task{
		Name:    "version_stamp",
		Channel: rec.ChangedID,
		Run: func(ctx context.Context) error {
			return r.DeferStamp(ctx, saved, trxID)
		},
	})
	return saved, err
}

// Stamp sets _version of the changed document to the record id.
func (r *Recorder) Stamp(ctx context.Context, record map[string]any, trxID string) error {
	changedID, _ := record["changed_id"].(string)
	auditID, _ := record["_id"].(string)
	collection, key, ok := strings.Cut(changedID, "/")
	if !ok || auditID == "" {
		return errors.WrapInvalid(stderrors.New("record has no changed_id or _id"), "Recorder", "Stamp", "version stamp")
	}
	_, err := r.store.BulkUpdate(ctx, collection, []map[string]any{{"_key": key, "_version": auditID}},
		arango.WriteOptions{Sync: true, TrxID: trxID})
	if err != nil {
		r.metrics.RecordVersionStamp("error")
		return errors.Wrap(err, "Recorder", "Stamp", "version stamp")
	}
	r.metrics.RecordVersionStamp("stamped")
	return nil
}

var errTrxRunning = stderrors.New("transaction still running")

// DeferStamp polls the status of trxID at a fixed interval and stamps the
// version once the transaction committed. An aborted transaction stamps
// nothing. When the transaction never finishes it returns a
// TransactionTimeout and the document stays unstamped.
func (r *Recorder) DeferStamp(ctx context.Context, record map[string]any, trxID string) error {
	err := retry.Do(ctx, retry.Fixed(r.cfg.PollAttempts, r.cfg.PollInterval), func() error {
		status, err := r.store.TransactionStatus(ctx, trxID)
		if err != nil {
			return err
		}
		switch status {
		case arango.TrxCommitted:
			return retry.NonRetryable(r.Stamp(ctx, record, ""))
		case arango.TrxAborted:
			r.metrics.RecordVersionStamp("aborted")
			return nil
		}
		return errTrxRunning
	})
	if err == nil {
		return nil
	}
	if retry.IsExhausted(err) {
		r.metrics.RecordVersionStamp("timeout")
		changedID, _ := record["changed_id"].(string)
		auditID, _ := record["_id"].(string)
		return &errors.TransactionTimeout{TrxID: trxID, ChangedID: changedID, AuditID: auditID, Attempts: r.cfg.PollAttempts}
	}
	var nre *retry.NonRetryableError
	if stderrors.As(err, &nre) {
		return nre.Err
	}
	return err
}

// Item is one manually reported change.
type Item struct {
	Pre  map[string]any `json:"pre"`
	Post map[string]any `json:"post"`
	Edge bool           `json:"edge"`
	Note string         `json:"note"`
}

// Manual stores records for changes made outside the engine and stamps the
// versions of the changed documents, one bulk update per collection. Items
// without changes are skipped.
func (r *Recorder) Manual(ctx context.Context, items []Item, meta Meta) ([]map[string]any, error) {
	docs := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if str(item.Pre, "_id") == "" && str(item.Post, "_id") == "" {
			r.logger.Warn("audit item has no pre or post _id")
		}
		itemMeta := meta
		itemMeta.Note = item.Note
		rec := BuildRecord(item.Pre, item.Post, item.Edge, itemMeta, r.clock)
		if rec == nil {
			continue
		}
		r.metrics.RecordAudit(rec.Operation)
		if r.cfg.Log {
			r.logger.Info("audit", "operation", rec.Operation, "changed_id", rec.ChangedID, "manual", true)
		}
		docs = append(docs, rec.Document())
	}
	if len(docs) == 0 {
		return []map[string]any{}, nil
	}

	results, err := r.store.BulkCreate(ctx, Collection, docs,
		arango.WriteOptions{Sync: true, ReturnNew: true, OverwriteMode: "conflict", TrxID: meta.TrxID})
	if err != nil {
		return nil, errors.Wrap(err, "Recorder", "Manual", "audit insert")
	}

	saved := make([]map[string]any, 0, len(results))
	stamps := map[string][]map[string]any{}
	var order []string
	for _, res := range results {
		doc := res.Document()
		saved = append(saved, doc)
		if !r.cfg.Versioning {
			continue
		}
		if post, _ := doc["post"].(map[string]any); len(post) == 0 {
			continue
		}
		changedID, _ := doc["changed_id"].(string)
		collection, key, ok := strings.Cut(changedID, "/")
		if !ok {
			continue
		}
		if _, seen := stamps[collection]; !seen {
			order = append(order, collection)
		}
		stamps[collection] = append(stamps[collection], map[string]any{"_key": key, "_version": doc["_id"]})
	}

	for _, collection := range order {
		if _, err := r.store.BulkUpdate(ctx, collection, stamps[collection],
			arango.WriteOptions{Sync: true, TrxID: meta.TrxID}); err != nil {
			return saved, errors.Wrap(err, "Recorder", "Manual", "version stamp")
		}
		r.metrics.RecordVersionStamp("stamped")
	}
	return saved, nil
}
