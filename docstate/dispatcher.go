package docstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.pilab.hu/docflow/cache"
	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
	"go.pilab.hu/docflow/internal/metrics"
	"go.pilab.hu/docflow/log"
)

const (
	DefaultMaxConflictRetries = 3
	DefaultMaxConcurrency     = 16
	DefaultCheckpointName     = "docflow"

	maxReopenBackoff  = 30 * time.Second
	checkpointTimeout = 5 * time.Second
)

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeUnhandled  = "unhandled"
	OutcomeDuplicate  = "duplicate"
	OutcomeSuperseded = "superseded"
)

// Outcome describes how a single change was handled.
type Outcome struct {
	ID       string
	Rev      string
	Key      Key
	Mode     Mode
	Result   string
	Attempts int
	Err      error
}

// OutcomeHook observes every routed change. It must not block.
type OutcomeHook func(Outcome)

// Options configures a Dispatcher. Zero values get defaults.
type Options struct {
	// Store is used to re-read a document after a safe handler hits a conflict.
	Store          domain.DocumentStore
	Source         FeedSource
	Checkpointer   Checkpointer
	CheckpointName string
	Logger         log.Logger
	// Dedup skips redelivered revisions that were already handled successfully.
	// Entries registered as Reentrant bypass it.
	Dedup              *cache.RevisionCache
	MaxConflictRetries int
	MaxConcurrency     int
	ReopenBackoff      time.Duration
	OnOutcome          OutcomeHook
}

// Dispatcher consumes a change feed and invokes the registered handlers.
// Changes to one document are handled one at a time in delivery order;
// distinct documents are handled concurrently.
type Dispatcher struct {
	table *Table
	opts  Options
	log   log.Logger

	tracer trace.Tracer
	sem    chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string][]Change

	marks     *watermark
	saveMu    sync.Mutex
	savedSeq  uint64
	saved     bool
	committed Token
}

// NewDispatcher validates the options and returns a Dispatcher for table.
func NewDispatcher(table *Table, opts Options) (*Dispatcher, error) {
	if table == nil {
		return nil, errors.New("docstate: nil transition table")
	}
	if opts.MaxConflictRetries == 0 {
		opts.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.ReopenBackoff <= 0 {
		opts.ReopenBackoff = time.Second
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewMemoryCheckpointer()
	}
	if opts.CheckpointName == "" {
		opts.CheckpointName = DefaultCheckpointName
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Dispatcher{
		table:  table,
		opts:   opts,
		log:    opts.Logger.With(map[string]interface{}{"component": "dispatcher"}),
		tracer: otel.Tracer("go.pilab.hu/docflow/docstate"),
		sem:    make(chan struct{}, opts.MaxConcurrency),
		queues: map[string][]Change{},
		marks:  newWatermark(),
	}, nil
}

// Start consumes the configured source until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.opts.Source == nil {
		return errors.New("docstate: no change feed source configured")
	}
	return d.Run(ctx, d.opts.Source)
}

// Run consumes source until ctx is cancelled. Only a failure to establish the
// initial subscription is returned; later stream errors reopen the feed.
func (d *Dispatcher) Run(ctx context.Context, source FeedSource) error {
	after, err := d.opts.Checkpointer.Load(ctx, d.opts.CheckpointName)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	d.committed = after

	feed, err := source.Open(ctx, after)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}
	d.log.Info(ctx, "Change feed opened", map[string]interface{}{
		"resumed":     after != nil,
		"transitions": d.table.Len(),
	})

	for {
		change, err := feed.Next(ctx)
		if err == nil {
			d.enqueue(ctx, change)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		d.log.Error(ctx, "Change feed failed, reopening", err)
		_ = feed.Close(context.WithoutCancel(ctx))
		metrics.ChangeFeedReopensTotal.Inc()
		if feed = d.reopen(ctx, source); feed == nil {
			break
		}
	}

	d.wg.Wait()
	if feed != nil {
		_ = feed.Close(context.WithoutCancel(ctx))
	}
	d.log.Info(context.WithoutCancel(ctx), "Dispatcher stopped")
	return nil
}

func (d *Dispatcher) reopen(ctx context.Context, source FeedSource) ChangeFeed {
	backoff := d.opts.ReopenBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		feed, err := source.Open(ctx, d.lastCommitted())
		if err == nil {
			return feed
		}
		d.log.Error(ctx, "Reopening change feed failed", err, map[string]interface{}{"backoff": backoff.String()})
		backoff = min(backoff*2, maxReopenBackoff)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, change Change) {
	change.seq = d.marks.add(change.Token)

	d.mu.Lock()
	if pending, busy := d.queues[change.ID]; busy {
		d.queues[change.ID] = append(pending, change)
		d.mu.Unlock()
		return
	}
	d.queues[change.ID] = []Change{}
	d.mu.Unlock()

	d.wg.Add(1)
	go d.drain(ctx, change)
}

// drain handles change and then everything queued behind it for the same document.
func (d *Dispatcher) drain(ctx context.Context, change Change) {
	defer d.wg.Done()
	for {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			d.mu.Lock()
			delete(d.queues, change.ID)
			d.mu.Unlock()
			return
		}
		d.handle(ctx, change)
		<-d.sem
		d.ack(ctx, change.seq)

		d.mu.Lock()
		pending := d.queues[change.ID]
		if len(pending) == 0 {
			delete(d.queues, change.ID)
			d.mu.Unlock()
			return
		}
		change = pending[0]
		d.queues[change.ID] = pending[1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) ack(ctx context.Context, seq uint64) {
	token, at, advanced := d.marks.done(seq)
	if !advanced {
		return
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	if d.saved && at <= d.savedSeq {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	if err := d.opts.Checkpointer.Save(saveCtx, d.opts.CheckpointName, token); err != nil {
		d.log.Warn(ctx, "Saving checkpoint failed", map[string]interface{}{"error": err.Error()})
		return
	}
	d.saved, d.savedSeq, d.committed = true, at, token
}

func (d *Dispatcher) lastCommitted() Token {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	return d.committed
}

func (d *Dispatcher) handle(ctx context.Context, change Change) {
	key := K(change.Type, change.State)
	entry, ok := d.table.Lookup(change.Type, change.State)
	if !ok {
		d.log.Debug(ctx, "No handler for change", map[string]interface{}{"doc_id": change.ID, "transition": key.String()})
		d.report(ctx, Outcome{ID: change.ID, Rev: change.Rev, Key: key, Result: OutcomeUnhandled}, 0)
		return
	}
	if d.opts.Dedup != nil && !entry.Reentrant && d.opts.Dedup.Seen(change.ID, change.Rev) {
		d.report(ctx, Outcome{ID: change.ID, Rev: change.Rev, Key: key, Mode: entry.Mode, Result: OutcomeDuplicate}, 0)
		return
	}

	ctx, span := d.tracer.Start(ctx, "docstate.dispatch", trace.WithAttributes(
		attribute.String("doc.id", change.ID),
		attribute.String("doc.rev", change.Rev),
		attribute.String("doc.transition", key.String()),
		attribute.String("handler.mode", entry.Mode.String()),
	))
	defer span.End()

	start := time.Now()
	out := d.invoke(ctx, entry, change.RawDocument)
	out.Rev = change.Rev

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, serrors.Code(out.Err))
	} else if d.opts.Dedup != nil && !entry.Reentrant && out.Result == OutcomeOK {
		d.opts.Dedup.Mark(change.ID, change.Rev)
	}
	span.SetAttributes(attribute.Int("handler.attempts", out.Attempts))
	d.report(ctx, out, time.Since(start))
}

// invoke runs the handler, re-reading and retrying safe handlers on conflict.
func (d *Dispatcher) invoke(ctx context.Context, entry Entry, doc domain.RawDocument) Outcome {
	out := Outcome{ID: doc.ID, Key: entry.Key, Mode: entry.Mode}
	for {
		out.Attempts++
		out.Err = call(ctx, entry.Handler, doc)
		if out.Err == nil {
			out.Result = OutcomeOK
			return out
		}
		out.Result = OutcomeFailed
		if entry.Mode != Safe || d.opts.Store == nil || !serrors.IsRetryable(out.Err) ||
			out.Attempts > d.opts.MaxConflictRetries {
			return out
		}

		fresh, err := d.opts.Store.Get(ctx, doc.ID)
		if err != nil {
			out.Err = fmt.Errorf("re-read after conflict: %w", err)
			return out
		}
		if fresh.Type != doc.Type || fresh.State != doc.State {
			// The newer revision arrives as its own change.
			out.Err, out.Result = nil, OutcomeSuperseded
			return out
		}
		metrics.ConflictRetriesTotal.WithLabelValues(string(entry.Type), entry.State).Inc()
		doc = fresh
	}
}

// call converts a handler panic into an error so one bad document cannot stop the feed.
func call(ctx context.Context, h HandlerFunc, doc domain.RawDocument) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, doc)
}

func (d *Dispatcher) report(ctx context.Context, out Outcome, elapsed time.Duration) {
	metrics.ObserveDispatch(string(out.Key.Type), out.Key.State, out.Mode.String(), out.Result, elapsed)

	if out.Err != nil {
		fields := map[string]interface{}{
			"doc_id":     out.ID,
			"rev":        out.Rev,
			"transition": out.Key.String(),
			"mode":       out.Mode.String(),
			"attempts":   out.Attempts,
			"code":       serrors.Code(out.Err),
		}
		var stepErr *serrors.StepError
		if errors.As(out.Err, &stepErr) {
			fields["workflow"] = stepErr.Workflow
			fields["step"] = stepErr.Step
		}
		d.log.Error(ctx, "Handler failed", out.Err, fields)
	}

	if d.opts.OnOutcome != nil {
		d.opts.OnOutcome(out)
	}
}
