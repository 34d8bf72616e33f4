package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulecrafter/internal/logging"
)

// Folder folds one normalized event into the matching aggregate.
// Implemented by the pattern store.
type Folder interface {
	Fold(ctx context.Context, ev Event) error
}

// Trigger identifies why a batch analysis run fires.
type Trigger string

const (
	// TriggerPeriodic fires after every N ingested events.
	TriggerPeriodic Trigger = "periodic"

	// TriggerSessionEnd fires once when a session ends. It is the
	// consolidation point that also processes the conversation summary.
	TriggerSessionEnd Trigger = "session_end"
)

// TriggerFunc is invoked asynchronously when a batch run is due. The summary
// argument is non-empty only for session-end triggers.
type TriggerFunc func(trigger Trigger, sessionID, summary string)

// Stats counts ingestion outcomes. Nothing is lost without a count here.
type Stats struct {
	Ingested  uint64
	Malformed uint64
	Dropped   uint64
	Excluded  uint64
	FoldErrs  uint64
}

// Ingestor is the asynchronous ingestion boundary: Submit enqueues and
// returns quickly; a single worker drains the queue, serializing all merges
// into the pattern store.
type Ingestor struct {
	folder        Folder
	trigger       TriggerFunc
	exclude       func(path string) bool
	log           *logging.Logger
	queue         chan Event
	submitTimeout time.Duration
	frequency     int

	ingested  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	excluded  atomic.Uint64
	foldErrs  atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// IngestorOptions configures an Ingestor.
type IngestorOptions struct {
	QueueSize     int
	SubmitTimeout time.Duration
	// Frequency is the number of folded events between periodic triggers.
	Frequency int
	// Exclude reports whether a file path is excluded from aggregation.
	// May be nil.
	Exclude func(path string) bool
	// OnTrigger is called when a batch run is due. May be nil.
	OnTrigger TriggerFunc
}

// NewIngestor creates an ingestor. Call Start before Submit.
func NewIngestor(folder Folder, log *logging.Logger, opts IngestorOptions) *Ingestor {
	if opts.QueueSize < 1 {
		opts.QueueSize = 256
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 50 * time.Millisecond
	}
	if opts.Frequency < 1 {
		opts.Frequency = 10
	}
	return &Ingestor{
		folder:        folder,
		trigger:       opts.OnTrigger,
		exclude:       opts.Exclude,
		log:           log.Named("ingest"),
		queue:         make(chan Event, opts.QueueSize),
		submitTimeout: opts.SubmitTimeout,
		frequency:     opts.Frequency,
		done:          make(chan struct{}),
	}
}

// Start launches the worker. The worker runs until Close is called; ctx
// bounds the folding of individual events.
func (i *Ingestor) Start(ctx context.Context) {
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go i.run(ctx)
	})
}

// Close stops accepting events, drains the queue, and waits for the worker.
func (i *Ingestor) Close() {
	i.stopOnce.Do(func() {
		close(i.done)
		i.wg.Wait()
	})
}

// Submit normalizes and enqueues one raw event. It never returns an error to
// the host: malformed events are counted and logged, and if the queue stays
// full past the submit timeout the event is dropped with a warning.
func (i *Ingestor) Submit(ctx context.Context, raw RawEvent) {
	ev, err := Normalize(raw)
	if err != nil {
		i.malformed.Add(1)
		i.log.Warn("dropping malformed event", zap.String("kind", raw.Kind), zap.Error(err))
		return
	}

	if ev.Kind == KindFileChanged && i.exclude != nil && i.exclude(ev.Payload.FilePath) {
		i.excluded.Add(1)
		return
	}

	timer := time.NewTimer(i.submitTimeout)
	defer timer.Stop()

	select {
	case i.queue <- ev:
	case <-timer.C:
		i.dropped.Add(1)
		i.log.Warn("event queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("session_id", ev.SessionID))
	case <-ctx.Done():
		i.dropped.Add(1)
	}
}

// Stats returns a snapshot of the ingestion counters.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Ingested:  i.ingested.Load(),
		Malformed: i.malformed.Load(),
		Dropped:   i.dropped.Load(),
		Excluded:  i.excluded.Load(),
		FoldErrs:  i.foldErrs.Load(),
	}
}

func (i *Ingestor) run(ctx context.Context) {
	defer i.wg.Done()

	for {
		select {
		case ev := <-i.queue:
			i.fold(ctx, ev)
		case <-i.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-i.queue:
					i.fold(ctx, ev)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (i *Ingestor) fold(ctx context.Context, ev Event) {
	if err := i.folder.Fold(ctx, ev); err != nil {
		i.foldErrs.Add(1)
		i.log.Warn("fold failed, event dropped",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
		return
	}

	n := i.ingested.Add(1)

	if i.trigger == nil {
		return
	}
	if ev.Kind == KindSessionEnded {
		go i.trigger(TriggerSessionEnd, ev.SessionID, ev.Payload.Summary)
	} else if n%uint64(i.frequency) == 0 {
		go i.trigger(TriggerPeriodic, ev.SessionID, "")
	}
}
