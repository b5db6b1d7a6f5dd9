package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

// Ingestor handles the asynchronous persistence of trace events.
type Ingestor interface {
	Record(event *model.TraceEvent)
	// Start launches the writer. Cancelling ctx does not stop it, so events
	// recorded while the server drains are still persisted.
	Start(ctx context.Context)
	// Stop drains buffered events and waits for the final flush.
	Stop()
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	events    chan *model.TraceEvent
	batchSize int
	flushTime time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewIngestor(logger *zap.Logger, repo store.Repository) Ingestor {
	return &ingestor{
		logger:    logger.With(zap.String("component", "trace_ingestor")),
		repo:      repo,
		events:    make(chan *model.TraceEvent, 10000),
		batchSize: 50,
		flushTime: 2 * time.Second,
	}
}

func (i *ingestor) Record(event *model.TraceEvent) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.stopped {
		return
	}
	select {
	case i.events <- event:
	default:
		i.logger.Warn("Trace buffer full, dropping event", zap.String("trace_id", event.TraceID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	i.wg.Add(1)
	go i.worker(context.WithoutCancel(ctx))
}

func (i *ingestor) Stop() {
	i.mu.Lock()
	if !i.stopped {
		i.stopped = true
		close(i.events)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *ingestor) worker(ctx context.Context) {
	defer i.wg.Done()

	batch := make([]*model.TraceEvent, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		err := store.RetryOnBusy(ctx, func() error {
			return i.repo.WithTx(ctx, func(tx store.Repository) error {
				for _, ev := range batch {
					if err := tx.Traces().Insert(ctx, ev); err != nil {
						return err
					}
				}
				return nil
			})
		})
		if err != nil {
			i.logger.Error("Failed to persist trace events", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-i.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
