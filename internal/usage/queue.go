package usage

import (
	"context"
	"sync"
	"time"

	log "github.com/nghyane/claude-relay/internal/logging"
)

// store is the part of a backend that talks to the database.
type store interface {
	writeBatch(ctx context.Context, records []Record) error
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// queue buffers records and writes them to a store in batches, either when
// a batch fills or on every flush tick. It also enforces retention.
type queue struct {
	name    string
	store   store
	cfg     BackendConfig
	records chan Record

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newQueue(name string, s store, cfg BackendConfig) *queue {
	return &queue{
		name:    name,
		store:   s,
		cfg:     cfg.withDefaults(),
		records: make(chan Record, queueSize),
		stop:    make(chan struct{}),
	}
}

func (q *queue) Enqueue(r Record) {
	select {
	case q.records <- r:
	default:
		log.Warnf("%s usage queue full, dropping record for %s/%s", q.name, r.Provider, r.Model)
	}
}

// Flush drains whatever is queued right now.
func (q *queue) Flush(ctx context.Context) error {
	batch := make([]Record, 0, q.cfg.BatchSize)
	for {
		select {
		case r := <-q.records:
			batch = append(batch, r)
			if len(batch) >= q.cfg.BatchSize {
				if err := q.store.writeBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) == 0 {
				return nil
			}
			return q.store.writeBatch(ctx, batch)
		}
	}
}

func (q *queue) start() {
	q.wg.Add(2)
	go q.writeLoop()
	go q.retentionLoop()
}

// shutdown stops the loops after they wrote everything still queued.
func (q *queue) shutdown() {
	q.stopOnce.Do(func() {
		close(q.stop)
		q.wg.Wait()
	})
}

func (q *queue) writeLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, q.cfg.BatchSize)
	write := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := q.store.writeBatch(ctx, batch); err != nil {
			log.Errorf("%s: writing %d usage records: %v", q.name, len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case r := <-q.records:
			batch = append(batch, r)
			if len(batch) >= q.cfg.BatchSize {
				write()
			}
		case <-ticker.C:
			write()
		case <-q.stop:
			for {
				select {
				case r := <-q.records:
					batch = append(batch, r)
					if len(batch) >= q.cfg.BatchSize {
						write()
					}
				default:
					write()
					return
				}
			}
		}
	}
}

func (q *queue) retentionLoop() {
	defer q.wg.Done()
	q.cleanup()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.cleanup()
		case <-q.stop:
			return
		}
	}
}

func (q *queue) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -q.cfg.RetentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := q.store.Cleanup(ctx, cutoff)
	if err != nil {
		log.Errorf("%s: usage retention cleanup: %v", q.name, err)
		return
	}
	if n > 0 {
		log.Infof("%s: removed %d usage records older than %d days", q.name, n, q.cfg.RetentionDays)
	}
}
