package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("ingest: pool closed")

// Handler processes one event. *Pipeline implements it.
type Handler interface {
	Handle(ctx context.Context, ev event.InboundEvent) error
}

// PoolOptions sizes a Pool. Zero values take the defaults.
type PoolOptions struct {
	Workers   int
	QueueSize int
}

type job struct {
	ctx context.Context
	ev  event.InboundEvent
}

// Pool runs one worker per shard. Events of a sender always land on the same
// shard, so they are handled in arrival order.
type Pool struct {
	handler Handler
	queues  []chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	inline atomic.Uint64
}

// NewPool starts the workers.
func NewPool(h Handler, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	p := &Pool{handler: h, queues: make([]chan job, opts.Workers)}
	p.wg.Add(opts.Workers)
	for i := range p.queues {
		q := make(chan job, opts.QueueSize)
		p.queues[i] = q
		go p.worker(i, q)
	}
	return p
}

// Accept normalizes upd and submits it. Normalization failures are logged and returned.
func (p *Pool) Accept(ctx context.Context, upd *tele.Update) error {
	ev, err := telegram.Normalize(upd)
	if err != nil {
		attrs := []slog.Attr{
			slog.String("status", "dropped"),
			slog.String("err", err.Error()),
		}
		if upd != nil {
			attrs = append(attrs, slog.Int("update_id", upd.ID))
		}
		logger.Warn(ctx, "ingest", "event.normalize", attrs...)
		return err
	}
	return p.Submit(ctx, ev)
}

// Submit queues ev on its sender's shard. The caller's cancellation is not
// inherited. When the shard queue is full the event is handled inline on the
// calling goroutine.
func (p *Pool) Submit(ctx context.Context, ev event.InboundEvent) error {
	j := job{ctx: context.WithoutCancel(ctx), ev: ev}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	q := p.queues[p.shard(ev)]
	select {
	case q <- j:
		p.mu.RUnlock()
		return nil
	default:
	}
	p.mu.RUnlock()

	p.inline.Add(1)
	logger.Warn(ctx, "ingest", "queue.full",
		slog.String("status", "ok"),
		slog.String("mode", "inline"),
		slog.Int("queue", p.shard(ev)),
	)
	p.run(j)
	return nil
}

// Inline returns how many events overflowed into inline processing.
func (p *Pool) Inline() uint64 {
	return p.inline.Load()
}

// Close stops accepting events and waits until every queued event is handled.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) shard(ev event.InboundEvent) int {
	id := int64(ev.SenderID)
	if id < 0 {
		id = -id
	}
	return int(id % int64(len(p.queues)))
}

func (p *Pool) worker(idx int, q <-chan job) {
	defer p.wg.Done()
	for j := range q {
		p.run(j)
	}
	logger.Debug(context.Background(), "ingest", "worker.stop",
		slog.String("status", "ok"),
		slog.Int("worker", idx),
	)
}

func (p *Pool) run(j job) {
	// Handle logs its own outcome.
	_ = p.handler.Handle(j.ctx, j.ev)
}
