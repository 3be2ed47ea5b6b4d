package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// AsyncPublisher desacopla o núcleo da entrega: Publish só enfileira e nunca bloqueia.
// Com o buffer cheio o evento é descartado e contado.
type AsyncPublisher struct {
	next   Publisher
	logger *zap.Logger
	queue  chan queued

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64

	droppedCounter metric.Int64Counter
}

type queued struct {
	ctx context.Context
	evt Event
}

// NewAsyncPublisher cria o publisher e inicia o worker de entrega
func NewAsyncPublisher(next Publisher, bufferSize int, logger *zap.Logger) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	counter, err := otel.Meter("fulfillment/events").Int64Counter(
		"events_dropped_total",
		metric.WithDescription("Domain events discarded because the delivery buffer was full"),
	)
	if err != nil {
		logger.Warn("⚠️ Failed to create events_dropped_total counter", zap.Error(err))
	}

	p := &AsyncPublisher{
		next:           next,
		logger:         logger,
		queue:          make(chan queued, bufferSize),
		done:           make(chan struct{}),
		droppedCounter: counter,
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(ctx, evt, "closed")
		return nil
	}

	select {
	case p.queue <- queued{ctx: context.WithoutCancel(ctx), evt: evt}:
	default:
		p.drop(ctx, evt, "buffer_full")
	}
	return nil
}

func (p *AsyncPublisher) drop(ctx context.Context, evt Event, reason string) {
	p.dropped.Add(1)
	if p.droppedCounter != nil {
		p.droppedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", string(evt.Type)),
			attribute.String("reason", reason),
		))
	}
	p.logger.Warn("⚠️ [EVENT] Dropped",
		zap.String("event", string(evt.Type)),
		zap.String("order_id", evt.OrderID),
		zap.String("reason", reason),
	)
}

// Dropped devolve quantos eventos foram descartados
func (p *AsyncPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *AsyncPublisher) run() {
	defer close(p.done)

	for item := range p.queue {
		if err := p.next.Publish(item.ctx, item.evt); err != nil {
			p.logger.Warn("⚠️ [EVENT] Delivery failed",
				zap.String("event", string(item.evt.Type)),
				zap.String("order_id", item.evt.OrderID),
				zap.Error(err),
			)
		}
	}
}

// Close para de aceitar eventos e aguarda a entrega do que já estava no buffer
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
