package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// LogPublisher registra cada evento no log estruturado
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher cria uma nova instância de LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info("📣 [EVENT] "+string(evt.Type),
		zap.String("order_id", evt.OrderID),
		zap.String("order_status", evt.OrderStatus),
		zap.String("fulfillment_status", evt.FulfillmentStatus),
		zap.String("partner_id", evt.PartnerID),
		zap.String("store_id", evt.StoreID),
	)
	return nil
}

// MultiPublisher repassa o evento para todos os publishers, agregando os erros
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder guarda os eventos publicados em memória; usado por testes e pela simulação
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder cria um Recorder vazio
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events devolve uma cópia dos eventos gravados
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filtra os eventos gravados por tipo
func (r *Recorder) OfType(eventType Type) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// Types devolve a sequência de tipos gravados para um pedido
func (r *Recorder) Types(orderID string) []Type {
	var out []Type
	for _, evt := range r.Events() {
		if evt.OrderID == orderID {
			out = append(out, evt.Type)
		}
	}
	return out
}
