package expiry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler é chamado quando o prazo de um pedido vence.
// Deve passar pelo mesmo caminho de cancelamento usado pelos demais chamadores.
type Handler func(ctx context.Context, orderID string)

// Scheduler agenda a verificação única de expiração de cada pedido
type Scheduler interface {
	Schedule(ctx context.Context, orderID string, at time.Time) error
	Cancel(ctx context.Context, orderID string) error
	Stop()
}

// TimerScheduler agenda as expirações com timers do próprio processo
type TimerScheduler struct {
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	running sync.WaitGroup
}

// NewTimerScheduler cria uma nova instância de TimerScheduler
func NewTimerScheduler(handler Handler, logger *zap.Logger) *TimerScheduler {
	return &TimerScheduler{
		handler: handler,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule agenda (ou reagenda) a expiração do pedido
func (s *TimerScheduler) Schedule(_ context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if existing, ok := s.timers[orderID]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		s.mu.Lock()
		if s.stopped || s.timers[orderID] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, orderID)
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		s.logger.Info("⏳ [EXPIRY] Reservation TTL reached", zap.String("order_id", orderID))
		s.handler(context.Background(), orderID)
	})
	s.timers[orderID] = timer
	return nil
}

// Cancel descarta a expiração pendente do pedido, se houver
func (s *TimerScheduler) Cancel(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[orderID]; ok {
		timer.Stop()
		delete(s.timers, orderID)
	}
	return nil
}

// Pending devolve quantas expirações ainda estão agendadas
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop descarta os timers pendentes e aguarda os handlers em execução
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for orderID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, orderID)
	}
	s.mu.Unlock()

	s.running.Wait()
}
