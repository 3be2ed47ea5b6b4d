package expiry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("scheduler stopped")

const (
	defaultExpiryKey = "fulfillment:reservation:expiry"
	dueBatchSize     = 100
)

// sortedSet é o recorte de um ZSET usado pelo scheduler
type sortedSet interface {
	Add(ctx context.Context, member string, score float64) error
	Remove(ctx context.Context, member string) (bool, error)
	Due(ctx context.Context, maxScore float64, limit int64) ([]string, error)
}

type redisSortedSet struct {
	client *redis.Client
	key    string
}

func (z *redisSortedSet) Add(ctx context.Context, member string, score float64) error {
	return z.client.ZAdd(ctx, z.key, redis.Z{Score: score, Member: member}).Err()
}

// Remove devolve true só para quem de fato removeu o membro; é isso que decide o dono da expiração
func (z *redisSortedSet) Remove(ctx context.Context, member string) (bool, error) {
	removed, err := z.client.ZRem(ctx, z.key, member).Result()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

func (z *redisSortedSet) Due(ctx context.Context, maxScore float64, limit int64) ([]string, error) {
	return z.client.ZRangeByScore(ctx, z.key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatFloat(maxScore, 'f', -1, 64),
		Offset: 0,
		Count:  limit,
	}).Result()
}

// RedisScheduler guarda os prazos em um sorted set do Redis e os consome por polling.
// Várias réplicas podem compartilhar o mesmo set: o ZREM garante um único disparo por pedido.
type RedisScheduler struct {
	set      sortedSet
	handler  Handler
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRedisClient abre o cliente e confirma a conexão com um PING
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisScheduler cria o scheduler e inicia o loop de polling
func NewRedisScheduler(client *redis.Client, handler Handler, interval time.Duration, logger *zap.Logger) *RedisScheduler {
	return newRedisScheduler(&redisSortedSet{client: client, key: defaultExpiryKey}, handler, interval, logger)
}

func newRedisScheduler(set sortedSet, handler Handler, interval time.Duration, logger *zap.Logger) *RedisScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RedisScheduler{
		set:      set,
		handler:  handler,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *RedisScheduler) Schedule(ctx context.Context, orderID string, at time.Time) error {
	if err := s.set.Add(ctx, orderID, float64(at.UnixMilli())); err != nil {
		return fmt.Errorf("schedule expiry for %s: %w", orderID, err)
	}
	return nil
}

func (s *RedisScheduler) Cancel(ctx context.Context, orderID string) error {
	if _, err := s.set.Remove(ctx, orderID); err != nil {
		return fmt.Errorf("cancel expiry for %s: %w", orderID, err)
	}
	return nil
}

// Stop encerra o loop de polling e aguarda o lote em andamento
func (s *RedisScheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *RedisScheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll dispara os prazos vencidos; só o processo cujo ZREM removeu o membro chama o handler
func (s *RedisScheduler) poll(ctx context.Context) {
	due, err := s.set.Due(ctx, float64(s.now().UnixMilli()), dueBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("❌ [EXPIRY] Failed to read due expirations", zap.Error(err))
		}
		return
	}

	for _, orderID := range due {
		owned, err := s.set.Remove(ctx, orderID)
		if err != nil {
			s.logger.Error("❌ [EXPIRY] Failed to claim expiration", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		if !owned {
			continue
		}

		s.logger.Info("⏳ [EXPIRY] Reservation TTL reached", zap.String("order_id", orderID))
		// o cancelamento já foi reivindicado; termina mesmo se o loop estiver parando
		s.handler(context.WithoutCancel(ctx), orderID)
	}
}
