package fulfillment

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics reúne os contadores do coordenador
type Metrics struct {
	ordersPlaced    metric.Int64Counter
	ordersRejected  metric.Int64Counter
	ordersCancelled metric.Int64Counter
	ordersCompleted metric.Int64Counter
	deliveryClaims  metric.Int64Counter
}

// NewMetrics registra os contadores no meter informado
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ordersPlaced, err = meter.Int64Counter("orders_placed_total",
		metric.WithDescription("Orders created with stock reserved")); err != nil {
		return nil, err
	}
	if m.ordersRejected, err = meter.Int64Counter("orders_rejected_total",
		metric.WithDescription("Order placements that failed, by reason")); err != nil {
		return nil, err
	}
	if m.ordersCancelled, err = meter.Int64Counter("orders_cancelled_total",
		metric.WithDescription("Orders cancelled, by cause")); err != nil {
		return nil, err
	}
	if m.ordersCompleted, err = meter.Int64Counter("orders_completed_total",
		metric.WithDescription("Orders delivered and completed")); err != nil {
		return nil, err
	}
	if m.deliveryClaims, err = meter.Int64Counter("delivery_claims_total",
		metric.WithDescription("Delivery claims, by outcome")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) placed(ctx context.Context) {
	m.ordersPlaced.Add(ctx, 1)
}

func (m *Metrics) rejected(ctx context.Context, reason string) {
	m.ordersRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) cancelled(ctx context.Context, cause string) {
	m.ordersCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (m *Metrics) completed(ctx context.Context) {
	m.ordersCompleted.Add(ctx, 1)
}

func (m *Metrics) claim(ctx context.Context, won bool) {
	outcome := "lost"
	if won {
		outcome = "won"
	}
	m.deliveryClaims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
