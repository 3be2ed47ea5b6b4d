package events

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// WebhookPublisher envia cada evento como JSON para uma URL externa (notificações de vendedor e entregadores)
type WebhookPublisher struct {
	client *resty.Client
	url    string
}

// NewWebhookPublisher cria o publisher com timeout curto e retentativas em erros 5xx
func NewWebhookPublisher(url string) *WebhookPublisher {
	client := resty.New().
		SetTimeout(5*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})

	return &WebhookPublisher{client: client, url: url}
}

func (p *WebhookPublisher) Publish(ctx context.Context, evt Event) error {
	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("X-Event-Type", string(evt.Type)).
		SetBody(evt).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("webhook %s for order %s: %w", evt.Type, evt.OrderID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s for order %s: unexpected status %d", evt.Type, evt.OrderID, resp.StatusCode())
	}
	return nil
}
