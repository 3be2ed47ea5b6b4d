package expiry

import (
	"context"
	"fmt"
	"time"
)

// Restore reagenda os prazos de reservas que sobreviveram a um restart.
// Prazos vencidos disparam no próximo ciclo do agendador.
func Restore(ctx context.Context, scheduler Scheduler, deadlines map[string]time.Time) (int, error) {
	restored := 0
	for orderID, at := range deadlines {
		if err := scheduler.Schedule(ctx, orderID, at); err != nil {
			return restored, fmt.Errorf("failed to restore expiry for order %s: %w", orderID, err)
		}
		restored++
	}
	return restored, nil
}
