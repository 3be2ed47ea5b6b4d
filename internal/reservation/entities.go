package reservation

import (
	"errors"
	"time"
)

var (
	ErrReservationFailed = errors.New("reservation failed")
	ErrAlreadyReserved   = errors.New("order already holds reservations")
)

// Reservation representa uma retenção provisória de estoque para um pedido
type Reservation struct {
	OrderID   string    `json:"order_id"`
	StoreID   string    `json:"store_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Deadline devolve o menor expiresAt de um lote; zero se o lote estiver vazio
func Deadline(reservations []Reservation) time.Time {
	var deadline time.Time
	for _, r := range reservations {
		if deadline.IsZero() || r.ExpiresAt.Before(deadline) {
			deadline = r.ExpiresAt
		}
	}
	return deadline
}
