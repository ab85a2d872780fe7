package domain

import "time"

type MovementKind string

const (
	MovementEntrada MovementKind = "entrada"
	MovementSaida   MovementKind = "saida"
	MovementAjuste  MovementKind = "ajuste"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementEntrada, MovementSaida, MovementAjuste:
		return true
	}
	return false
}

// StockChange is one request against the stock ledger. Quantity is a
// magnitude for entrada and saida and a signed delta for ajuste.
type StockChange struct {
	ProductID string
	Kind      MovementKind
	Quantity  int
	Reason    string
	Notes     string
	SaleID    string
}

func (c StockChange) SignedDelta() int {
	if c.Kind == MovementSaida {
		return -c.Quantity
	}
	return c.Quantity
}

// StockMovement is immutable once written: QuantityAfter equals
// QuantityBefore plus QuantityDelta.
type StockMovement struct {
	ID             string       `json:"id"`
	ProductID      string       `json:"product_id"`
	MerchantID     string       `json:"merchant_id"`
	UserID         string       `json:"user_id"`
	SaleID         string       `json:"sale_id,omitempty"`
	Kind           MovementKind `json:"kind"`
	QuantityBefore int          `json:"quantity_before"`
	QuantityDelta  int          `json:"quantity_delta"`
	QuantityAfter  int          `json:"quantity_after"`
	Reason         string       `json:"reason"`
	Notes          string       `json:"notes,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

type StockAdjustRequest struct {
	Kind     MovementKind `json:"kind"`
	Quantity int          `json:"quantity"`
	Reason   string       `json:"reason"`
	Notes    string       `json:"notes"`
}

type MovementFilter struct {
	ProductID string
	SaleID    string
	From      time.Time
	To        time.Time
	Limit     int
}

type StockReconciliation struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	MovementSum   int    `json:"movement_sum"`
	MovementCount int    `json:"movement_count"`
	Consistent    bool   `json:"consistent"`
}
