package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleCashier = "caixa"
)

// Scope names the tenant and the operator of a core operation. It is
// passed explicitly to every ledger and sale operation.
type Scope struct {
	MerchantID string
	UserID     string
}

type Actor struct {
	UserID     string
	Username   string
	Role       string
	MerchantID string
}

func (a Actor) Scope() Scope {
	return Scope{MerchantID: a.MerchantID, UserID: a.UserID}
}

type UserAccount struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	MerchantID   string    `json:"merchant_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	MerchantID  string `json:"merchant_id"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}
