package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

const tokenIssuer = "caixa"

// UserStore is the slice of the repository the auth manager needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	users      UserStore
	now        func() time.Time
}

type caixaClaims struct {
	jwtlib.RegisteredClaims
	Username   string `json:"username"`
	Role       string `json:"role"`
	MerchantID string `json:"merchant_id"`
}

// NewAuthManager hashes the manager PIN once. An empty PIN disables every
// PIN-guarded action.
func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	hashedPIN := ""
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hashed, err := hashPassword(pin); err == nil {
			hashedPIN = hashed
		}
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: hashedPIN,
		users:      users,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	invalid := apperror.NewUnauthorized("invalid credentials")

	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, invalid
	}
	if err != nil {
		return domain.LoginResponse{}, apperror.NewStorage(err)
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, invalid
	}
	if !user.Active {
		return domain.LoginResponse{}, apperror.NewForbidden("account is inactive")
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		MerchantID:  user.MerchantID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &caixaClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, apperror.NewUnauthorized("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.MerchantID == "" {
		return domain.Actor{}, apperror.NewUnauthorized("invalid token subject")
	}
	return domain.Actor{
		UserID:     sub,
		Username:   claims.Username,
		Role:       claims.Role,
		MerchantID: claims.MerchantID,
	}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := caixaClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Username:   user.Username,
		Role:       user.Role,
		MerchantID: user.MerchantID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

// CreateUser registers an operator at merchantID. Role defaults to caixa.
func (a *AuthManager) CreateUser(ctx context.Context, merchantID string, req domain.UserCreateRequest) (domain.UserAccount, error) {
	username := normalizeUsername(req.Username)
	if len(username) < 4 {
		return domain.UserAccount{}, apperror.NewValidation("username", "username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, apperror.NewValidation("username", "username must not contain spaces")
	}
	if len(strings.TrimSpace(req.Password)) < 8 {
		return domain.UserAccount{}, apperror.NewValidation("password", "password must be at least 8 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleCashier && role != domain.RoleAdmin {
		return domain.UserAccount{}, apperror.NewValidation("role", "role must be admin or caixa")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, apperror.NewValidation("password", "password cannot be hashed")
	}

	user := domain.UserAccount{
		ID:           xid.New("usr"),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		MerchantID:   merchantID,
		Active:       true,
		CreatedAt:    a.now(),
	}
	err = a.users.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.UserAccount{}, apperror.NewValidation("username", "username already exists")
	}
	if err != nil {
		return domain.UserAccount{}, apperror.NewStorage(err)
	}
	return user, nil
}

// EnsureAdmin creates the admin account unless the username is taken.
func (a *AuthManager) EnsureAdmin(ctx context.Context, merchantID string, username string, password string) (bool, error) {
	_, err := a.users.GetUserByUsername(ctx, normalizeUsername(username))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	_, err = a.CreateUser(ctx, merchantID, domain.UserCreateRequest{
		Username: username,
		Password: password,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
