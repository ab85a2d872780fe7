package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string, maxConns int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if maxConns < 1 {
		maxConns = 20
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(2, maxConns/4))
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type productRow struct {
	ID         string          `db:"id"`
	MerchantID string          `db:"comercio_id"`
	Name       string          `db:"nome"`
	Category   string          `db:"categoria"`
	Price      decimal.Decimal `db:"preco"`
	MinStock   int             `db:"estoque_minimo"`
	Deleted    bool            `db:"excluido"`
	CreatedAt  time.Time       `db:"criado_em"`
	UpdatedAt  time.Time       `db:"atualizado_em"`
	DeletedAt  sql.NullTime    `db:"excluido_em"`
}

func (r productRow) toDomain() domain.Product {
	product := domain.Product{
		ID:         r.ID,
		MerchantID: r.MerchantID,
		Name:       r.Name,
		Category:   r.Category,
		Price:      r.Price,
		MinStock:   r.MinStock,
		Deleted:    r.Deleted,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.DeletedAt.Valid {
		at := r.DeletedAt.Time.UTC()
		product.DeletedAt = &at
	}
	return product
}

var productColumns = []string{
	"p.id", "p.comercio_id", "p.nome", "COALESCE(p.categoria, '') AS categoria", "p.preco",
	"p.estoque_minimo", "p.excluido", "p.criado_em", "p.atualizado_em", "p.excluido_em",
}

// CreateProduct inserts the product together with its zero stock row, so
// stock updates always find a row to lock.
func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		conn := s.conn(ctx)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO produtos (id, comercio_id, nome, categoria, preco, estoque_minimo, excluido, criado_em, atualizado_em)
			VALUES ($1,$2,$3,$4,$5,$6,false,$7,$8)
		`, product.ID, product.MerchantID, product.Name, nullIfEmpty(product.Category), product.Price,
			product.MinStock, product.CreatedAt, product.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO estoques (produto_id, comercio_id, quantidade, atualizado_em)
			VALUES ($1,$2,0,$3)
		`, product.ID, product.MerchantID, product.CreatedAt)
		return err
	})
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE produtos
		SET nome = $3, categoria = $4, preco = $5, estoque_minimo = $6,
		    excluido = $7, atualizado_em = $8, excluido_em = $9
		WHERE id = $1 AND comercio_id = $2
	`, product.ID, product.MerchantID, product.Name, nullIfEmpty(product.Category), product.Price,
		product.MinStock, product.Deleted, product.UpdatedAt, nullTime(product.DeletedAt))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) GetProduct(ctx context.Context, merchantID string, productID string) (*domain.Product, error) {
	query, args, err := psql.Select(productColumns...).
		From("produtos p").
		Where(squirrel.Eq{"p.id": productID, "p.comercio_id": merchantID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row productRow
	if err := sqlscan.Get(ctx, s.conn(ctx), &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, merchantID string, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	query, args, err := psql.Select(productColumns...).
		From("produtos p").
		Where(squirrel.Eq{"p.comercio_id": merchantID}).
		Where("p.id = ANY(?)", productIDs).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []productRow
	if err := sqlscan.Select(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ID] = row.toDomain()
	}
	return result, nil
}

type productListRow struct {
	productRow
	Quantity int `db:"quantidade"`
}

func (s *Store) ListProducts(ctx context.Context, merchantID string, includeDeleted bool) ([]domain.ProductListItem, error) {
	builder := psql.Select(append(productColumns, "COALESCE(e.quantidade, 0) AS quantidade")...).
		From("produtos p").
		LeftJoin("estoques e ON e.produto_id = p.id").
		Where(squirrel.Eq{"p.comercio_id": merchantID}).
		OrderBy("p.categoria NULLS FIRST", "p.nome", "p.id")
	if !includeDeleted {
		builder = builder.Where(squirrel.Eq{"p.excluido": false})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []productListRow
	if err := sqlscan.Select(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	items := make([]domain.ProductListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.ProductListItem{Product: row.toDomain(), Quantity: row.Quantity})
	}
	return items, nil
}

type customerRow struct {
	ID         string    `db:"id"`
	MerchantID string    `db:"comercio_id"`
	Name       string    `db:"nome"`
	Phone      string    `db:"telefone"`
	Email      string    `db:"email"`
	Document   string    `db:"documento"`
	CreatedAt  time.Time `db:"criado_em"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		ID:         r.ID,
		MerchantID: r.MerchantID,
		Name:       r.Name,
		Phone:      r.Phone,
		Email:      r.Email,
		Document:   r.Document,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

const customerColumns = `id, comercio_id, nome, COALESCE(telefone, '') AS telefone,
	COALESCE(email, '') AS email, COALESCE(documento, '') AS documento, criado_em`

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO clientes (id, comercio_id, nome, telefone, email, documento, criado_em)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.MerchantID, customer.Name, nullIfEmpty(customer.Phone),
		nullIfEmpty(customer.Email), nullIfEmpty(customer.Document), customer.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetCustomer(ctx context.Context, merchantID string, customerID string) (*domain.Customer, error) {
	var row customerRow
	err := sqlscan.Get(ctx, s.conn(ctx), &row,
		`SELECT `+customerColumns+` FROM clientes WHERE id = $1 AND comercio_id = $2`,
		customerID, merchantID)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer := row.toDomain()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, merchantID string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []customerRow
	err := sqlscan.Select(ctx, s.conn(ctx), &rows,
		`SELECT `+customerColumns+` FROM clientes WHERE comercio_id = $1 ORDER BY nome, id LIMIT $2`,
		merchantID, limit)
	if err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, row.toDomain())
	}
	return customers, nil
}

type userRow struct {
	ID           string    `db:"id"`
	Username     string    `db:"nome_usuario"`
	PasswordHash string    `db:"senha_hash"`
	Role         string    `db:"papel"`
	MerchantID   string    `db:"comercio_id"`
	Active       bool      `db:"ativo"`
	CreatedAt    time.Time `db:"criado_em"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO usuarios (id, nome_usuario, senha_hash, papel, comercio_id, ativo, criado_em)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Username, user.PasswordHash, user.Role, user.MerchantID, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var row userRow
	err := sqlscan.Get(ctx, s.conn(ctx), &row, `
		SELECT id, nome_usuario, senha_hash, papel, comercio_id, ativo, criado_em
		FROM usuarios
		WHERE nome_usuario = $1
	`, username)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &domain.UserAccount{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
		Role:         row.Role,
		MerchantID:   row.MerchantID,
		Active:       row.Active,
		CreatedAt:    row.CreatedAt.UTC(),
	}, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func decimalPtr(val decimal.NullDecimal) *decimal.Decimal {
	if !val.Valid {
		return nil
	}
	d := val.Decimal
	return &d
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
