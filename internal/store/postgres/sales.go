package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

// InsertSale writes the header and its lines. A second sale with the same
// merchant and idempotency key inserts nothing and reports ErrDuplicate.
func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) error {
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		conn := s.conn(ctx)
		res, err := conn.ExecContext(ctx, `
			INSERT INTO vendas (
				id, comercio_id, usuario_id, cliente_id, chave_idempotencia, hash_requisicao,
				subtotal, desconto, total, forma_pagamento, valor_recebido, troco,
				status, observacoes, criado_em
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (comercio_id, chave_idempotencia) DO NOTHING
		`, sale.ID, sale.MerchantID, sale.UserID, nullIfEmpty(sale.CustomerID), sale.IdempotencyKey, sale.RequestHash,
			sale.Subtotal, sale.Discount, sale.Total, string(sale.PaymentMethod),
			nullDecimal(sale.AmountTendered), nullDecimal(sale.Change),
			string(sale.Status), nullIfEmpty(sale.Notes), sale.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrDuplicate
		}

		for _, item := range sale.Items {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO itens_venda (id, venda_id, produto_id, nome_produto, quantidade, preco_unitario, subtotal)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, item.ID, sale.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type saleRow struct {
	ID             string              `db:"id"`
	MerchantID     string              `db:"comercio_id"`
	UserID         string              `db:"usuario_id"`
	CustomerID     string              `db:"cliente_id"`
	IdempotencyKey string              `db:"chave_idempotencia"`
	RequestHash    string              `db:"hash_requisicao"`
	Subtotal       decimal.Decimal     `db:"subtotal"`
	Discount       decimal.Decimal     `db:"desconto"`
	Total          decimal.Decimal     `db:"total"`
	PaymentMethod  string              `db:"forma_pagamento"`
	AmountTendered decimal.NullDecimal `db:"valor_recebido"`
	Change         decimal.NullDecimal `db:"troco"`
	Status         string              `db:"status"`
	Notes          string              `db:"observacoes"`
	CancelReason   string              `db:"motivo_cancelamento"`
	CancelledBy    string              `db:"cancelado_por"`
	CancelledAt    sql.NullTime        `db:"cancelado_em"`
	CreatedAt      time.Time           `db:"criado_em"`
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{
		ID:             r.ID,
		MerchantID:     r.MerchantID,
		UserID:         r.UserID,
		CustomerID:     r.CustomerID,
		IdempotencyKey: r.IdempotencyKey,
		RequestHash:    r.RequestHash,
		Items:          []domain.SaleLineItem{},
		Subtotal:       r.Subtotal,
		Discount:       r.Discount,
		Total:          r.Total,
		PaymentMethod:  domain.PaymentMethod(r.PaymentMethod),
		AmountTendered: decimalPtr(r.AmountTendered),
		Change:         decimalPtr(r.Change),
		Status:         domain.SaleStatus(r.Status),
		Notes:          r.Notes,
		CancelReason:   r.CancelReason,
		CancelledBy:    r.CancelledBy,
		CancelledAt:    timePtr(r.CancelledAt),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

var saleColumns = []string{
	"id", "comercio_id", "usuario_id", "COALESCE(cliente_id, '') AS cliente_id",
	"chave_idempotencia", "hash_requisicao", "subtotal", "desconto", "total", "forma_pagamento",
	"valor_recebido", "troco", "status", "COALESCE(observacoes, '') AS observacoes",
	"COALESCE(motivo_cancelamento, '') AS motivo_cancelamento",
	"COALESCE(cancelado_por, '') AS cancelado_por", "cancelado_em", "criado_em",
}

func (s *Store) getSale(ctx context.Context, where squirrel.Eq, suffix string) (*domain.Sale, error) {
	query, args, err := psql.Select(saleColumns...).
		From("vendas").
		Where(where).
		Suffix(suffix).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row saleRow
	if err := sqlscan.Get(ctx, s.conn(ctx), &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales, err := s.attachItems(ctx, []saleRow{row})
	if err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) GetSale(ctx context.Context, merchantID string, saleID string) (*domain.Sale, error) {
	return s.getSale(ctx, squirrel.Eq{"id": saleID, "comercio_id": merchantID}, "")
}

func (s *Store) LockSale(ctx context.Context, merchantID string, saleID string) (*domain.Sale, error) {
	return s.getSale(ctx, squirrel.Eq{"id": saleID, "comercio_id": merchantID}, "FOR UPDATE")
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, merchantID string, key string) (*domain.Sale, error) {
	return s.getSale(ctx, squirrel.Eq{"comercio_id": merchantID, "chave_idempotencia": key}, "")
}

func (s *Store) MarkSaleCancelled(ctx context.Context, merchantID string, saleID string, userID string, reason string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE vendas
		SET status = 'cancelada', motivo_cancelamento = $3, cancelado_por = $4, cancelado_em = $5
		WHERE id = $1 AND comercio_id = $2 AND status = 'concluida'
	`, saleID, merchantID, nullIfEmpty(reason), userID, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM vendas WHERE id = $1 AND comercio_id = $2)
	`, saleID, merchantID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) ListSales(ctx context.Context, merchantID string, filter domain.SaleFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	builder := psql.Select(saleColumns...).
		From("vendas").
		Where(squirrel.Eq{"comercio_id": merchantID}).
		OrderBy("criado_em DESC", "id DESC").
		Limit(uint64(limit))
	if !filter.From.IsZero() {
		builder = builder.Where(squirrel.GtOrEq{"criado_em": filter.From})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(squirrel.Lt{"criado_em": filter.To})
	}
	switch filter.Status {
	case "":
	case domain.SaleContaFiada:
		builder = builder.Where(squirrel.Eq{"status": string(domain.SaleConcluida), "forma_pagamento": string(domain.PaymentStoreCredit)})
	case domain.SaleConcluida:
		builder = builder.Where(squirrel.Eq{"status": string(domain.SaleConcluida)}).
			Where(squirrel.NotEq{"forma_pagamento": string(domain.PaymentStoreCredit)})
	default:
		builder = builder.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.PaymentMethod != "" {
		builder = builder.Where(squirrel.Eq{"forma_pagamento": string(filter.PaymentMethod)})
	}
	if filter.CustomerID != "" {
		builder = builder.Where(squirrel.Eq{"cliente_id": filter.CustomerID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []saleRow
	if err := sqlscan.Select(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	return s.attachItems(ctx, rows)
}

type saleItemRow struct {
	ID          string          `db:"id"`
	SaleID      string          `db:"venda_id"`
	ProductID   string          `db:"produto_id"`
	ProductName string          `db:"nome_produto"`
	Quantity    int             `db:"quantidade"`
	UnitPrice   decimal.Decimal `db:"preco_unitario"`
	Subtotal    decimal.Decimal `db:"subtotal"`
}

// attachItems loads the lines of every sale in one query.
func (s *Store) attachItems(ctx context.Context, rows []saleRow) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, len(rows))
	if len(rows) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		sales = append(sales, row.toDomain())
		ids = append(ids, row.ID)
		index[row.ID] = i
	}

	var items []saleItemRow
	err := sqlscan.Select(ctx, s.conn(ctx), &items, `
		SELECT id, venda_id, produto_id, nome_produto, quantidade, preco_unitario, subtotal
		FROM itens_venda
		WHERE venda_id = ANY($1)
		ORDER BY venda_id, id
	`, ids)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, domain.SaleLineItem{
			ID:          item.ID,
			SaleID:      item.SaleID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}
	return sales, nil
}

// SaveDraft upserts the draft. A draft id owned by another merchant is not
// overwritten and reports ErrNotFound.
func (s *Store) SaveDraft(ctx context.Context, draft domain.SaleDraft) error {
	items, err := json.Marshal(draft.Items)
	if err != nil {
		return err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO vendas_rascunho (
			id, comercio_id, usuario_id, cliente_id, forma_pagamento, desconto,
			observacoes, itens, status, criado_em, atualizado_em
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			usuario_id = EXCLUDED.usuario_id,
			cliente_id = EXCLUDED.cliente_id,
			forma_pagamento = EXCLUDED.forma_pagamento,
			desconto = EXCLUDED.desconto,
			observacoes = EXCLUDED.observacoes,
			itens = EXCLUDED.itens,
			status = EXCLUDED.status,
			atualizado_em = EXCLUDED.atualizado_em
		WHERE vendas_rascunho.comercio_id = EXCLUDED.comercio_id
	`, draft.ID, draft.MerchantID, draft.UserID, nullIfEmpty(draft.CustomerID), nullIfEmpty(string(draft.PaymentMethod)),
		draft.Discount, nullIfEmpty(draft.Notes), string(items), string(draft.Status), draft.CreatedAt, draft.UpdatedAt)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type draftRow struct {
	ID            string          `db:"id"`
	MerchantID    string          `db:"comercio_id"`
	UserID        string          `db:"usuario_id"`
	CustomerID    string          `db:"cliente_id"`
	PaymentMethod string          `db:"forma_pagamento"`
	Discount      decimal.Decimal `db:"desconto"`
	Notes         string          `db:"observacoes"`
	Items         []byte          `db:"itens"`
	Status        string          `db:"status"`
	CreatedAt     time.Time       `db:"criado_em"`
	UpdatedAt     time.Time       `db:"atualizado_em"`
}

func (r draftRow) toDomain() (domain.SaleDraft, error) {
	draft := domain.SaleDraft{
		ID:            r.ID,
		MerchantID:    r.MerchantID,
		UserID:        r.UserID,
		CustomerID:    r.CustomerID,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		Discount:      r.Discount,
		Notes:         r.Notes,
		Items:         []domain.DraftItem{},
		Status:        domain.SaleStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &draft.Items); err != nil {
			return domain.SaleDraft{}, err
		}
	}
	return draft, nil
}

const draftColumns = `id, comercio_id, usuario_id, COALESCE(cliente_id, '') AS cliente_id,
	COALESCE(forma_pagamento, '') AS forma_pagamento, desconto, COALESCE(observacoes, '') AS observacoes,
	itens, status, criado_em, atualizado_em`

func (s *Store) GetDraft(ctx context.Context, merchantID string, draftID string) (*domain.SaleDraft, error) {
	var row draftRow
	err := sqlscan.Get(ctx, s.conn(ctx), &row,
		`SELECT `+draftColumns+` FROM vendas_rascunho WHERE id = $1 AND comercio_id = $2`,
		draftID, merchantID)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	draft, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *Store) ListDrafts(ctx context.Context, merchantID string, limit int) ([]domain.SaleDraft, error) {
	if limit < 1 {
		limit = 100
	}

	var rows []draftRow
	err := sqlscan.Select(ctx, s.conn(ctx), &rows,
		`SELECT `+draftColumns+` FROM vendas_rascunho WHERE comercio_id = $1 ORDER BY atualizado_em DESC, id DESC LIMIT $2`,
		merchantID, limit)
	if err != nil {
		return nil, err
	}
	drafts := make([]domain.SaleDraft, 0, len(rows))
	for _, row := range rows {
		draft, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

func (s *Store) DeleteDraft(ctx context.Context, merchantID string, draftID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM vendas_rascunho WHERE id = $1 AND comercio_id = $2
	`, draftID, merchantID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
