package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/shopspring/decimal"

	"caixa/backend/internal/apperror"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

// ApplyStockChange moves the quantity with a single guarded UPDATE. The row
// lock it takes serializes concurrent sales of the same product, and the
// guard is re-evaluated against the committed quantity after the wait.
func (s *Store) ApplyStockChange(ctx context.Context, merchantID string, userID string, change domain.StockChange, at time.Time) (*domain.StockMovement, error) {
	delta := change.SignedDelta()

	var movement *domain.StockMovement
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		conn := s.conn(ctx)

		var after int
		err := conn.QueryRowContext(ctx, `
			UPDATE estoques
			SET quantidade = quantidade + $3, atualizado_em = $4
			WHERE produto_id = $1 AND comercio_id = $2 AND quantidade + $3 >= 0
			RETURNING quantidade
		`, change.ProductID, merchantID, delta, at).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			var available int
			err := conn.QueryRowContext(ctx, `
				SELECT quantidade FROM estoques WHERE produto_id = $1 AND comercio_id = $2
			`, change.ProductID, merchantID).Scan(&available)
			if err != nil {
				return notFound(err)
			}
			return apperror.NewInsufficientStock(change.ProductID, -delta, available)
		}
		if err != nil {
			if isCheckViolation(err) {
				return apperror.NewInsufficientStock(change.ProductID, -delta, 0)
			}
			return err
		}

		m := domain.StockMovement{
			ID:             xid.New("mov"),
			ProductID:      change.ProductID,
			MerchantID:     merchantID,
			UserID:         userID,
			SaleID:         change.SaleID,
			Kind:           change.Kind,
			QuantityBefore: after - delta,
			QuantityDelta:  delta,
			QuantityAfter:  after,
			Reason:         change.Reason,
			Notes:          change.Notes,
			CreatedAt:      at,
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO movimentacoes_estoque (
				id, produto_id, comercio_id, usuario_id, venda_id, tipo,
				quantidade_anterior, quantidade_movimentada, quantidade_atual,
				motivo, observacoes, criado_em
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, m.ID, m.ProductID, m.MerchantID, m.UserID, nullIfEmpty(m.SaleID), string(m.Kind),
			m.QuantityBefore, m.QuantityDelta, m.QuantityAfter, m.Reason, nullIfEmpty(m.Notes), m.CreatedAt)
		if err != nil {
			return err
		}
		movement = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *Store) GetStockQuantity(ctx context.Context, merchantID string, productID string) (int, error) {
	var qty int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT quantidade FROM estoques WHERE produto_id = $1 AND comercio_id = $2
	`, productID, merchantID).Scan(&qty)
	if err != nil {
		return 0, notFound(err)
	}
	return qty, nil
}

type movementRow struct {
	ID             string    `db:"id"`
	ProductID      string    `db:"produto_id"`
	MerchantID     string    `db:"comercio_id"`
	UserID         string    `db:"usuario_id"`
	SaleID         string    `db:"venda_id"`
	Kind           string    `db:"tipo"`
	QuantityBefore int       `db:"quantidade_anterior"`
	QuantityDelta  int       `db:"quantidade_movimentada"`
	QuantityAfter  int       `db:"quantidade_atual"`
	Reason         string    `db:"motivo"`
	Notes          string    `db:"observacoes"`
	CreatedAt      time.Time `db:"criado_em"`
}

func (s *Store) ListStockMovements(ctx context.Context, merchantID string, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}

	builder := psql.Select(
		"id", "produto_id", "comercio_id", "usuario_id", "COALESCE(venda_id, '') AS venda_id", "tipo",
		"quantidade_anterior", "quantidade_movimentada", "quantidade_atual",
		"motivo", "COALESCE(observacoes, '') AS observacoes", "criado_em",
	).
		From("movimentacoes_estoque").
		Where(squirrel.Eq{"comercio_id": merchantID}).
		OrderBy("criado_em DESC", "id DESC").
		Limit(uint64(limit))
	if filter.ProductID != "" {
		builder = builder.Where(squirrel.Eq{"produto_id": filter.ProductID})
	}
	if filter.SaleID != "" {
		builder = builder.Where(squirrel.Eq{"venda_id": filter.SaleID})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(squirrel.GtOrEq{"criado_em": filter.From})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(squirrel.Lt{"criado_em": filter.To})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []movementRow
	if err := sqlscan.Select(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	movements := make([]domain.StockMovement, 0, len(rows))
	for _, row := range rows {
		movements = append(movements, domain.StockMovement{
			ID:             row.ID,
			ProductID:      row.ProductID,
			MerchantID:     row.MerchantID,
			UserID:         row.UserID,
			SaleID:         row.SaleID,
			Kind:           domain.MovementKind(row.Kind),
			QuantityBefore: row.QuantityBefore,
			QuantityDelta:  row.QuantityDelta,
			QuantityAfter:  row.QuantityAfter,
			Reason:         row.Reason,
			Notes:          row.Notes,
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return movements, nil
}

func (s *Store) SumStockMovements(ctx context.Context, merchantID string, productID string) (int, int, error) {
	var sum, count int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantidade_movimentada), 0), COUNT(*)
		FROM movimentacoes_estoque
		WHERE comercio_id = $1 AND produto_id = $2
	`, merchantID, productID).Scan(&sum, &count)
	return sum, count, err
}

type ledgerRow struct {
	ID          string          `db:"id"`
	CustomerID  string          `db:"cliente_id"`
	MerchantID  string          `db:"comercio_id"`
	Balance     decimal.Decimal `db:"saldo"`
	Description string          `db:"descricao"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"criado_em"`
	UpdatedAt   time.Time       `db:"atualizado_em"`
}

func (r ledgerRow) toDomain() *domain.AccountLedger {
	return &domain.AccountLedger{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		MerchantID:  r.MerchantID,
		Balance:     r.Balance,
		Description: r.Description,
		Status:      domain.AccountStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const ledgerColumns = `id, cliente_id, comercio_id, saldo, COALESCE(descricao, '') AS descricao,
	status, criado_em, atualizado_em`

// PostAccountEntry creates the ledger on first use and moves the balance
// with one UPDATE, so concurrent postings to the same customer queue on the
// row lock instead of overwriting each other.
func (s *Store) PostAccountEntry(ctx context.Context, merchantID string, userID string, entry domain.AccountEntry, at time.Time) (*domain.AccountLedger, *domain.AccountPosting, error) {
	amount := domain.Money(entry.Amount)

	var ledger *domain.AccountLedger
	var posting *domain.AccountPosting
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		conn := s.conn(ctx)

		var exists bool
		err := conn.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM clientes WHERE id = $1 AND comercio_id = $2)
		`, entry.CustomerID, merchantID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO contas_fiado (id, cliente_id, comercio_id, saldo, status, criado_em, atualizado_em)
			VALUES ($1,$2,$3,0,$4,$5,$5)
			ON CONFLICT (cliente_id, comercio_id) DO NOTHING
		`, xid.New("cta"), entry.CustomerID, merchantID, string(domain.AccountQuitada), at)
		if err != nil {
			return err
		}

		var row ledgerRow
		err = sqlscan.Get(ctx, conn, &row, `
			UPDATE contas_fiado
			SET saldo = saldo + $3,
			    status = CASE WHEN saldo + $3 > 0 THEN 'ativa' ELSE 'quitada' END,
			    atualizado_em = $4
			WHERE cliente_id = $1 AND comercio_id = $2
			RETURNING `+ledgerColumns, entry.CustomerID, merchantID, amount, at)
		if err != nil {
			return err
		}
		ledger = row.toDomain()

		p := domain.AccountPosting{
			ID:            xid.New("lan"),
			LedgerID:      ledger.ID,
			CustomerID:    entry.CustomerID,
			MerchantID:    merchantID,
			UserID:        userID,
			SaleID:        entry.SaleID,
			Amount:        amount,
			BalanceBefore: ledger.Balance.Sub(amount),
			BalanceAfter:  ledger.Balance,
			Memo:          entry.Memo,
			ReversesID:    entry.ReversesID,
			CreatedAt:     at,
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO lancamentos_conta (
				id, conta_id, cliente_id, comercio_id, usuario_id, venda_id,
				valor, saldo_anterior, saldo_atual, memo, estorna_id, criado_em
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, p.ID, p.LedgerID, p.CustomerID, p.MerchantID, p.UserID, nullIfEmpty(p.SaleID),
			p.Amount, p.BalanceBefore, p.BalanceAfter, nullIfEmpty(p.Memo), nullIfEmpty(p.ReversesID), p.CreatedAt)
		if err != nil {
			return err
		}
		posting = &p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ledger, posting, nil
}

func (s *Store) GetAccount(ctx context.Context, merchantID string, customerID string) (*domain.AccountLedger, error) {
	var row ledgerRow
	err := sqlscan.Get(ctx, s.conn(ctx), &row,
		`SELECT `+ledgerColumns+` FROM contas_fiado WHERE cliente_id = $1 AND comercio_id = $2`,
		customerID, merchantID)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

type postingRow struct {
	ID            string          `db:"id"`
	LedgerID      string          `db:"conta_id"`
	CustomerID    string          `db:"cliente_id"`
	MerchantID    string          `db:"comercio_id"`
	UserID        string          `db:"usuario_id"`
	SaleID        string          `db:"venda_id"`
	Amount        decimal.Decimal `db:"valor"`
	BalanceBefore decimal.Decimal `db:"saldo_anterior"`
	BalanceAfter  decimal.Decimal `db:"saldo_atual"`
	Memo          string          `db:"memo"`
	ReversesID    string          `db:"estorna_id"`
	ReversedByID  string          `db:"estornado_por"`
	CreatedAt     time.Time       `db:"criado_em"`
}

func (r postingRow) toDomain() domain.AccountPosting {
	return domain.AccountPosting{
		ID:            r.ID,
		LedgerID:      r.LedgerID,
		CustomerID:    r.CustomerID,
		MerchantID:    r.MerchantID,
		UserID:        r.UserID,
		SaleID:        r.SaleID,
		Amount:        r.Amount,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Memo:          r.Memo,
		ReversesID:    r.ReversesID,
		ReversedByID:  r.ReversedByID,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

var postingColumns = []string{
	"id", "conta_id", "cliente_id", "comercio_id", "usuario_id", "COALESCE(venda_id, '') AS venda_id",
	"valor", "saldo_anterior", "saldo_atual", "COALESCE(memo, '') AS memo",
	"COALESCE(estorna_id, '') AS estorna_id", "COALESCE(estornado_por, '') AS estornado_por", "criado_em",
}

func (s *Store) getPosting(ctx context.Context, where squirrel.Sqlizer) (*domain.AccountPosting, error) {
	query, args, err := psql.Select(postingColumns...).
		From("lancamentos_conta").
		Where(where).
		OrderBy("criado_em", "id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row postingRow
	if err := sqlscan.Get(ctx, s.conn(ctx), &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	posting := row.toDomain()
	return &posting, nil
}

func (s *Store) GetAccountPosting(ctx context.Context, merchantID string, postingID string) (*domain.AccountPosting, error) {
	return s.getPosting(ctx, squirrel.Eq{"id": postingID, "comercio_id": merchantID})
}

func (s *Store) FindSalePosting(ctx context.Context, merchantID string, saleID string) (*domain.AccountPosting, error) {
	return s.getPosting(ctx, squirrel.Eq{"venda_id": saleID, "comercio_id": merchantID, "estorna_id": nil})
}

func (s *Store) MarkPostingReversed(ctx context.Context, merchantID string, postingID string, reversalID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE lancamentos_conta
		SET estornado_por = $3
		WHERE id = $1 AND comercio_id = $2 AND estornado_por IS NULL
	`, postingID, merchantID, reversalID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err == nil || !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if _, err := s.GetAccountPosting(ctx, merchantID, postingID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) ListAccountPostings(ctx context.Context, merchantID string, customerID string, limit int) ([]domain.AccountPosting, error) {
	if limit < 1 {
		limit = 100
	}

	query, args, err := psql.Select(postingColumns...).
		From("lancamentos_conta").
		Where(squirrel.Eq{"comercio_id": merchantID, "cliente_id": customerID}).
		OrderBy("criado_em DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []postingRow
	if err := sqlscan.Select(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	postings := make([]domain.AccountPosting, 0, len(rows))
	for _, row := range rows {
		postings = append(postings, row.toDomain())
	}
	return postings, nil
}

type openAccountRow struct {
	CustomerID   string          `db:"cliente_id"`
	CustomerName string          `db:"nome"`
	Balance      decimal.Decimal `db:"saldo"`
	UpdatedAt    time.Time       `db:"atualizado_em"`
}

func (s *Store) ListOpenAccounts(ctx context.Context, merchantID string) ([]domain.OpenAccount, error) {
	var rows []openAccountRow
	err := sqlscan.Select(ctx, s.conn(ctx), &rows, `
		SELECT c.cliente_id, cl.nome, c.saldo, c.atualizado_em
		FROM contas_fiado c
		JOIN clientes cl ON cl.id = c.cliente_id
		WHERE c.comercio_id = $1 AND c.saldo > 0
		ORDER BY c.saldo DESC, c.cliente_id
	`, merchantID)
	if err != nil {
		return nil, err
	}
	accounts := make([]domain.OpenAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, domain.OpenAccount{
			CustomerID:   row.CustomerID,
			CustomerName: row.CustomerName,
			Balance:      row.Balance,
			UpdatedAt:    row.UpdatedAt.UTC(),
		})
	}
	return accounts, nil
}
