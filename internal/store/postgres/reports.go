package postgres

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
)

const reportStatusExpr = `CASE WHEN status = 'concluida' AND forma_pagamento = 'conta_fiada'
	THEN 'conta_fiada' ELSE status END`

func (s *Store) GetDailyReport(ctx context.Context, merchantID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		MerchantID: merchantID,
		Date:       from.Format("2006-01-02"),
		ByPayment:  []domain.ReportPaymentLine{},
		ByStatus:   []domain.ReportStatusLine{},
	}
	conn := s.conn(ctx)

	err := conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'cancelada'),
			COUNT(*) FILTER (WHERE status = 'cancelada'),
			COALESCE(SUM(subtotal) FILTER (WHERE status <> 'cancelada'), 0),
			COALESCE(SUM(desconto) FILTER (WHERE status <> 'cancelada'), 0),
			COALESCE(SUM(total) FILTER (WHERE status <> 'cancelada'), 0)
		FROM vendas
		WHERE comercio_id = $1 AND criado_em >= $2 AND criado_em < $3
	`, merchantID, from, to).Scan(&report.Sales, &report.Cancelled, &report.Gross, &report.Discount, &report.Net)
	if err != nil {
		return domain.DailyReport{}, err
	}

	err = conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(i.quantidade), 0)
		FROM itens_venda i
		JOIN vendas v ON v.id = i.venda_id
		WHERE v.comercio_id = $1 AND v.criado_em >= $2 AND v.criado_em < $3 AND v.status <> 'cancelada'
	`, merchantID, from, to).Scan(&report.ItemsSold)
	if err != nil {
		return domain.DailyReport{}, err
	}

	var payments []struct {
		Method string          `db:"forma_pagamento"`
		Sales  int             `db:"vendas"`
		Total  decimal.Decimal `db:"total"`
	}
	err = sqlscan.Select(ctx, conn, &payments, `
		SELECT forma_pagamento, COUNT(*) AS vendas, COALESCE(SUM(total), 0) AS total
		FROM vendas
		WHERE comercio_id = $1 AND criado_em >= $2 AND criado_em < $3 AND status <> 'cancelada'
		GROUP BY forma_pagamento
		ORDER BY forma_pagamento
	`, merchantID, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	for _, line := range payments {
		report.ByPayment = append(report.ByPayment, domain.ReportPaymentLine{
			Method: domain.PaymentMethod(line.Method),
			Sales:  line.Sales,
			Total:  line.Total,
		})
	}

	var statuses []struct {
		Status string          `db:"status"`
		Sales  int             `db:"vendas"`
		Total  decimal.Decimal `db:"total"`
	}
	err = sqlscan.Select(ctx, conn, &statuses, `
		SELECT `+reportStatusExpr+` AS status, COUNT(*) AS vendas, COALESCE(SUM(total), 0) AS total
		FROM vendas
		WHERE comercio_id = $1 AND criado_em >= $2 AND criado_em < $3
		GROUP BY 1
		ORDER BY 1
	`, merchantID, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	for _, line := range statuses {
		report.ByStatus = append(report.ByStatus, domain.ReportStatusLine{
			Status: domain.SaleStatus(line.Status),
			Sales:  line.Sales,
			Total:  line.Total,
		})
	}

	return report, nil
}

func (s *Store) TopProducts(ctx context.Context, merchantID string, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	if limit < 1 {
		limit = 10
	}

	var rows []struct {
		ProductID string          `db:"produto_id"`
		Name      string          `db:"nome"`
		Quantity  int             `db:"quantidade"`
		Revenue   decimal.Decimal `db:"receita"`
	}
	err := sqlscan.Select(ctx, s.conn(ctx), &rows, `
		SELECT i.produto_id, MAX(i.nome_produto) AS nome,
		       SUM(i.quantidade) AS quantidade, SUM(i.subtotal) AS receita
		FROM itens_venda i
		JOIN vendas v ON v.id = i.venda_id
		WHERE v.comercio_id = $1 AND v.criado_em >= $2 AND v.criado_em < $3 AND v.status = 'concluida'
		GROUP BY i.produto_id
		ORDER BY quantidade DESC, i.produto_id
		LIMIT $4
	`, merchantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	top := make([]domain.TopProduct, 0, len(rows))
	for _, row := range rows {
		top = append(top, domain.TopProduct{
			ProductID: row.ProductID,
			Name:      row.Name,
			Quantity:  row.Quantity,
			Revenue:   row.Revenue,
		})
	}
	return top, nil
}

func (s *Store) LowStock(ctx context.Context, merchantID string) ([]domain.LowStockItem, error) {
	var rows []struct {
		ProductID string `db:"id"`
		Name      string `db:"nome"`
		Quantity  int    `db:"quantidade"`
		MinStock  int    `db:"estoque_minimo"`
	}
	err := sqlscan.Select(ctx, s.conn(ctx), &rows, `
		SELECT p.id, p.nome, COALESCE(e.quantidade, 0) AS quantidade, p.estoque_minimo
		FROM produtos p
		LEFT JOIN estoques e ON e.produto_id = p.id
		WHERE p.comercio_id = $1 AND NOT p.excluido AND COALESCE(e.quantidade, 0) <= p.estoque_minimo
		ORDER BY quantidade, p.id
	`, merchantID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.LowStockItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.LowStockItem{
			ProductID: row.ProductID,
			Name:      row.Name,
			Quantity:  row.Quantity,
			MinStock:  row.MinStock,
		})
	}
	return items, nil
}
