package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ventaspos/backend/internal/domain"
	"ventaspos/backend/internal/store"
	"ventaspos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they do not exist yet. Single-store
// deployments run this at startup instead of a separate migration step.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'counter',
			document TEXT,
			phone TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT,
			code TEXT UNIQUE,
			unit_price_cents BIGINT NOT NULL,
			wholesale_price_cents BIGINT NOT NULL DEFAULT 0,
			unit_cost_cents BIGINT NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			customer_id TEXT REFERENCES customers(id) ON DELETE SET NULL,
			total_cents BIGINT NOT NULL,
			payment_type TEXT NOT NULL DEFAULT 'cash',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_lines (
			id BIGSERIAL PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty > 0),
			unit_price_cents BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS installments (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			number INTEGER NOT NULL,
			amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
			original_cents BIGINT NOT NULL,
			due_date DATE NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT false,
			paid_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('income','expense')),
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'cashier',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapUnavailable(err)
		}
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.Category == "" {
		customer.Category = domain.CustomerCategoryCounter
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, category, document, phone, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Category, nullIfEmpty(customer.Document), nullIfEmpty(customer.Phone), customer.CreatedAt)
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, COALESCE(document,''), COALESCE(phone,''), created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Category, &c.Document, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, COALESCE(document,''), COALESCE(phone,''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Category, &c.Document, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapUnavailable(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	// Sales keep a nullable reference; ON DELETE SET NULL handles them.
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertProductByCode(ctx context.Context, product domain.Product, stockDelta int) (*domain.Product, error) {
	if product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.WholesalePriceCents < 0 || product.UnitCostCents < 0 {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()

	// Products without a code never merge; each submission inserts a new row.
	if product.Code == "" {
		if stockDelta < 0 {
			return nil, store.ErrInvalidInput
		}
		if product.ID == "" {
			product.ID = xid.New("prd")
		}
		product.Stock = stockDelta
		product.CreatedAt = now
		product.UpdatedAt = now
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO products (id, name, category, code, unit_price_cents, wholesale_price_cents, unit_cost_cents, stock, created_at, updated_at)
			VALUES ($1,$2,$3,NULL,$4,$5,$6,$7,$8,$8)
		`, product.ID, product.Name, product.Category, product.UnitPriceCents, product.WholesalePriceCents, product.UnitCostCents, product.Stock, now)
		if err != nil {
			return nil, wrapUnavailable(err)
		}
		created := product
		return &created, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE code = $1
		FOR UPDATE
	`, product.Code).Scan(&existing.ID, &existing.Stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if stockDelta < 0 {
			return nil, store.ErrInvalidInput
		}
		if product.ID == "" {
			product.ID = xid.New("prd")
		}
		product.Stock = stockDelta
		product.CreatedAt = now
		product.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO products (id, name, category, code, unit_price_cents, wholesale_price_cents, unit_cost_cents, stock, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		`, product.ID, product.Name, product.Category, product.Code, product.UnitPriceCents, product.WholesalePriceCents, product.UnitCostCents, product.Stock, now)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrConflict
			}
			return nil, err
		}
	case err != nil:
		return nil, wrapUnavailable(err)
	default:
		// Merge: stock adds, descriptive and price fields overwrite.
		product.ID = existing.ID
		product.Stock = existing.Stock + stockDelta
		if product.Stock < 0 {
			return nil, store.ErrInvalidInput
		}
		product.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET name = $2, category = $3, unit_price_cents = $4, wholesale_price_cents = $5,
				unit_cost_cents = $6, stock = $7, updated_at = $8
			WHERE id = $1
		`, product.ID, product.Name, product.Category, product.UnitPriceCents, product.WholesalePriceCents, product.UnitCostCents, product.Stock, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapUnavailable(err)
	}

	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT id, name, COALESCE(category,''), COALESCE(code,''), unit_price_cents,
			wholesale_price_cents, unit_cost_cents, stock, created_at, updated_at
		FROM products
		ORDER BY category, name
	`)
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	return s.queryProducts(ctx, `
		SELECT id, name, COALESCE(category,''), COALESCE(code,''), unit_price_cents,
			wholesale_price_cents, unit_cost_cents, stock, created_at, updated_at
		FROM products
		WHERE stock <= $1
		ORDER BY stock, name
	`, threshold)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Code, &p.UnitPriceCents, &p.WholesalePriceCents, &p.UnitCostCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, "id", id)
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	return s.getProduct(ctx, "code", code)
}

func (s *Store) getProduct(ctx context.Context, column string, value string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, COALESCE(category,''), COALESCE(code,''), unit_price_cents,
			wholesale_price_cents, unit_cost_cents, stock, created_at, updated_at
		FROM products
		WHERE %s = $1
	`, column), value).Scan(&p.ID, &p.Name, &p.Category, &p.Code, &p.UnitPriceCents, &p.WholesalePriceCents, &p.UnitCostCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapUnavailable(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateSale runs the whole sale registration as one serializable transaction:
// product rows are locked, stock is checked against the locked value and
// decremented, line snapshots and installments are inserted, and cash sales
// post their ledger entry. Any failure rolls the whole thing back.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	productIDs := uniqueProductIDs(sale.Lines)
	if len(productIDs) == 0 {
		return nil, store.ErrInvalidInput
	}

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, unit_price_cents, wholesale_price_cents, stock
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	productMap := make(map[string]domain.Product, len(productIDs))
	for productRows.Next() {
		var p domain.Product
		if err := productRows.Scan(&p.ID, &p.Name, &p.UnitPriceCents, &p.WholesalePriceCents, &p.Stock); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		productMap[p.ID] = p
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	totalCents := int64(0)
	snapshots := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}

		product, exists := productMap[line.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if line.UnitPriceCents != product.UnitPriceCents &&
			(product.WholesalePriceCents < 1 || line.UnitPriceCents != product.WholesalePriceCents) {
			return nil, fmt.Errorf("%w: price %d not a list price of product %s", store.ErrInvalidInput, line.UnitPriceCents, line.ProductID)
		}
		if product.Stock < line.Qty {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, line.ProductID)
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, line.Qty, line.ProductID)
		if err != nil {
			return nil, err
		}
		product.Stock -= line.Qty
		productMap[line.ProductID] = product

		snapshots = append(snapshots, domain.SaleLine{
			ProductID:      line.ProductID,
			ProductName:    product.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
		totalCents += int64(line.Qty) * line.UnitPriceCents
	}

	if sale.TotalCents != 0 && sale.TotalCents != totalCents {
		return nil, store.ErrInvalidInput
	}
	sale.TotalCents = totalCents
	sale.Lines = snapshots
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.PaymentType == "" {
		sale.PaymentType = domain.PaymentTypeCash
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, total_cents, payment_type, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, nullIfEmpty(sale.CustomerID), sale.TotalCents, sale.PaymentType, sale.CreatedAt)
	if err != nil {
		// The customer can vanish between the caller's check and this insert.
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, product_name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, line.ProductID, line.ProductName, line.Qty, line.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	switch sale.PaymentType {
	case domain.PaymentTypeCash:
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, kind, amount_cents, description, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("led"), domain.LedgerKindIncome, sale.TotalCents, "sale "+sale.ID, sale.CreatedAt)
		if err != nil {
			return nil, err
		}
	case domain.PaymentTypeCredit:
		if len(sale.Installments) == 0 {
			return nil, store.ErrInvalidInput
		}
		sumCents := int64(0)
		for i := range sale.Installments {
			inst := &sale.Installments[i]
			if inst.ID == "" {
				inst.ID = xid.New("inst")
			}
			inst.SaleID = sale.ID
			sumCents += inst.AmountCents
			_, err = pgTx.ExecContext(ctx, `
				INSERT INTO installments (id, sale_id, number, amount_cents, original_cents, due_date, paid, paid_at)
				VALUES ($1,$2,$3,$4,$5,$6,false,NULL)
			`, inst.ID, inst.SaleID, inst.Number, inst.AmountCents, inst.OriginalCents, inst.DueDate)
			if err != nil {
				return nil, err
			}
		}
		if sumCents != sale.TotalCents {
			return nil, store.ErrInvalidInput
		}
	default:
		return nil, store.ErrInvalidInput
	}

	if err := pgTx.Commit(); err != nil {
		return nil, wrapUnavailable(err)
	}

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(customer_id,''), total_cents, payment_type, created_at
		FROM sales
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &sale.TotalCents, &sale.PaymentType, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(customer_id,''), total_cents, payment_type, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CustomerID, &sale.TotalCents, &sale.PaymentType, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapUnavailable(err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, qty, unit_price_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.ProductID, &line.ProductName, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	if sale.PaymentType == domain.PaymentTypeCredit {
		instRows, err := s.db.QueryContext(ctx, `
			SELECT id, sale_id, number, amount_cents, original_cents, due_date, paid, paid_at
			FROM installments
			WHERE sale_id = $1
			ORDER BY number
		`, id)
		if err != nil {
			return nil, err
		}
		defer instRows.Close()
		for instRows.Next() {
			var inst domain.Installment
			var paidAt sql.NullTime
			if err := instRows.Scan(&inst.ID, &inst.SaleID, &inst.Number, &inst.AmountCents, &inst.OriginalCents, &inst.DueDate, &inst.Paid, &paidAt); err != nil {
				return nil, err
			}
			if paidAt.Valid {
				at := paidAt.Time.UTC()
				inst.PaidAt = &at
			}
			inst.DueDate = inst.DueDate.UTC()
			sale.Installments = append(sale.Installments, inst)
		}
		if err := instRows.Err(); err != nil {
			return nil, err
		}
	}

	return &sale, nil
}

func (s *Store) GetSalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{
		From: from.UTC().Format("2006-01-02"),
		To:   to.UTC().Format("2006-01-02"),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_cents) FILTER (WHERE payment_type = 'cash'), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE payment_type = 'credit'), 0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&summary.Sales, &summary.CashTotalCents, &summary.CreditTotalCents)
	if err != nil {
		return domain.SalesSummary{}, wrapUnavailable(err)
	}

	// Margin is only estimable for lines whose product still exists and has a
	// recorded unit cost.
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((l.unit_price_cents - p.unit_cost_cents) * l.qty), 0)
		FROM sale_lines l
		JOIN sales v ON v.id = l.sale_id
		JOIN products p ON p.id = l.product_id
		WHERE v.created_at >= $1 AND v.created_at < $2 AND p.unit_cost_cents > 0
	`, from, to).Scan(&summary.EstimatedMarginCents)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	return summary, nil
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if entry.Kind != domain.LedgerKindIncome && entry.Kind != domain.LedgerKindExpense {
		return nil, store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, kind, amount_cents, description, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.Kind, entry.AmountCents, entry.Description, entry.CreatedAt)
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	created := entry
	return &created, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount_cents, description, created_at
		FROM ledger_entries
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.AmountCents, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// CashBalance recomputes the drawer balance from the full ledger on every call.
// The dataset is small and a cash register must never serve a stale balance.
func (s *Store) CashBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_entries
	`).Scan(&balance)
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return balance, nil
}

// ApplyInstallmentPayment reduces the installment balance and posts the
// matching income entry in one serializable transaction. Overpayments clamp
// the balance to zero.
func (s *Store) ApplyInstallmentPayment(ctx context.Context, installmentID string, amountCents int64, at time.Time) (*domain.Installment, error) {
	if amountCents < 1 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var inst domain.Installment
	var paidAt sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, sale_id, number, amount_cents, original_cents, due_date, paid, paid_at
		FROM installments
		WHERE id = $1
		FOR UPDATE
	`, installmentID).Scan(&inst.ID, &inst.SaleID, &inst.Number, &inst.AmountCents, &inst.OriginalCents, &inst.DueDate, &inst.Paid, &paidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		inst.PaidAt = &t
	}
	if inst.Paid {
		return nil, fmt.Errorf("%w: installment already paid", store.ErrConflict)
	}

	newBalance := inst.AmountCents - amountCents
	if newBalance <= 0 {
		newBalance = 0
		inst.Paid = true
		at := at.UTC()
		inst.PaidAt = &at
	}
	inst.AmountCents = newBalance

	_, err = pgTx.ExecContext(ctx, `
		UPDATE installments
		SET amount_cents = $2, paid = $3, paid_at = $4
		WHERE id = $1
	`, inst.ID, inst.AmountCents, inst.Paid, nullTime(inst.PaidAt))
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, kind, amount_cents, description, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, xid.New("led"), domain.LedgerKindIncome, amountCents, fmt.Sprintf("installment %s payment", inst.ID), at.UTC())
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, wrapUnavailable(err)
	}

	inst.DueDate = inst.DueDate.UTC()
	return &inst, nil
}

func (s *Store) ListOutstandingInstallments(ctx context.Context) ([]domain.OutstandingInstallment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.sale_id, i.number, i.amount_cents, i.original_cents, i.due_date,
			v.total_cents, COALESCE(v.customer_id,''), COALESCE(c.name,'')
		FROM installments i
		JOIN sales v ON v.id = i.sale_id
		LEFT JOIN customers c ON c.id = v.customer_id
		WHERE i.paid = false
		ORDER BY i.due_date, i.sale_id, i.number
	`)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	outstanding := make([]domain.OutstandingInstallment, 0, 64)
	for rows.Next() {
		var o domain.OutstandingInstallment
		if err := rows.Scan(&o.ID, &o.SaleID, &o.Number, &o.AmountCents, &o.OriginalCents, &o.DueDate, &o.SaleTotalCents, &o.CustomerID, &o.CustomerName); err != nil {
			return nil, err
		}
		o.DueDate = o.DueDate.UTC()
		outstanding = append(outstanding, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return outstanding, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return wrapUnavailable(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return wrapUnavailable(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return wrapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(lines []domain.SaleLine) []string {
	if len(lines) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		set[line.ProductID] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}
	return err
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
