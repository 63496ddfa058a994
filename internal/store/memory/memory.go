package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"ventaspos/backend/internal/domain"
	"ventaspos/backend/internal/store"
	"ventaspos/backend/internal/xid"
)

// Store is a mutex-guarded in-memory Repository. It backs dev mode when no
// DATABASE_URL is configured and doubles as the fixture for service tests.
type Store struct {
	mu               sync.RWMutex
	customersByID    map[string]domain.Customer
	productsByID     map[string]domain.Product
	salesByID        map[string]*domain.Sale
	saleOrder        []string
	installmentsByID map[string]*domain.Installment
	ledger           []domain.LedgerEntry
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		customersByID:    make(map[string]domain.Customer),
		productsByID:     make(map[string]domain.Product),
		salesByID:        make(map[string]*domain.Sale),
		saleOrder:        make([]string, 0, 128),
		installmentsByID: make(map[string]*domain.Installment),
		ledger:           make([]domain.LedgerEntry, 0, 128),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-loaded with a small catalog and dev users for
// demo mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{ID: "prd-seed-01", Name: "Azucar 1kg", Category: "grocery", Code: "AZ-1", UnitPriceCents: 8500, WholesalePriceCents: 7800, UnitCostCents: 6200, Stock: 40},
		{ID: "prd-seed-02", Name: "Harina 1kg", Category: "grocery", Code: "HA-1", UnitPriceCents: 6900, WholesalePriceCents: 6200, UnitCostCents: 4800, Stock: 55},
		{ID: "prd-seed-03", Name: "Aceite 900ml", Category: "grocery", Code: "AC-9", UnitPriceCents: 14500, WholesalePriceCents: 13200, UnitCostCents: 10900, Stock: 24},
		{ID: "prd-seed-04", Name: "Yerba 500g", Category: "beverage", Code: "YE-5", UnitPriceCents: 12800, WholesalePriceCents: 11500, UnitCostCents: 9400, Stock: 60},
		{ID: "prd-seed-05", Name: "Gaseosa 2L", Category: "beverage", Code: "GA-2", UnitPriceCents: 11000, WholesalePriceCents: 0, UnitCostCents: 8300, Stock: 36},
		{ID: "prd-seed-06", Name: "Jabon en polvo 800g", Category: "household", Code: "JP-8", UnitPriceCents: 16900, WholesalePriceCents: 15400, UnitCostCents: 12700, Stock: 18},
	} {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.productsByID[p.ID] = p
	}

	for _, c := range []domain.Customer{
		{ID: "cus-seed-01", Name: "Despensa San Miguel", Category: domain.CustomerCategoryWholesale, Document: "80012345-6", Phone: "+595-981-111222"},
		{ID: "cus-seed-02", Name: "Maria Gonzalez", Category: domain.CustomerCategoryCounter, Phone: "+595-981-333444"},
	} {
		c.CreatedAt = now
		s.customersByID[c.ID] = c
	}

	s.usersByUsername = seedUsers()
	return s
}

// seedUsers builds the dev/demo credentials. They are read from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded defaults only apply
// when those are unset, with a warning. Production deployments use PostgreSQL
// and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Msg("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("memory store: failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.customersByID, id)

	// Sales referencing the customer keep a dangling reference cleared to "".
	for _, sale := range s.salesByID {
		if sale.CustomerID == id {
			sale.CustomerID = ""
		}
	}
	return nil
}

func (s *Store) UpsertProductByCode(_ context.Context, product domain.Product, stockDelta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.UnitPriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.WholesalePriceCents < 0 || product.UnitCostCents < 0 {
		return nil, store.ErrInvalidInput
	}

	now := time.Now().UTC()

	if product.Code != "" {
		for _, existing := range s.productsByID {
			if existing.Code != product.Code {
				continue
			}
			merged := existing
			merged.Name = product.Name
			merged.Category = product.Category
			merged.UnitPriceCents = product.UnitPriceCents
			merged.WholesalePriceCents = product.WholesalePriceCents
			merged.UnitCostCents = product.UnitCostCents
			merged.Stock += stockDelta
			if merged.Stock < 0 {
				return nil, store.ErrInvalidInput
			}
			merged.UpdatedAt = now
			s.productsByID[merged.ID] = merged
			copied := merged
			return &copied, nil
		}
	}

	if stockDelta < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.Stock = stockDelta
	product.CreatedAt = now
	product.UpdatedAt = now
	s.productsByID[product.ID] = product
	copied := product
	return &copied, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if code == "" {
		return nil, store.ErrNotFound
	}
	for _, product := range s.productsByID {
		if product.Code == code {
			copied := product
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListLowStock(_ context.Context, threshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.Product, 0, 16)
	for _, p := range s.productsByID {
		if p.Stock <= threshold {
			low = append(low, p)
		}
	}
	slices.SortFunc(low, func(a, b domain.Product) int {
		if a.Stock == b.Stock {
			return strings.Compare(a.Name, b.Name)
		}
		return a.Stock - b.Stock
	})
	return low, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.productsByID, id)
	return nil
}

// CreateSale applies the same all-or-nothing semantics as the postgres store:
// stock is validated against current values under the lock, and no state is
// touched until every line has passed.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.CustomerID != "" {
		if _, exists := s.customersByID[sale.CustomerID]; !exists {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
		}
	}

	// Validation pass over a scratch copy of affected stock.
	remaining := make(map[string]int, len(sale.Lines))
	totalCents := int64(0)
	snapshots := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		product, exists := s.productsByID[line.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if line.UnitPriceCents != product.UnitPriceCents &&
			(product.WholesalePriceCents < 1 || line.UnitPriceCents != product.WholesalePriceCents) {
			return nil, fmt.Errorf("%w: price %d not a list price of product %s", store.ErrInvalidInput, line.UnitPriceCents, line.ProductID)
		}
		if _, seen := remaining[line.ProductID]; !seen {
			remaining[line.ProductID] = product.Stock
		}
		if remaining[line.ProductID] < line.Qty {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, line.ProductID)
		}
		remaining[line.ProductID] -= line.Qty

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

	switch sale.PaymentType {
	case domain.PaymentTypeCash:
	case domain.PaymentTypeCredit:
		if len(sale.Installments) == 0 {
			return nil, store.ErrInvalidInput
		}
		sumCents := int64(0)
		for _, inst := range sale.Installments {
			sumCents += inst.AmountCents
		}
		if sumCents != sale.TotalCents {
			return nil, store.ErrInvalidInput
		}
	default:
		return nil, store.ErrInvalidInput
	}

	// Commit pass.
	for productID, qty := range remaining {
		product := s.productsByID[productID]
		product.Stock = qty
		product.UpdatedAt = sale.CreatedAt
		s.productsByID[productID] = product
	}

	if sale.PaymentType == domain.PaymentTypeCash {
		s.ledger = append(s.ledger, domain.LedgerEntry{
			ID:          xid.New("led"),
			Kind:        domain.LedgerKindIncome,
			AmountCents: sale.TotalCents,
			Description: "sale " + sale.ID,
			CreatedAt:   sale.CreatedAt,
		})
	} else {
		for i := range sale.Installments {
			inst := &sale.Installments[i]
			if inst.ID == "" {
				inst.ID = xid.New("inst")
			}
			inst.SaleID = sale.ID
			inst.Paid = false
			inst.PaidAt = nil
			stored := *inst
			s.installmentsByID[inst.ID] = &stored
		}
	}

	stored := sale
	stored.Lines = slices.Clone(sale.Lines)
	stored.Installments = slices.Clone(sale.Installments)
	s.salesByID[sale.ID] = &stored
	s.saleOrder = append(s.saleOrder, sale.ID)

	created := sale
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}

	sales := make([]domain.Sale, 0, limit)
	for i := len(s.saleOrder) - 1; i >= 0 && len(sales) < limit; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		sales = append(sales, domain.Sale{
			ID:          sale.ID,
			CustomerID:  sale.CustomerID,
			TotalCents:  sale.TotalCents,
			PaymentType: sale.PaymentType,
			CreatedAt:   sale.CreatedAt,
		})
	}
	return sales, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	copied := *sale
	copied.Lines = slices.Clone(sale.Lines)
	copied.Installments = make([]domain.Installment, 0, len(sale.Installments))
	for _, inst := range sale.Installments {
		if current, ok := s.installmentsByID[inst.ID]; ok {
			copied.Installments = append(copied.Installments, *current)
		}
	}
	return &copied, nil
}

func (s *Store) GetSalesSummary(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		From: from.UTC().Format("2006-01-02"),
		To:   to.UTC().Format("2006-01-02"),
	}

	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		summary.Sales++
		if sale.PaymentType == domain.PaymentTypeCash {
			summary.CashTotalCents += sale.TotalCents
		} else {
			summary.CreditTotalCents += sale.TotalCents
		}
		for _, line := range sale.Lines {
			product, exists := s.productsByID[line.ProductID]
			if !exists || product.UnitCostCents < 1 {
				continue
			}
			summary.EstimatedMarginCents += (line.UnitPriceCents - product.UnitCostCents) * int64(line.Qty)
		}
	}
	return summary, nil
}

func (s *Store) CreateLedgerEntry(_ context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.ledger = append(s.ledger, entry)
	created := entry
	return &created, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}

	entries := make([]domain.LedgerEntry, 0, limit)
	for i := len(s.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, s.ledger[i])
	}
	return entries, nil
}

func (s *Store) CashBalance(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := int64(0)
	for _, entry := range s.ledger {
		if entry.Kind == domain.LedgerKindIncome {
			balance += entry.AmountCents
		} else {
			balance -= entry.AmountCents
		}
	}
	return balance, nil
}

func (s *Store) ApplyInstallmentPayment(_ context.Context, installmentID string, amountCents int64, at time.Time) (*domain.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amountCents < 1 {
		return nil, store.ErrInvalidInput
	}

	inst, exists := s.installmentsByID[installmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if inst.Paid {
		return nil, fmt.Errorf("%w: installment already paid", store.ErrConflict)
	}

	newBalance := inst.AmountCents - amountCents
	if newBalance <= 0 {
		newBalance = 0
		inst.Paid = true
		paidAt := at.UTC()
		inst.PaidAt = &paidAt
	}
	inst.AmountCents = newBalance

	s.ledger = append(s.ledger, domain.LedgerEntry{
		ID:          xid.New("led"),
		Kind:        domain.LedgerKindIncome,
		AmountCents: amountCents,
		Description: fmt.Sprintf("installment %s payment", inst.ID),
		CreatedAt:   at.UTC(),
	})

	copied := *inst
	return &copied, nil
}

func (s *Store) ListOutstandingInstallments(_ context.Context) ([]domain.OutstandingInstallment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outstanding := make([]domain.OutstandingInstallment, 0, len(s.installmentsByID))
	for _, inst := range s.installmentsByID {
		if inst.Paid {
			continue
		}
		o := domain.OutstandingInstallment{Installment: *inst}
		if sale, ok := s.salesByID[inst.SaleID]; ok {
			o.SaleTotalCents = sale.TotalCents
			o.CustomerID = sale.CustomerID
			if customer, ok := s.customersByID[sale.CustomerID]; ok {
				o.CustomerName = customer.Name
			}
		}
		outstanding = append(outstanding, o)
	}

	slices.SortFunc(outstanding, func(a, b domain.OutstandingInstallment) int {
		if !a.DueDate.Equal(b.DueDate) {
			if a.DueDate.Before(b.DueDate) {
				return -1
			}
			return 1
		}
		if a.SaleID == b.SaleID {
			return a.Number - b.Number
		}
		return strings.Compare(a.SaleID, b.SaleID)
	})
	return outstanding, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
