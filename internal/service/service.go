package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ventaspos/backend/internal/cache"
	"ventaspos/backend/internal/domain"
	"ventaspos/backend/internal/store"
	"ventaspos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// InstallmentPolicy controls how a credit sale total is split when the caller
// does not say otherwise. Counts and spacing differ per shop, so they are
// configuration, not constants. MaxCount caps the caller-supplied count.
type InstallmentPolicy struct {
	DefaultCount int
	MaxCount     int
	FirstDueDays int
	SpacingDays  int
}

func (p InstallmentPolicy) normalized() InstallmentPolicy {
	if p.DefaultCount < 1 {
		p.DefaultCount = 1
	}
	if p.MaxCount < 1 {
		p.MaxCount = 36
	}
	if p.DefaultCount > p.MaxCount {
		p.DefaultCount = p.MaxCount
	}
	if p.FirstDueDays < 1 {
		p.FirstDueDays = 22
	}
	if p.SpacingDays < 1 {
		p.SpacingDays = 30
	}
	return p
}

type Service struct {
	repo              store.Repository
	lookupCache       cache.ProductLookupCache
	lookupTTL         time.Duration
	installments      InstallmentPolicy
	lowStockThreshold int
}

func New(repo store.Repository, lookupCache cache.ProductLookupCache, lookupTTL time.Duration, installments InstallmentPolicy, lowStockThreshold int) *Service {
	if lookupCache == nil {
		lookupCache = cache.NoopProductLookupCache{}
	}
	if lookupTTL <= 0 {
		lookupTTL = 30 * time.Second
	}
	if lowStockThreshold < 1 {
		lowStockThreshold = 5
	}

	return &Service{
		repo:              repo,
		lookupCache:       lookupCache,
		lookupTTL:         lookupTTL,
		installments:      installments.normalized(),
		lowStockThreshold: lowStockThreshold,
	}
}

func (s *Service) AddCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name required", store.ErrInvalidInput)
	}
	if req.Category == "" {
		req.Category = domain.CustomerCategoryCounter
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:      req.Name,
		Category:  req.Category,
		Document:  strings.TrimSpace(req.Document),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s,category=%s", created.Name, created.Category))
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

func (s *Service) UpsertProduct(ctx context.Context, req domain.ProductUpsertRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name required", store.ErrInvalidInput)
	}
	if req.UnitPriceCents < 1 {
		return domain.Product{}, fmt.Errorf("%w: unit price required", store.ErrInvalidInput)
	}
	if req.WholesalePriceCents < 0 || req.UnitCostCents < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	saved, err := s.repo.UpsertProductByCode(ctx, domain.Product{
		Name:                req.Name,
		Category:            req.Category,
		Code:                req.Code,
		UnitPriceCents:      req.UnitPriceCents,
		WholesalePriceCents: req.WholesalePriceCents,
		UnitCostCents:       req.UnitCostCents,
	}, req.StockDelta)
	if err != nil {
		return domain.Product{}, err
	}

	if saved.Code != "" {
		if err := s.lookupCache.Invalidate(ctx, saved.Code); err != nil {
			log.Warn().Err(err).Str("code", saved.Code).Msg("failed to invalidate product lookup cache")
		}
	}

	s.logAudit(ctx, "product_upsert", "product", saved.ID, fmt.Sprintf("code=%s,price=%d,stock_delta=%d", saved.Code, saved.UnitPriceCents, req.StockDelta))
	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListLowStock(ctx context.Context, threshold int) ([]domain.LowStockItem, error) {
	if threshold < 1 {
		threshold = s.lowStockThreshold
	}
	products, err := s.repo.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, err
	}
	items := make([]domain.LowStockItem, 0, len(products))
	for _, p := range products {
		items = append(items, domain.LowStockItem{Product: p, Threshold: threshold})
	}
	return items, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}

	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	if product.Code != "" {
		if err := s.lookupCache.Invalidate(ctx, product.Code); err != nil {
			log.Warn().Err(err).Str("code", product.Code).Msg("failed to invalidate product lookup cache")
		}
	}

	s.logAudit(ctx, "product_delete", "product", id, "code="+product.Code)
	return nil
}

// FindProductByCode is the read used to pre-fill the add-product form. It is
// served from the lookup cache when possible; misses fall through to the store.
func (s *Service) FindProductByCode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	if cached, hit, err := s.lookupCache.Get(ctx, code); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		log.Warn().Err(err).Str("code", code).Msg("product lookup cache read failed")
	}

	product, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.lookupCache.Set(ctx, code, product, s.lookupTTL); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("product lookup cache write failed")
	}
	return *product, nil
}

// RegisterSale validates and normalizes the request, builds the installment
// schedule for credit sales, and hands the whole aggregate to the store, which
// executes it as one atomic transaction.
func (s *Service) RegisterSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentType = strings.ToLower(strings.TrimSpace(req.PaymentType))
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentTypeCash
	}
	if req.PaymentType != domain.PaymentTypeCash && req.PaymentType != domain.PaymentTypeCredit {
		return domain.Sale{}, fmt.Errorf("%w: payment type %q", store.ErrInvalidInput, req.PaymentType)
	}

	lines := normalizeLines(req.Lines)
	if len(lines) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: no products selected", store.ErrInvalidInput)
	}

	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
			return domain.Sale{}, err
		}
	}

	totalCents := int64(0)
	saleLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		if line.UnitPriceCents < 1 {
			return domain.Sale{}, fmt.Errorf("%w: unit price required for product %s", store.ErrInvalidInput, line.ProductID)
		}
		saleLines = append(saleLines, domain.SaleLine{
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
		totalCents += int64(line.Qty) * line.UnitPriceCents
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:          xid.New("sale"),
		CustomerID:  req.CustomerID,
		TotalCents:  totalCents,
		PaymentType: req.PaymentType,
		CreatedAt:   now,
		Lines:       saleLines,
	}

	if req.PaymentType == domain.PaymentTypeCredit {
		count := req.InstallmentCount
		if count < 1 {
			count = s.installments.DefaultCount
		}
		if count > s.installments.MaxCount {
			return domain.Sale{}, fmt.Errorf("%w: installment count %d exceeds maximum %d", store.ErrInvalidInput, count, s.installments.MaxCount)
		}
		// Every installment must carry at least one cent.
		if totalCents/int64(count) == 0 {
			return domain.Sale{}, fmt.Errorf("%w: total %d too small for %d installments", store.ErrInvalidInput, totalCents, count)
		}
		sale.Installments = s.splitInstallments(totalCents, count, now)
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_register", "sale", created.ID, fmt.Sprintf("total=%d,payment=%s,lines=%d,installments=%d", created.TotalCents, created.PaymentType, len(created.Lines), len(created.Installments)))
	return *created, nil
}

// splitInstallments divides the total into count equal parts. Division
// remainders land on the first installment so the parts always sum to the
// exact total.
func (s *Service) splitInstallments(totalCents int64, count int, from time.Time) []domain.Installment {
	base := totalCents / int64(count)
	remainder := totalCents - base*int64(count)

	installments := make([]domain.Installment, 0, count)
	for i := 1; i <= count; i++ {
		amount := base
		if i == 1 {
			amount += remainder
		}
		dueDate := from.AddDate(0, 0, s.installments.FirstDueDays+(i-1)*s.installments.SpacingDays)
		dueDate = time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC)
		installments = append(installments, domain.Installment{
			Number:        i,
			AmountCents:   amount,
			OriginalCents: amount,
			DueDate:       dueDate,
		})
	}
	return installments
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// SalesSummary reports the [from, to) window; zero times default to today.
func (s *Service) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	if from.IsZero() {
		now := time.Now().UTC()
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() || !to.After(from) {
		to = from.AddDate(0, 0, 1)
	}
	return s.repo.GetSalesSummary(ctx, from, to)
}

func (s *Service) PostLedgerEntry(ctx context.Context, req domain.LedgerEntryCreateRequest) (domain.LedgerEntry, error) {
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if req.Kind != domain.LedgerKindIncome && req.Kind != domain.LedgerKindExpense {
		return domain.LedgerEntry{}, fmt.Errorf("%w: ledger kind %q", store.ErrInvalidInput, req.Kind)
	}
	if req.AmountCents < 1 {
		return domain.LedgerEntry{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateLedgerEntry(ctx, domain.LedgerEntry{
		Kind:        req.Kind,
		AmountCents: req.AmountCents,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	s.logAudit(ctx, "ledger_post", "ledger_entry", created.ID, fmt.Sprintf("kind=%s,amount=%d", created.Kind, created.AmountCents))
	return *created, nil
}

func (s *Service) CurrentBalance(ctx context.Context) (int64, error) {
	return s.repo.CashBalance(ctx)
}

func (s *Service) ListLedgerEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, limit)
}

// ApplyPayment applies a partial or full payment to an installment. The store
// clamps overpayments to a zero balance and posts the matching ledger entry
// in the same transaction.
func (s *Service) ApplyPayment(ctx context.Context, installmentID string, amountCents int64) (domain.Installment, error) {
	installmentID = strings.TrimSpace(installmentID)
	if installmentID == "" {
		return domain.Installment{}, store.ErrInvalidInput
	}
	if amountCents < 1 {
		return domain.Installment{}, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidInput)
	}

	updated, err := s.repo.ApplyInstallmentPayment(ctx, installmentID, amountCents, time.Now().UTC())
	if err != nil {
		return domain.Installment{}, err
	}

	s.logAudit(ctx, "installment_payment", "installment", updated.ID, fmt.Sprintf("amount=%d,remaining=%d,paid=%t", amountCents, updated.AmountCents, updated.Paid))
	return *updated, nil
}

func (s *Service) ListOutstandingInstallments(ctx context.Context) ([]domain.OutstandingInstallment, error) {
	return s.repo.ListOutstandingInstallments(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if from.IsZero() {
		from = time.Now().UTC().AddDate(0, 0, -30)
	}
	if to.IsZero() {
		to = time.Now().UTC().AddDate(0, 0, 1)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

// normalizeLines trims product ids and drops lines with non-positive
// quantities; repeated product ids are merged.
func normalizeLines(lines []domain.SaleLineRequest) []domain.SaleLineRequest {
	merged := make([]domain.SaleLineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Qty <= 0 {
			continue
		}
		if at, seen := index[line.ProductID]; seen && merged[at].UnitPriceCents == line.UnitPriceCents {
			merged[at].Qty += line.Qty
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}
