package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ventaspos/backend/internal/cache"
	"ventaspos/backend/internal/domain"
	"ventaspos/backend/internal/store"
	"ventaspos/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, cache.NoopProductLookupCache{}, time.Minute, InstallmentPolicy{}, 5)
	return svc, repo
}

func seedProduct(t *testing.T, ctx context.Context, svc *Service, name, code string, unitPrice, wholesalePrice int64, stock int) domain.Product {
	t.Helper()
	product, err := svc.UpsertProduct(ctx, domain.ProductUpsertRequest{
		Name:                name,
		Category:            "grocery",
		Code:                code,
		UnitPriceCents:      unitPrice,
		WholesalePriceCents: wholesalePrice,
		StockDelta:          stock,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

func TestRegisterSaleCashDecrementsStockAndPostsLedger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Azucar 1kg", "AZ-1", 1000, 0, 10)

	sale, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 3, UnitPriceCents: 1000},
		},
	})
	if err != nil {
		t.Fatalf("RegisterSale: %v", err)
	}
	if sale.TotalCents != 3000 {
		t.Fatalf("total = %d, want 3000", sale.TotalCents)
	}
	if len(sale.Installments) != 0 {
		t.Fatalf("cash sale has %d installments, want 0", len(sale.Installments))
	}

	products, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if got := products[0].Stock; got != 7 {
		t.Fatalf("stock after sale = %d, want 7", got)
	}

	balance, err := svc.CurrentBalance(ctx)
	if err != nil {
		t.Fatalf("CurrentBalance: %v", err)
	}
	if balance != 3000 {
		t.Fatalf("balance after cash sale = %d, want 3000", balance)
	}

	entries, err := svc.ListLedgerEntries(ctx, 10)
	if err != nil {
		t.Fatalf("ListLedgerEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != domain.LedgerKindIncome || entries[0].AmountCents != 3000 {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}
}

func TestRegisterSaleInsufficientStockLeavesStateUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := seedProduct(t, context.Background(), svc, "Harina 1kg", "HA-1", 700, 0, 10)
	second := seedProduct(t, context.Background(), svc, "Aceite 900ml", "AC-9", 1500, 0, 2)

	_, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: first.ID, Qty: 4, UnitPriceCents: 700},
			{ProductID: second.ID, Qty: 3, UnitPriceCents: 1500},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	products, _ := svc.ListProducts(ctx)
	for _, p := range products {
		want := map[string]int{first.ID: 10, second.ID: 2}[p.ID]
		if p.Stock != want {
			t.Fatalf("product %s stock = %d, want %d", p.Name, p.Stock, want)
		}
	}

	balance, _ := svc.CurrentBalance(ctx)
	if balance != 0 {
		t.Fatalf("balance after failed sale = %d, want 0", balance)
	}
	sales, _ := svc.ListSales(ctx, 10)
	if len(sales) != 0 {
		t.Fatalf("failed sale was recorded: %+v", sales)
	}
}

func TestRegisterSaleDuplicateLineQuantitiesAccumulate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Yerba 500g", "YE-5", 1200, 0, 5)

	// 3 + 3 of the same product exceeds the stock of 5 even though each
	// line alone would pass.
	_, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 3, UnitPriceCents: 1200},
			{ProductID: product.ID, Qty: 3, UnitPriceCents: 1200},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestRegisterSaleRejectsOffListPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Gaseosa 2L", "GA-2", 1100, 950, 10)

	_, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 1, UnitPriceCents: 999},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	// The wholesale tier is a valid list price.
	sale, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 2, UnitPriceCents: 950},
		},
	})
	if err != nil {
		t.Fatalf("RegisterSale at wholesale price: %v", err)
	}
	if sale.TotalCents != 1900 {
		t.Fatalf("total = %d, want 1900", sale.TotalCents)
	}
}

func TestRegisterSaleRejectsEmptyLines(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RegisterSale(context.Background(), domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: "prd-x", Qty: 0, UnitPriceCents: 100},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRegisterSaleCreditSplitsTotalAcrossInstallments(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Jabon 800g", "JP-8", 1000, 0, 10)

	sale, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType:      domain.PaymentTypeCredit,
		InstallmentCount: 3,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 3, UnitPriceCents: 1000},
		},
	})
	if err != nil {
		t.Fatalf("RegisterSale: %v", err)
	}
	if sale.TotalCents != 3000 {
		t.Fatalf("total = %d, want 3000", sale.TotalCents)
	}
	if len(sale.Installments) != 3 {
		t.Fatalf("installments = %d, want 3", len(sale.Installments))
	}
	for i, inst := range sale.Installments {
		if inst.AmountCents != 1000 {
			t.Fatalf("installment %d amount = %d, want 1000", i+1, inst.AmountCents)
		}
		if inst.Paid {
			t.Fatalf("installment %d created paid", i+1)
		}
	}

	// Credit sales touch the ledger only when payments arrive.
	balance, _ := svc.CurrentBalance(ctx)
	if balance != 0 {
		t.Fatalf("balance after credit sale = %d, want 0", balance)
	}
}

func TestRegisterSaleInstallmentCountBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Caramelos", "CR-1", 10, 0, 100)

	// Count above the policy maximum is rejected.
	_, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType:      domain.PaymentTypeCredit,
		InstallmentCount: 1000,
		Lines:            []domain.SaleLineRequest{{ProductID: product.ID, Qty: 30, UnitPriceCents: 10}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("oversized count err = %v, want ErrInvalidInput", err)
	}

	// A count that would produce zero-amount installments is rejected even
	// when it is under the maximum: 20 cents cannot split 30 ways.
	_, err = svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType:      domain.PaymentTypeCredit,
		InstallmentCount: 30,
		Lines:            []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2, UnitPriceCents: 10}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("zero-amount split err = %v, want ErrInvalidInput", err)
	}

	// Neither rejection touched stock or the pending-credit report.
	products, _ := svc.ListProducts(ctx)
	if products[0].Stock != 100 {
		t.Fatalf("stock = %d, want 100", products[0].Stock)
	}
	outstanding, _ := svc.ListOutstandingInstallments(ctx)
	if len(outstanding) != 0 {
		t.Fatalf("outstanding = %d, want 0", len(outstanding))
	}

	// The maximum itself still works.
	sale, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType:      domain.PaymentTypeCredit,
		InstallmentCount: 36,
		Lines:            []domain.SaleLineRequest{{ProductID: product.ID, Qty: 10, UnitPriceCents: 10}},
	})
	if err != nil {
		t.Fatalf("RegisterSale at max count: %v", err)
	}
	if len(sale.Installments) != 36 {
		t.Fatalf("installments = %d, want 36", len(sale.Installments))
	}
	var sum int64
	for _, inst := range sale.Installments {
		if inst.AmountCents < 1 {
			t.Fatalf("installment %d has zero amount", inst.Number)
		}
		sum += inst.AmountCents
	}
	if sum != sale.TotalCents {
		t.Fatalf("sum = %d, want %d", sum, sale.TotalCents)
	}
}

func TestSplitInstallmentsRemainderLandsOnFirst(t *testing.T) {
	svc, _ := newTestService(t)

	from := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)
	parts := svc.splitInstallments(1000, 3, from)

	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	amounts := []int64{parts[0].AmountCents, parts[1].AmountCents, parts[2].AmountCents}
	if amounts[0] != 334 || amounts[1] != 333 || amounts[2] != 333 {
		t.Fatalf("amounts = %v, want [334 333 333]", amounts)
	}
	if sum := amounts[0] + amounts[1] + amounts[2]; sum != 1000 {
		t.Fatalf("sum = %d, want 1000", sum)
	}

	wantDue := []time.Time{
		time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 22, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 22, 0, 0, 0, 0, time.UTC),
	}
	for i, part := range parts {
		if !part.DueDate.Equal(wantDue[i]) {
			t.Fatalf("installment %d due %s, want %s", i+1, part.DueDate, wantDue[i])
		}
	}
}

func TestApplyPaymentPartialThenClampToZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Arroz 1kg", "AR-1", 900, 0, 10)
	sale, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType:      domain.PaymentTypeCredit,
		InstallmentCount: 2,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 2, UnitPriceCents: 900},
		},
	})
	if err != nil {
		t.Fatalf("RegisterSale: %v", err)
	}
	first := sale.Installments[0]

	partial, err := svc.ApplyPayment(ctx, first.ID, 300)
	if err != nil {
		t.Fatalf("ApplyPayment partial: %v", err)
	}
	if partial.AmountCents != first.AmountCents-300 {
		t.Fatalf("remaining = %d, want %d", partial.AmountCents, first.AmountCents-300)
	}
	if partial.Paid {
		t.Fatal("installment marked paid after partial payment")
	}
	if partial.OriginalCents != first.AmountCents {
		t.Fatalf("original = %d, want %d", partial.OriginalCents, first.AmountCents)
	}

	// Overpayment clamps to zero rather than going negative.
	settled, err := svc.ApplyPayment(ctx, first.ID, partial.AmountCents+5000)
	if err != nil {
		t.Fatalf("ApplyPayment overpay: %v", err)
	}
	if settled.AmountCents != 0 {
		t.Fatalf("remaining after overpay = %d, want 0", settled.AmountCents)
	}
	if !settled.Paid || settled.PaidAt == nil {
		t.Fatalf("settled installment not marked paid: %+v", settled)
	}

	// A settled installment cannot be paid again.
	if _, err := svc.ApplyPayment(ctx, first.ID, 100); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	// Both payments were mirrored into the ledger at the tendered amounts.
	balance, _ := svc.CurrentBalance(ctx)
	want := int64(300) + partial.AmountCents + 5000
	if balance != want {
		t.Fatalf("balance = %d, want %d", balance, want)
	}
}

func TestApplyPaymentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ApplyPayment(ctx, "", 100); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("empty id err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.ApplyPayment(ctx, "inst-x", 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("zero amount err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.ApplyPayment(ctx, "inst-missing", 100); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing id err = %v, want ErrNotFound", err)
	}
}

func TestBalanceIsIncomeMinusExpense(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	post := func(kind string, amount int64) {
		t.Helper()
		if _, err := svc.PostLedgerEntry(ctx, domain.LedgerEntryCreateRequest{Kind: kind, AmountCents: amount, Description: "manual"}); err != nil {
			t.Fatalf("PostLedgerEntry(%s, %d): %v", kind, amount, err)
		}
	}

	post(domain.LedgerKindIncome, 5000)
	post(domain.LedgerKindExpense, 1200)
	post(domain.LedgerKindIncome, 300)
	post(domain.LedgerKindExpense, 700)

	balance, err := svc.CurrentBalance(ctx)
	if err != nil {
		t.Fatalf("CurrentBalance: %v", err)
	}
	if balance != 3400 {
		t.Fatalf("balance = %d, want 3400", balance)
	}
}

func TestPostLedgerEntryValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.PostLedgerEntry(ctx, domain.LedgerEntryCreateRequest{Kind: "transfer", AmountCents: 100}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("bad kind err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.PostLedgerEntry(ctx, domain.LedgerEntryCreateRequest{Kind: domain.LedgerKindIncome, AmountCents: 0}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("zero amount err = %v, want ErrInvalidInput", err)
	}
}

func TestUpsertProductMergesByCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := seedProduct(t, context.Background(), svc, "Fideos 500g", "FI-5", 800, 0, 10)

	merged, err := svc.UpsertProduct(ctx, domain.ProductUpsertRequest{
		Name:           "Fideos 500g tallarin",
		Category:       "grocery",
		Code:           "fi-5",
		UnitPriceCents: 850,
		StockDelta:     5,
	})
	if err != nil {
		t.Fatalf("UpsertProduct merge: %v", err)
	}
	if merged.ID != first.ID {
		t.Fatalf("merge created a new product: %s != %s", merged.ID, first.ID)
	}
	if merged.Stock != 15 {
		t.Fatalf("merged stock = %d, want 15", merged.Stock)
	}
	if merged.UnitPriceCents != 850 || merged.Name != "Fideos 500g tallarin" {
		t.Fatalf("merge did not overwrite fields: %+v", merged)
	}

	products, _ := svc.ListProducts(ctx)
	if len(products) != 1 {
		t.Fatalf("products = %d, want 1", len(products))
	}
}

func TestUpsertProductRequiresUnitPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertProduct(ctx, domain.ProductUpsertRequest{
		Name:           "Detergente 1L",
		UnitPriceCents: 0,
		StockDelta:     5,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("zero price err = %v, want ErrInvalidInput", err)
	}

	_, err = svc.UpsertProduct(ctx, domain.ProductUpsertRequest{
		Name:           "Detergente 1L",
		UnitPriceCents: -100,
		StockDelta:     5,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("negative price err = %v, want ErrInvalidInput", err)
	}

	products, _ := svc.ListProducts(ctx)
	if len(products) != 0 {
		t.Fatalf("rejected product was stored: %+v", products)
	}
}

func TestDeleteMissingEntitiesReturnNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.DeleteProduct(ctx, "prd-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteProduct err = %v, want ErrNotFound", err)
	}
	if err := svc.DeleteCustomer(ctx, "cus-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("DeleteCustomer err = %v, want ErrNotFound", err)
	}
}

func TestRegisterSaleUnknownCustomerRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Leche 1L", "LE-1", 950, 0, 10)

	_, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		CustomerID:  "cus-ghost",
		PaymentType: domain.PaymentTypeCash,
		Lines: []domain.SaleLineRequest{
			{ProductID: product.ID, Qty: 1, UnitPriceCents: 950},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListLowStockUsesConfiguredThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedProduct(t, context.Background(), svc, "Sal 500g", "SA-5", 400, 0, 3)
	seedProduct(t, context.Background(), svc, "Vinagre 1L", "VI-1", 600, 0, 40)

	items, err := svc.ListLowStock(ctx, 0)
	if err != nil {
		t.Fatalf("ListLowStock: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Sal 500g" || items[0].Threshold != 5 {
		t.Fatalf("unexpected low stock items: %+v", items)
	}
}

// recordingCache tracks calls so cache interaction can be asserted.
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]domain.Product
	gets        int
	sets        int
	invalidates int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]domain.Product)}
}

func (c *recordingCache) Get(_ context.Context, code string) (*domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	product, ok := c.entries[code]
	if !ok {
		return nil, false, nil
	}
	return &product, true, nil
}

func (c *recordingCache) Set(_ context.Context, code string, product *domain.Product, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[code] = *product
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidates++
	delete(c.entries, code)
	return nil
}

func TestFindProductByCodeCachesAndInvalidates(t *testing.T) {
	repo := memory.New()
	lookup := newRecordingCache()
	svc := New(repo, lookup, time.Minute, InstallmentPolicy{}, 5)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Cafe 250g", "CA-2", 2100, 0, 8)

	found, err := svc.FindProductByCode(ctx, "ca-2")
	if err != nil {
		t.Fatalf("FindProductByCode: %v", err)
	}
	if found.ID != product.ID {
		t.Fatalf("found %s, want %s", found.ID, product.ID)
	}
	if lookup.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", lookup.sets)
	}

	// Second lookup is served from the cache.
	if _, err := svc.FindProductByCode(ctx, "CA-2"); err != nil {
		t.Fatalf("FindProductByCode cached: %v", err)
	}
	if lookup.sets != 1 || lookup.gets != 2 {
		t.Fatalf("cache stats gets=%d sets=%d, want gets=2 sets=1", lookup.gets, lookup.sets)
	}

	// Mutating the product drops the cached entry.
	if _, err := svc.UpsertProduct(ctx, domain.ProductUpsertRequest{
		Name:           "Cafe 250g",
		Code:           "CA-2",
		UnitPriceCents: 2300,
		StockDelta:     0,
	}); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if lookup.invalidates == 0 {
		t.Fatal("mutation did not invalidate the lookup cache")
	}

	refreshed, err := svc.FindProductByCode(ctx, "CA-2")
	if err != nil {
		t.Fatalf("FindProductByCode after mutation: %v", err)
	}
	if refreshed.UnitPriceCents != 2300 {
		t.Fatalf("stale price %d, want 2300", refreshed.UnitPriceCents)
	}
}

func TestSalesSummaryWindow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Pan 1kg", "PA-1", 1000, 0, 100)

	if _, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType: domain.PaymentTypeCash,
		Lines:       []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2, UnitPriceCents: 1000}},
	}); err != nil {
		t.Fatalf("cash sale: %v", err)
	}
	if _, err := svc.RegisterSale(ctx, domain.SaleCreateRequest{
		PaymentType:      domain.PaymentTypeCredit,
		InstallmentCount: 2,
		Lines:            []domain.SaleLineRequest{{ProductID: product.ID, Qty: 3, UnitPriceCents: 1000}},
	}); err != nil {
		t.Fatalf("credit sale: %v", err)
	}

	summary, err := svc.SalesSummary(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("SalesSummary: %v", err)
	}
	if summary.Sales != 2 {
		t.Fatalf("sales = %d, want 2", summary.Sales)
	}
	if summary.CashTotalCents != 2000 || summary.CreditTotalCents != 3000 {
		t.Fatalf("cash=%d credit=%d, want 2000/3000", summary.CashTotalCents, summary.CreditTotalCents)
	}

	// A window in the past sees nothing.
	past, err := svc.SalesSummary(ctx,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SalesSummary past: %v", err)
	}
	if past.Sales != 0 {
		t.Fatalf("past window sales = %d, want 0", past.Sales)
	}
}

func TestAuditTrailRecordsActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	seedProduct(t, ctx, svc, "Te 100g", "TE-1", 500, 0, 10)

	logs, err := svc.ListAuditLogs(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("no audit logs written")
	}
	entry := logs[0]
	if entry.Action != "product_upsert" || entry.ActorUsername != "admin" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product := seedProduct(t, context.Background(), svc, "Galletas 400g", "GA-4", 600, 0, 10)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RegisterSale(ctx, domain.SaleCreateRequest{
				PaymentType: domain.PaymentTypeCash,
				Lines:       []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1, UnitPriceCents: 600}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 10 {
		t.Fatalf("succeeded = %d, want exactly 10", succeeded)
	}

	products, _ := svc.ListProducts(ctx)
	if products[0].Stock != 0 {
		t.Fatalf("final stock = %d, want 0", products[0].Stock)
	}
	balance, _ := svc.CurrentBalance(ctx)
	if balance != 6000 {
		t.Fatalf("balance = %d, want 6000", balance)
	}
}
