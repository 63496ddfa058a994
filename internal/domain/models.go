package domain

import "time"

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Document  string    `json:"document,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Document string `json:"document"`
	Phone    string `json:"phone"`
}

type Product struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	Code                string    `json:"code,omitempty"`
	UnitPriceCents      int64     `json:"unit_price_cents"`
	WholesalePriceCents int64     `json:"wholesale_price_cents,omitempty"`
	UnitCostCents       int64     `json:"unit_cost_cents,omitempty"`
	Stock               int       `json:"stock"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ProductUpsertRequest creates a product, or merges into the existing product
// when Code matches one already on file: StockDelta adds to stock, descriptive
// and price fields overwrite.
type ProductUpsertRequest struct {
	Name                string `json:"name"`
	Category            string `json:"category"`
	Code                string `json:"code"`
	UnitPriceCents      int64  `json:"unit_price_cents"`
	WholesalePriceCents int64  `json:"wholesale_price_cents"`
	UnitCostCents       int64  `json:"unit_cost_cents"`
	StockDelta          int    `json:"stock_delta"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type SaleLineRequest struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type SaleCreateRequest struct {
	CustomerID       string            `json:"customer_id"`
	PaymentType      string            `json:"payment_type"`
	InstallmentCount int               `json:"installment_count"`
	Lines            []SaleLineRequest `json:"lines"`
}

type Sale struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customer_id,omitempty"`
	TotalCents   int64         `json:"total_cents"`
	PaymentType  string        `json:"payment_type"`
	CreatedAt    time.Time     `json:"created_at"`
	Lines        []SaleLine    `json:"lines,omitempty"`
	Installments []Installment `json:"installments,omitempty"`
}

type Installment struct {
	ID            string     `json:"id"`
	SaleID        string     `json:"sale_id"`
	Number        int        `json:"number"`
	AmountCents   int64      `json:"amount_cents"`
	OriginalCents int64      `json:"original_cents"`
	DueDate       time.Time  `json:"due_date"`
	Paid          bool       `json:"paid"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// OutstandingInstallment joins an unpaid installment with its sale and customer
// for the pending-credit report.
type OutstandingInstallment struct {
	Installment
	SaleTotalCents int64  `json:"sale_total_cents"`
	CustomerID     string `json:"customer_id,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
}

type PaymentRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type LedgerEntry struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type LedgerEntryCreateRequest struct {
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type LowStockItem struct {
	Product
	Threshold int `json:"threshold"`
}

type SalesSummary struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Sales                int64  `json:"sales"`
	CashTotalCents       int64  `json:"cash_total_cents"`
	CreditTotalCents     int64  `json:"credit_total_cents"`
	EstimatedMarginCents int64  `json:"estimated_margin_cents"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentTypeCash   = "cash"
	PaymentTypeCredit = "credit"
)

const (
	LedgerKindIncome  = "income"
	LedgerKindExpense = "expense"
)

const (
	CustomerCategoryCounter   = "counter"
	CustomerCategoryWholesale = "wholesale"
)
