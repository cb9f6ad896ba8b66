package balance

import (
	"math"
	"sort"
	"time"

	"broker-client/pkg/backend"
)

// Transaction types.
const (
	TypeDeposit    = "Deposit"
	TypeWithdrawal = "Withdrawal"
)

const (
	defaultCurrency = "USD"
	defaultStatus   = "completed"
	defaultMethod   = "Unknown"
)

// BalanceRecord is the cached account balance.
type BalanceRecord struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// SummaryRecord is the cached trading summary. Missing fields are zero.
type SummaryRecord struct {
	ProfitLoss     float64 `json:"profit_loss"`
	Margin         float64 `json:"margin"`
	OpenedPosition float64 `json:"opened_position"`
	FreeMargin     float64 `json:"free_margin"`
	MarginLevel    float64 `json:"margin_level"`
}

// TransactionRecord is one deposit or withdrawal. Withdrawals carry a
// negative amount.
type TransactionRecord struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Amount         float64   `json:"amount"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	CryptoType     string    `json:"crypto_type,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
}

// Snapshot is the cached account state. A zero Timestamp means nothing has
// been fetched yet.
type Snapshot struct {
	Timestamp    time.Time           `json:"timestamp"`
	Balances     []BalanceRecord     `json:"balances,omitempty"`
	Balance      *BalanceRecord      `json:"balance"`
	Summary      *SummaryRecord      `json:"summary"`
	Transactions []TransactionRecord `json:"transactions"`
}

// Age reports how old the snapshot is at now. An empty snapshot is
// infinitely old.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.Timestamp.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(s.Timestamp)
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Balances != nil {
		out.Balances = append([]BalanceRecord(nil), s.Balances...)
	}
	if s.Balance != nil {
		b := *s.Balance
		out.Balance = &b
	}
	if s.Summary != nil {
		sum := *s.Summary
		out.Summary = &sum
	}
	if s.Transactions != nil {
		out.Transactions = append([]TransactionRecord(nil), s.Transactions...)
	}
	return out
}

func balanceRecord(b *backend.Balance) *BalanceRecord {
	if b == nil {
		return nil
	}
	currency := b.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return &BalanceRecord{Amount: b.Amount.Float64(), Currency: currency}
}

func summaryRecord(s *backend.AccountSummary) *SummaryRecord {
	if s == nil {
		return &SummaryRecord{}
	}
	return &SummaryRecord{
		ProfitLoss:     s.ProfitLoss.Float64(),
		Margin:         s.Margin.Float64(),
		OpenedPosition: s.OpenedPosition.Float64(),
		FreeMargin:     s.FreeMargin.Float64(),
		MarginLevel:    s.MarginLevel.Float64(),
	}
}

// mergeTransactions signs and merges deposits and withdrawals, newest first.
func mergeTransactions(tx *backend.Transactions) []TransactionRecord {
	if tx == nil {
		return []TransactionRecord{}
	}
	out := make([]TransactionRecord, 0, len(tx.Deposits)+len(tx.Withdrawals))
	for _, d := range tx.Deposits {
		out = append(out, TransactionRecord{
			ID:         d.ID.String(),
			Type:       TypeDeposit,
			Amount:     d.Amount.Float64(),
			Status:     orDefault(d.Status, defaultStatus),
			Timestamp:  backend.ParseTimestamp(d.CreatedAt),
			Method:     orDefault(d.Method, defaultMethod),
			CryptoType: d.CryptoType,
		})
	}
	for _, w := range tx.Withdrawals {
		out = append(out, TransactionRecord{
			ID:             w.ID.String(),
			Type:           TypeWithdrawal,
			Amount:         -w.Amount.Float64(),
			Status:         orDefault(w.Status, defaultStatus),
			Timestamp:      backend.ParseTimestamp(w.CreatedAt),
			Method:         orDefault(w.Method, defaultMethod),
			RecipientEmail: w.RecipientEmail,
		})
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(records []TransactionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
