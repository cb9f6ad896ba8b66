package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Number accepts JSON numbers, numeric strings and null. The backend sends
// decimal fields as strings.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("backend: invalid number %s: %w", data, err)
	}
	*n = Number(f)
	return nil
}

// Float64 returns n as a float64.
func (n Number) Float64() float64 {
	return float64(n)
}

// ID accepts numeric and string identifiers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*id = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = ID(str)
	default:
		*id = ID(s)
	}
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Tokens is the login and signup-verification response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	Message      string `json:"message"`
}

// Message is the body of the OTP and password flows.
type Message struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Profile is the authenticated user's profile.
type Profile struct {
	ID          ID     `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// Balance is one account balance.
type Balance struct {
	ID       ID     `json:"id,omitempty"`
	Amount   Number `json:"amount"`
	Currency string `json:"currency"`
}

// AccountSummary is the trading summary of the account.
type AccountSummary struct {
	ID             ID     `json:"id,omitempty"`
	ProfitLoss     Number `json:"profit_loss"`
	Margin         Number `json:"margin"`
	OpenedPosition Number `json:"opened_position"`
	FreeMargin     Number `json:"free_margin"`
	MarginLevel    Number `json:"margin_level"`
}

// Deposit is a funding transaction.
type Deposit struct {
	ID         ID     `json:"id"`
	Amount     Number `json:"amount"`
	Status     string `json:"status"`
	Method     string `json:"method"`
	CryptoType string `json:"crypto_type,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Withdrawal is a payout transaction.
type Withdrawal struct {
	ID             ID     `json:"id"`
	Amount         Number `json:"amount"`
	Status         string `json:"status"`
	Method         string `json:"method"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Transactions is the combined deposits and withdrawals listing.
type Transactions struct {
	Deposits    []Deposit    `json:"deposits"`
	Withdrawals []Withdrawal `json:"withdrawals"`
}

// DepositRequest creates or updates a deposit.
type DepositRequest struct {
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	CryptoType string  `json:"crypto_type,omitempty"`
}

// WithdrawalRequest creates or updates a withdrawal.
type WithdrawalRequest struct {
	Amount         float64 `json:"amount"`
	Method         string  `json:"method"`
	RecipientEmail string  `json:"recipient_email,omitempty"`
	WalletAddress  string  `json:"wallet_address,omitempty"`
	Chain          string  `json:"chain,omitempty"`
	BankName       string  `json:"bank_name,omitempty"`
	AccountNumber  string  `json:"account_number,omitempty"`
}

// SignupRequest registers a new account.
type SignupRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	PhoneNumber    string `json:"phone_number"`
	Password       string `json:"password"`
	VerifyPassword string `json:"verify_password"`
	AgreedToTerms  bool   `json:"agreedToTerms"`
}

// ParseTimestamp parses the backend's created_at values. It returns the zero
// time for empty or unparseable input.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
