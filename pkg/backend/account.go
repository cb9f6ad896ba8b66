package backend

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// requireSession fails fast when no access token is stored.
func (s *Service) requireSession(ctx context.Context) error {
	sess, err := s.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

// Balances lists the account balances.
func (s *Service) Balances(ctx context.Context, query url.Values) ([]Balance, error) {
	return list[Balance](ctx, s, pathBalance, query)
}

// BalanceByID fetches one balance.
func (s *Service) BalanceByID(ctx context.Context, id ID) (*Balance, error) {
	var b Balance
	if err := s.call(ctx, http.MethodGet, itemPath(pathBalance, id), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CurrentBalance returns the first balance with the currency defaulted to
// USD. An empty listing yields a zero USD balance.
func (s *Service) CurrentBalance(ctx context.Context) (*Balance, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}
	balances, err := s.Balances(ctx, nil)
	if err != nil {
		return nil, err
	}
	b := Balance{}
	if len(balances) > 0 {
		b = balances[0]
	}
	if b.Currency == "" {
		b.Currency = "USD"
	}
	return &b, nil
}

// Deposits lists deposits.
func (s *Service) Deposits(ctx context.Context, query url.Values) ([]Deposit, error) {
	return list[Deposit](ctx, s, pathDeposits, query)
}

// CreateDeposit submits a new deposit.
func (s *Service) CreateDeposit(ctx context.Context, req DepositRequest) (*Deposit, error) {
	if err := ValidateDeposit(req); err != nil {
		return nil, err
	}
	var d Deposit
	if err := s.call(ctx, http.MethodPost, pathDeposits, nil, req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Deposit fetches one deposit.
func (s *Service) Deposit(ctx context.Context, id ID) (*Deposit, error) {
	var d Deposit
	if err := s.call(ctx, http.MethodGet, itemPath(pathDeposits, id), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDeposit replaces a deposit.
func (s *Service) UpdateDeposit(ctx context.Context, id ID, req DepositRequest) (*Deposit, error) {
	if err := ValidateDeposit(req); err != nil {
		return nil, err
	}
	var d Deposit
	if err := s.call(ctx, http.MethodPut, itemPath(pathDeposits, id), nil, req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// PatchDeposit updates selected deposit fields.
func (s *Service) PatchDeposit(ctx context.Context, id ID, fields map[string]interface{}) (*Deposit, error) {
	var d Deposit
	if err := s.call(ctx, http.MethodPatch, itemPath(pathDeposits, id), nil, fields, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDeposit removes a deposit.
func (s *Service) DeleteDeposit(ctx context.Context, id ID) error {
	return s.call(ctx, http.MethodDelete, itemPath(pathDeposits, id), nil, nil, nil)
}

// VerifyDeposit asks the backend to verify a deposit.
func (s *Service) VerifyDeposit(ctx context.Context, id ID) (*Deposit, error) {
	var d Deposit
	if err := s.call(ctx, http.MethodGet, itemPath(pathDeposits, id)+"verify/", nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Withdrawals lists withdrawals.
func (s *Service) Withdrawals(ctx context.Context, query url.Values) ([]Withdrawal, error) {
	return list[Withdrawal](ctx, s, pathWithdraws, query)
}

// CreateWithdrawal submits a new withdrawal within the method's limits.
func (s *Service) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*Withdrawal, error) {
	if err := ValidateWithdrawal(req); err != nil {
		return nil, err
	}
	var w Withdrawal
	if err := s.call(ctx, http.MethodPost, pathWithdraws, nil, req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Withdrawal fetches one withdrawal.
func (s *Service) Withdrawal(ctx context.Context, id ID) (*Withdrawal, error) {
	var w Withdrawal
	if err := s.call(ctx, http.MethodGet, itemPath(pathWithdraws, id), nil, nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWithdrawal replaces a withdrawal.
func (s *Service) UpdateWithdrawal(ctx context.Context, id ID, req WithdrawalRequest) (*Withdrawal, error) {
	if err := ValidateWithdrawal(req); err != nil {
		return nil, err
	}
	var w Withdrawal
	if err := s.call(ctx, http.MethodPut, itemPath(pathWithdraws, id), nil, req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// PatchWithdrawal updates selected withdrawal fields.
func (s *Service) PatchWithdrawal(ctx context.Context, id ID, fields map[string]interface{}) (*Withdrawal, error) {
	var w Withdrawal
	if err := s.call(ctx, http.MethodPatch, itemPath(pathWithdraws, id), nil, fields, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteWithdrawal removes a withdrawal.
func (s *Service) DeleteWithdrawal(ctx context.Context, id ID) error {
	return s.call(ctx, http.MethodDelete, itemPath(pathWithdraws, id), nil, nil, nil)
}

// VerifyWithdrawal asks the backend to verify a withdrawal.
func (s *Service) VerifyWithdrawal(ctx context.Context, id ID) (*Withdrawal, error) {
	var w Withdrawal
	if err := s.call(ctx, http.MethodGet, itemPath(pathWithdraws, id)+"verify/", nil, nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// AccountSummaries lists account summaries. The first page is requested when
// query is nil.
func (s *Service) AccountSummaries(ctx context.Context, query url.Values) ([]AccountSummary, error) {
	if query == nil {
		query = url.Values{"page": {"1"}}
	}
	return list[AccountSummary](ctx, s, pathSummaries, query)
}

// CurrentSummary returns the first account summary, zeroed when none exists.
func (s *Service) CurrentSummary(ctx context.Context) (*AccountSummary, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}
	summaries, err := s.AccountSummaries(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return &AccountSummary{}, nil
	}
	return &summaries[0], nil
}

// AccountSummary fetches one summary.
func (s *Service) AccountSummary(ctx context.Context, id ID) (*AccountSummary, error) {
	var a AccountSummary
	if err := s.call(ctx, http.MethodGet, itemPath(pathSummaries, id), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccountSummary creates a summary.
func (s *Service) CreateAccountSummary(ctx context.Context, summary AccountSummary) (*AccountSummary, error) {
	var a AccountSummary
	if err := s.call(ctx, http.MethodPost, pathSummaries, nil, summary, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAccountSummary replaces a summary.
func (s *Service) UpdateAccountSummary(ctx context.Context, id ID, summary AccountSummary) (*AccountSummary, error) {
	var a AccountSummary
	if err := s.call(ctx, http.MethodPut, itemPath(pathSummaries, id), nil, summary, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PatchAccountSummary updates selected summary fields.
func (s *Service) PatchAccountSummary(ctx context.Context, id ID, fields map[string]interface{}) (*AccountSummary, error) {
	var a AccountSummary
	if err := s.call(ctx, http.MethodPatch, itemPath(pathSummaries, id), nil, fields, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAccountSummary removes a summary.
func (s *Service) DeleteAccountSummary(ctx context.Context, id ID) error {
	return s.call(ctx, http.MethodDelete, itemPath(pathSummaries, id), nil, nil, nil)
}

// Transactions fetches deposits and withdrawals concurrently. Either failing
// fails the whole call.
func (s *Service) Transactions(ctx context.Context, query url.Values) (*Transactions, error) {
	var tx Transactions
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deposits, err := s.Deposits(gctx, query)
		tx.Deposits = deposits
		return err
	})
	g.Go(func() error {
		withdrawals, err := s.Withdrawals(gctx, query)
		tx.Withdrawals = withdrawals
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if tx.Deposits == nil {
		tx.Deposits = []Deposit{}
	}
	if tx.Withdrawals == nil {
		tx.Withdrawals = []Withdrawal{}
	}
	return &tx, nil
}
