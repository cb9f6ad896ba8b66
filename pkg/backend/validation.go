package backend

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("backend: invalid input")

// ValidationError carries per-field messages from client-side checks. No
// request is sent when one is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "backend: invalid input: " + strings.Join(parts, "; ")
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// MinPasswordLength is the shortest password accepted.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

type fieldChecker struct {
	fields map[string]string
}

func newChecker() *fieldChecker {
	return &fieldChecker{fields: make(map[string]string)}
}

func (c *fieldChecker) fail(field, message string) {
	if _, ok := c.fields[field]; !ok {
		c.fields[field] = message
	}
}

func (c *fieldChecker) required(field, value, message string) {
	if strings.TrimSpace(value) == "" {
		c.fail(field, message)
	}
}

func (c *fieldChecker) email(field, value string) {
	switch {
	case strings.TrimSpace(value) == "":
		c.fail(field, "Email is required")
	case !emailPattern.MatchString(value):
		c.fail(field, "Please enter a valid email")
	}
}

func (c *fieldChecker) password(field, value string) {
	switch {
	case value == "":
		c.fail(field, "Password is required")
	case len(value) < MinPasswordLength:
		c.fail(field, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
}

func (c *fieldChecker) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}

// ValidateLogin checks login credentials.
func ValidateLogin(email, password string) error {
	c := newChecker()
	c.required("email", email, "Please enter your email address")
	c.password("password", password)
	return c.err()
}

// ValidateSignup checks a registration form.
func ValidateSignup(req SignupRequest) error {
	c := newChecker()
	c.required("first_name", req.FirstName, "First name is required")
	c.required("last_name", req.LastName, "Last name is required")
	c.email("email", req.Email)
	c.required("phone_number", req.PhoneNumber, "Phone number is required")
	c.password("password", req.Password)
	switch {
	case req.VerifyPassword == "":
		c.fail("verify_password", "Please confirm your password")
	case req.VerifyPassword != req.Password:
		c.fail("verify_password", "Passwords do not match")
	}
	if !req.AgreedToTerms {
		c.fail("agreedToTerms", "You must agree to the Terms and Conditions")
	}
	return c.err()
}

// ValidateOTP checks a one-time code submission.
func ValidateOTP(email, otp string) error {
	c := newChecker()
	c.required("email", email, "Please enter your email address")
	c.required("otp", otp, "Please enter the OTP")
	return c.err()
}

// ValidateNewPassword checks a password reset or change.
func ValidateNewPassword(password, confirm string) error {
	c := newChecker()
	c.required("new_password", password, "Please enter your new password")
	c.password("new_password", password)
	if confirm != "" && confirm != password {
		c.fail("confirm_password", "Passwords do not match")
	}
	return c.err()
}

// WithdrawalMethod describes a payout channel and its limits.
type WithdrawalMethod struct {
	ID        string
	Name      string
	MinAmount float64
	MaxAmount float64
}

// WithdrawalMethods are the supported payout channels.
var WithdrawalMethods = map[string]WithdrawalMethod{
	"crypto": {ID: "crypto", Name: "Cryptocurrency", MinAmount: 5, MaxAmount: 10000},
	"bank":   {ID: "bank", Name: "Bank Transfer", MinAmount: 5, MaxAmount: 25000},
}

// ValidateWithdrawal checks amount and method limits.
func ValidateWithdrawal(req WithdrawalRequest) error {
	c := newChecker()
	method, ok := WithdrawalMethods[req.Method]
	if !ok {
		c.fail("method", "Please select a withdrawal method")
	}
	switch {
	case req.Amount <= 0:
		c.fail("amount", "Please enter a valid amount")
	case ok && req.Amount < method.MinAmount:
		c.fail("amount", fmt.Sprintf("Minimum withdrawal amount is $%g.", method.MinAmount))
	case ok && req.Amount > method.MaxAmount:
		c.fail("amount", fmt.Sprintf("Maximum withdrawal amount is $%g.", method.MaxAmount))
	}
	return c.err()
}

// ValidateDeposit checks a deposit request.
func ValidateDeposit(req DepositRequest) error {
	c := newChecker()
	if req.Amount <= 0 {
		c.fail("amount", "Please enter a valid amount")
	}
	c.required("method", req.Method, "Please select a deposit method")
	return c.err()
}
