package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Error kinds. An *APIError unwraps to exactly one of these.
var (
	// ErrAuthentication is a rejected login.
	ErrAuthentication = errors.New("client: authentication failed")

	// ErrTokenInvalid means the stored token failed validation, or a request
	// replayed after a refresh was rejected again.
	ErrTokenInvalid = errors.New("client: invalid token")

	// ErrSessionExpired means the refresh exchange failed and the session was
	// cleared. Callers should send the user back to login.
	ErrSessionExpired = errors.New("client: session expired")

	// ErrForbidden is HTTP 403.
	ErrForbidden = errors.New("client: forbidden")

	// ErrRateLimited is HTTP 429.
	ErrRateLimited = errors.New("client: rate limited")

	// ErrServer is any HTTP 5xx.
	ErrServer = errors.New("client: server error")

	// ErrRequest is any other non-2xx response.
	ErrRequest = errors.New("client: request failed")
)

// User-facing messages.
const (
	MsgForbidden      = "Forbidden: You do not have permission to perform this action."
	MsgRateLimited    = "Too Many Requests: Please try again later."
	MsgServer         = "Server Error: Please try again later."
	MsgTokenInvalid   = "Invalid token detected. Please log in again."
	MsgNoRefreshToken = "No refresh token available. Please log in again."
	MsgSessionExpired = "Your session has expired. Please log in again."
	MsgAuthFailed     = "Authentication failed"
	MsgDefault        = "An error occurred"
)

// Backend login details and their translations.
const (
	detailNoAccount       = "No active account found with the given credentials"
	detailInvalidPassword = "Invalid password"
	msgEmailNotFound      = "Email not found. Please check your email or sign up."
	msgInvalidPassword    = "Invalid password. Please try again."
)

// APIError is returned for every non-2xx outcome and for locally detected
// auth failures. Status is 0 when no response was involved.
type APIError struct {
	Status  int
	Message string
	Kind    error
	Body    []byte
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RedirectToLogin reports whether err means the session is gone and the user
// must log in again.
func RedirectToLogin(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsAuthError reports whether err is any authentication-related failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrSessionExpired)
}

// ErrorMessage extracts a user-facing message from a backend error body:
// detail, then message, then the joined non_field_errors.
func ErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	result := gjson.ParseBytes(body)
	if detail := result.Get("detail"); detail.Exists() && detail.String() != "" {
		return detail.String()
	}
	if message := result.Get("message"); message.Exists() && message.String() != "" {
		return message.String()
	}
	if nfe := result.Get("non_field_errors"); nfe.IsArray() {
		var parts []string
		for _, item := range nfe.Array() {
			parts = append(parts, item.String())
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return ""
}

// translateLoginDetail maps the backend's login rejection detail to the
// message shown to the user.
func translateLoginDetail(detail string) string {
	switch detail {
	case detailNoAccount:
		return msgEmailNotFound
	case detailInvalidPassword:
		return msgInvalidPassword
	case "":
		return MsgAuthFailed
	default:
		return detail
	}
}

// classify turns a non-2xx response into an *APIError. login selects the
// login-specific 401 translation.
func classify(status int, body []byte, login bool) error {
	if status >= 200 && status < 300 {
		return nil
	}

	e := &APIError{Status: status, Body: body}
	switch {
	case status == http.StatusUnauthorized && login:
		e.Kind = ErrAuthentication
		e.Message = translateLoginDetail(gjson.GetBytes(body, "detail").String())
	case status == http.StatusUnauthorized:
		e.Kind = ErrTokenInvalid
		e.Message = MsgTokenInvalid
	case status == http.StatusForbidden:
		e.Kind = ErrForbidden
		e.Message = MsgForbidden
	case status == http.StatusTooManyRequests:
		e.Kind = ErrRateLimited
		e.Message = MsgRateLimited
	case status >= http.StatusInternalServerError:
		e.Kind = ErrServer
		e.Message = MsgServer
	default:
		e.Kind = ErrRequest
		e.Message = ErrorMessage(body)
		if e.Message == "" {
			e.Message = MsgDefault
		}
	}
	return e
}

func sessionExpired(message string, cause error) error {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Message: message,
		Kind:    ErrSessionExpired,
		Err:     cause,
	}
}

func tokenInvalid(cause error) error {
	return &APIError{
		Message: MsgTokenInvalid,
		Kind:    ErrTokenInvalid,
		Err:     cause,
	}
}

// FieldErrors returns the per-field validation messages of a 400 response,
// e.g. {"email": ["already registered"]}.
func FieldErrors(err error) map[string]string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return nil
	}
	if !gjson.ValidBytes(apiErr.Body) {
		return nil
	}
	fields := make(map[string]string)
	gjson.ParseBytes(apiErr.Body).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "detail" || name == "message" || name == "non_field_errors" {
			return true
		}
		if value.IsArray() {
			var parts []string
			for _, item := range value.Array() {
				parts = append(parts, item.String())
			}
			fields[name] = strings.Join(parts, ", ")
		} else {
			fields[name] = value.String()
		}
		return true
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func wrapTransport(method, path string, err error) error {
	return fmt.Errorf("client: %s %s: %w", method, path, err)
}
