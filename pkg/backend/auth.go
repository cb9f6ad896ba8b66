package backend

import (
	"context"
	"errors"
	"net/http"

	"broker-client/pkg/client"
	"broker-client/pkg/session"

	"go.uber.org/zap"
)

// Authentication flow errors.
var (
	// ErrMissingRefreshToken means the backend issued an access token without
	// a refresh token.
	ErrMissingRefreshToken = errors.New("backend: authentication error: missing refresh token")

	// ErrVerificationAuth means OTP verification succeeded but no complete
	// token pair is stored to continue with.
	ErrVerificationAuth = errors.New("backend: authentication error after verification")

	// ErrOTPFailed means verification returned neither tokens nor a message.
	ErrOTPFailed = errors.New("backend: OTP verification failed")

	// ErrNotAuthenticated means the call needs a session and none is stored.
	ErrNotAuthenticated = errors.New("backend: not authenticated")
)

// Paths of the auth endpoints.
const (
	PathLogout                = "/auth/logout/"
	PathSignup                = "/auth/signup/"
	PathSignupVerifyOTP       = "/auth/signup/verify-otp/"
	PathSignupResendOTP       = "/auth/signup/resend-otp/"
	PathForgotPasswordRequest = "/auth/forgot-password/request-forgot-password/"
	PathForgotPasswordVerify  = "/auth/forgot-password/verify-otp/"
	PathForgotPasswordResend  = "/auth/forgot-password/resend-otp/"
	PathForgotPasswordSet     = "/auth/forgot-password/set-new-password/"
	PathPasswordChangeRequest = "/auth/password-change/request-password-change/"
	PathPasswordChangeVerify  = "/auth/password-change/verify-password-change/"
	PathPasswordChangeResend  = "/auth/password-change/resend-otp/"
	PathEmailChangeRequest    = "/auth/profile/request-email-change/"
	PathEmailChangeVerify     = "/auth/profile/verify-email-change/"
	PathEmailChangeResend     = "/auth/profile/resend-email-change-otp/"
	PathProfileChangeRequest  = "/auth/profile/request-profile-change/"
	PathProfileChangeVerify   = "/auth/profile/verify-profile-change/"
)

// Login authenticates and persists the new session.
func (s *Service) Login(ctx context.Context, email, password string) (*session.Session, error) {
	if err := ValidateLogin(email, password); err != nil {
		return nil, err
	}

	var tokens Tokens
	err := s.call(ctx, http.MethodPost, client.PathLogin, nil, map[string]string{
		"email":    email,
		"password": password,
	}, &tokens)
	if err != nil {
		return nil, err
	}
	return s.storeTokens(ctx, tokens, email)
}

func (s *Service) storeTokens(ctx context.Context, tokens Tokens, email string) (*session.Session, error) {
	if tokens.AccessToken == "" {
		return nil, &client.APIError{Status: http.StatusOK, Message: client.MsgAuthFailed, Kind: client.ErrAuthentication}
	}
	if tokens.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	username := tokens.Username
	if username == "" {
		username = email
	}
	sess := session.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Username:     username,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("logged in", session.LogFields(&sess)...)
	return &sess, nil
}

// Logout revokes the refresh token and clears the session. The local session
// is cleared even when the backend call fails.
func (s *Service) Logout(ctx context.Context) error {
	sess, err := s.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if !sess.Authenticated() {
		return nil
	}

	callErr := s.call(ctx, http.MethodPost, PathLogout, nil, map[string]string{
		"refresh_token": sess.RefreshToken,
	}, nil)
	if callErr != nil {
		s.logger.Warn("logout request failed, clearing local session", zap.Error(callErr))
	}
	if err := s.sessions.Clear(ctx); err != nil {
		return errors.Join(callErr, err)
	}
	return callErr
}

// Signup registers an account. The backend answers with a message and mails
// an OTP.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Message, error) {
	if err := ValidateSignup(req); err != nil {
		return nil, err
	}
	return s.message(ctx, PathSignup, req)
}

// VerifySignupOTP confirms a signup. When the backend returns tokens they are
// persisted; when it returns only a message the already-stored pair must be
// complete.
func (s *Service) VerifySignupOTP(ctx context.Context, email, otp string) (*session.Session, error) {
	if err := ValidateOTP(email, otp); err != nil {
		return nil, err
	}

	var tokens Tokens
	if err := s.call(ctx, http.MethodPost, PathSignupVerifyOTP, nil, map[string]string{
		"email": email,
		"otp":   otp,
	}, &tokens); err != nil {
		return nil, err
	}

	switch {
	case tokens.AccessToken != "":
		return s.storeTokens(ctx, tokens, email)
	case tokens.Message != "":
		stored, err := s.sessions.Load(ctx)
		if err != nil {
			return nil, err
		}
		if !stored.Authenticated() || stored.RefreshToken == "" {
			return nil, ErrVerificationAuth
		}
		return stored, nil
	default:
		return nil, ErrOTPFailed
	}
}

// ResendSignupOTP mails a new signup code.
func (s *Service) ResendSignupOTP(ctx context.Context, email string) (*Message, error) {
	return s.emailMessage(ctx, PathSignupResendOTP, email)
}

// RequestPasswordReset starts the forgot-password flow.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*Message, error) {
	return s.emailMessage(ctx, PathForgotPasswordRequest, email)
}

// VerifyPasswordResetOTP checks the forgot-password code.
func (s *Service) VerifyPasswordResetOTP(ctx context.Context, email, otp string) (*Message, error) {
	if err := ValidateOTP(email, otp); err != nil {
		return nil, err
	}
	return s.message(ctx, PathForgotPasswordVerify, map[string]string{"email": email, "otp": otp})
}

// ResendPasswordResetOTP mails a new forgot-password code.
func (s *Service) ResendPasswordResetOTP(ctx context.Context, email string) (*Message, error) {
	return s.emailMessage(ctx, PathForgotPasswordResend, email)
}

// SetNewPassword completes the forgot-password flow.
func (s *Service) SetNewPassword(ctx context.Context, email, otp, password, confirm string) (*Message, error) {
	if err := ValidateNewPassword(password, confirm); err != nil {
		return nil, err
	}
	return s.message(ctx, PathForgotPasswordSet, map[string]string{
		"email":            email,
		"otp":              otp,
		"new_password":     password,
		"confirm_password": confirm,
	})
}

// RequestPasswordChange starts an authenticated password change.
func (s *Service) RequestPasswordChange(ctx context.Context, email string) (*Message, error) {
	return s.emailMessage(ctx, PathPasswordChangeRequest, email)
}

// VerifyPasswordChange completes an authenticated password change.
func (s *Service) VerifyPasswordChange(ctx context.Context, email, otp, password string) (*Message, error) {
	if err := ValidateOTP(email, otp); err != nil {
		return nil, err
	}
	if err := ValidateNewPassword(password, ""); err != nil {
		return nil, err
	}
	return s.message(ctx, PathPasswordChangeVerify, map[string]string{
		"email":        email,
		"otp":          otp,
		"new_password": password,
	})
}

// ResendPasswordChangeOTP mails a new password-change code.
func (s *Service) ResendPasswordChangeOTP(ctx context.Context, email string) (*Message, error) {
	return s.emailMessage(ctx, PathPasswordChangeResend, email)
}

// Profile returns the authenticated user's profile.
func (s *Service) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := s.call(ctx, http.MethodGet, client.PathProfile, nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RequestEmailChange sends an OTP to the new address.
func (s *Service) RequestEmailChange(ctx context.Context, newEmail string) (*Message, error) {
	c := newChecker()
	c.email("new_email", newEmail)
	if err := c.err(); err != nil {
		return nil, err
	}
	return s.message(ctx, PathEmailChangeRequest, map[string]string{"new_email": newEmail})
}

// VerifyEmailChange confirms the new address.
func (s *Service) VerifyEmailChange(ctx context.Context, newEmail, otp string) (*Message, error) {
	if err := ValidateOTP(newEmail, otp); err != nil {
		return nil, err
	}
	return s.message(ctx, PathEmailChangeVerify, map[string]string{"new_email": newEmail, "otp": otp})
}

// ResendEmailChangeOTP mails a new email-change code.
func (s *Service) ResendEmailChangeOTP(ctx context.Context, newEmail string) (*Message, error) {
	return s.message(ctx, PathEmailChangeResend, map[string]string{"new_email": newEmail})
}

// RequestProfileChange submits changed profile fields for OTP confirmation.
func (s *Service) RequestProfileChange(ctx context.Context, changes map[string]string) (*Message, error) {
	if len(changes) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"profile": "No changes to submit"}}
	}
	return s.message(ctx, PathProfileChangeRequest, changes)
}

// VerifyProfileChange confirms a profile change.
func (s *Service) VerifyProfileChange(ctx context.Context, otp string) (*Message, error) {
	c := newChecker()
	c.required("otp", otp, "Please enter the OTP")
	if err := c.err(); err != nil {
		return nil, err
	}
	return s.message(ctx, PathProfileChangeVerify, map[string]string{"otp": otp})
}

func (s *Service) emailMessage(ctx context.Context, path, email string) (*Message, error) {
	c := newChecker()
	c.required("email", email, "Please enter your email address")
	if err := c.err(); err != nil {
		return nil, err
	}
	return s.message(ctx, path, map[string]string{"email": email})
}

func (s *Service) message(ctx context.Context, path string, body interface{}) (*Message, error) {
	var m Message
	if err := s.call(ctx, http.MethodPost, path, nil, body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
