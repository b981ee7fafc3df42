package auth

import "errors"

var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrTooManyAttempts         = errors.New("too many failed login attempts")
	ErrAccountBlocked          = errors.New("account blocked")
	ErrAccountDisabled         = errors.New("account disabled")
	ErrInvalidToken            = errors.New("invalid or expired token")
	ErrTokenNotFound           = errors.New("refresh token not found")
	ErrTwoFactorNotConfigured  = errors.New("two-factor authentication not configured")
	ErrInvalidTwoFactorCode    = errors.New("invalid two-factor code")
	ErrEmailTaken              = errors.New("email already registered")
	ErrUserNotFound            = errors.New("user not found")
	ErrUserAlreadyExists       = errors.New("a user with this email already exists")
	ErrCurrentPasswordMismatch = errors.New("current password is incorrect")
	ErrInvalidOrExpiredToken   = errors.New("invalid or expired reset token")
	ErrForbidden               = errors.New("forbidden")

	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteAlreadyUsed   = errors.New("invite already used")
	ErrInviteEmailMismatch = errors.New("invite email does not match")
	ErrInviteExpired       = errors.New("invite expired")
)

// isInviteError reports whether err is one of the invite rejections, which
// are collapsed into a single response.
func isInviteError(err error) bool {
	return errors.Is(err, ErrInviteNotFound) ||
		errors.Is(err, ErrInviteAlreadyUsed) ||
		errors.Is(err, ErrInviteEmailMismatch) ||
		errors.Is(err, ErrInviteExpired)
}
