package briefauth

// User-facing messages. The set is closed: every error surfaced by the
// validator, the mapper, or the submission layer is one of these or the
// dynamic wait message built by waitMessage.
const (
	MsgRequiredField          = "This field is required."
	MsgInvalidEmail           = "Please enter a valid email address."
	MsgPasswordTooShort       = "Password must be at least 8 characters long."
	MsgPasswordsDontMatch     = "Passwords do not match."
	MsgNameTooLong            = "Name must be 50 characters or less."
	MsgEmailTooLong           = "Email address is too long."
	MsgInvalidUsername        = "Username must be at least 3 characters and can only contain letters, numbers, and underscores."
	MsgEmailNotConfirmed      = "Please check your email and confirm your account before signing in."
	MsgInvalidCredentials     = "Invalid email or verification code. Please try again."
	MsgUserNotFound           = "No account found with this email. Please sign up first."
	MsgUserAlreadyExists      = "An account with this email already exists."
	MsgEmailAlreadyRegistered = "This email is already registered. Please sign in instead."
	MsgInvalidOTP             = "Invalid verification code. Please check the code and try again."
	MsgExpiredOTP             = "This verification code has expired. Please request a new one."
	MsgTooManyRequests        = "Too many attempts. Please wait a moment before trying again."
	MsgNetworkError           = "Network error. Please check your connection and try again."
	MsgServiceUnavailable     = "The service is temporarily unavailable. Please try again later."
	MsgAuthServiceUnavailable = "Authentication service is not available right now. Please try again later."
	MsgUnexpectedError        = "An unexpected error occurred. Please try again."
	MsgSignupFailed           = "We couldn't create your account. Please try again."
	MsgSigninFailed           = "We couldn't sign you in. Please try again."
	MsgOTPSendFailed          = "We couldn't send the verification code. Please try again."
	MsgOTPVerifyFailed        = "We couldn't verify the code. Please try again."
)

// Success messages set by the submission layer.
const (
	MsgOTPSent     = "Verification code sent! Check your email."
	MsgOTPVerified = "You're in! Welcome to The Bullish Brief."
)
