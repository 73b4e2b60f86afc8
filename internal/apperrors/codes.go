package apperrors

const (
	CodeEmailAlreadyInUse    = "auth/email-already-in-use"
	CodeInvalidEmail         = "auth/invalid-email"
	CodeWeakPassword         = "auth/weak-password"
	CodeUserNotFound         = "auth/user-not-found"
	CodeWrongPassword        = "auth/wrong-password"
	CodeInvalidCredential    = "auth/invalid-credential"
	CodeExpiredActionCode    = "auth/expired-action-code"
	CodeInvalidActionCode    = "auth/invalid-action-code"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeSessionRevoked       = "auth/session-revoked"
	CodeInvalidToken         = "auth/invalid-token"
)

var reasons = map[string]string{
	CodeEmailAlreadyInUse:    "An account with this email already exists.",
	CodeInvalidEmail:         "Please enter a valid email address.",
	CodeWeakPassword:         "Password should be at least 6 characters long.",
	CodeUserNotFound:         "No account found with this email address.",
	CodeWrongPassword:        "Failed to log in. Please check your credentials.",
	CodeInvalidCredential:    "Failed to log in. Please check your credentials.",
	CodeExpiredActionCode:    "The password reset link has expired. Please request a new one.",
	CodeInvalidActionCode:    "Invalid password reset link. Please request a new one.",
	CodeTooManyRequests:      "Too many requests. Please try again later.",
	CodeNetworkRequestFailed: "Network error. Please check your internet connection.",
	CodeSessionRevoked:       "Your session has ended. Please log in again.",
	CodeInvalidToken:         "Your session is invalid. Please log in again.",
}

// Reason maps a provider code to the string shown to the user.
func Reason(code string) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return "An unexpected error occurred."
}
