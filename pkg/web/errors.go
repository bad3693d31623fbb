package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents a user-friendly error response
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	StatusCode int    `json:"-"`
}

// Error codes for categorization
const (
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeGenerationFailed = "GENERATION_FAILED"
	ErrCodeSpawnFailure     = "SPAWN_FAILURE"
	ErrCodeLLMError         = "LLM_ERROR"
	ErrCodeLLMNotConfigured = "LLM_NOT_CONFIGURED"
	ErrCodeDatabaseError    = "DATABASE_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// Common error messages with user-friendly suggestions
var errorMessages = map[string]struct {
	Message    string
	Suggestion string
}{
	ErrCodeInternalError: {
		Message:    "An internal error occurred",
		Suggestion: "Please try again. If the problem persists, check the server logs or contact support.",
	},
	ErrCodeUnauthorized: {
		Message:    "Authentication required",
		Suggestion: "Send a Google Cloud access token as a bearer token in the Authorization header.",
	},
	ErrCodeForbidden: {
		Message:    "Access denied",
		Suggestion: "You don't have permission to perform this action. Contact your administrator for access.",
	},
	ErrCodeNotFound: {
		Message:    "Resource not found",
		Suggestion: "The requested resource doesn't exist or may have been deleted.",
	},
	ErrCodePolicyDenied: {
		Message:    "The requested operation is blocked by policy",
		Suggestion: "Ask an administrator to adjust the command allowlist or denylist if you believe this is a mistake.",
	},
	ErrCodeGenerationFailed: {
		Message:    "Could not produce a valid command for this request",
		Suggestion: "Try rephrasing your request, or name the tool and resources explicitly.",
	},
	ErrCodeSpawnFailure: {
		Message:    "The cloud CLI could not be started",
		Suggestion: "Check that the Google Cloud SDK is installed on the server and on its PATH.",
	},
	ErrCodeLLMNotConfigured: {
		Message:    "The language model is not configured",
		Suggestion: "Set an LLM provider and API key in the configuration file or CLOUDNAV_LLM_* environment variables.",
	},
	ErrCodeTimeout: {
		Message:    "Request timed out",
		Suggestion: "The operation took too long. Try again with a smaller scope or check your network connection.",
	},
	ErrCodeRateLimited: {
		Message:    "Rate limit exceeded",
		Suggestion: "You've made too many requests. Please wait a moment before trying again.",
	},
}

// NewAPIError creates a new API error with a user-friendly message
func NewAPIError(code string, detail string) *APIError {
	info := errorMessages[code]
	if info.Message == "" {
		info = errorMessages[ErrCodeInternalError]
	}

	return &APIError{
		Code:       code,
		Message:    info.Message,
		Detail:     detail,
		Suggestion: info.Suggestion,
		StatusCode: getStatusCodeForError(code),
	}
}

// NewAPIErrorWithSuggestion creates a new API error with a custom suggestion
func NewAPIErrorWithSuggestion(code, detail, suggestion string) *APIError {
	err := NewAPIError(code, detail)
	if suggestion != "" {
		err.Suggestion = suggestion
	}
	return err
}

func getStatusCodeForError(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodePolicyDenied:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeLLMNotConfigured:
		return http.StatusServiceUnavailable
	case ErrCodeLLMError, ErrCodeDatabaseError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes an API error to the response
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(err)
}

// WriteErrorSimple writes a simple error message with the given status code
func WriteErrorSimple(w http.ResponseWriter, statusCode int, message string) {
	code := ErrCodeInternalError
	switch statusCode {
	case http.StatusBadRequest:
		code = ErrCodeBadRequest
	case http.StatusUnauthorized:
		code = ErrCodeUnauthorized
	case http.StatusForbidden:
		code = ErrCodeForbidden
	case http.StatusNotFound:
		code = ErrCodeNotFound
	}

	err := NewAPIError(code, message)
	err.StatusCode = statusCode
	WriteError(w, err)
}

// ParseLLMError converts LLM errors to user-friendly messages
func ParseLLMError(err error, provider string) *APIError {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "invalid api key"):
		return NewAPIErrorWithSuggestion(ErrCodeLLMError, errStr,
			fmt.Sprintf("The %s API key appears to be invalid. Check the llm.api_key setting.", provider))
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit"):
		return NewAPIErrorWithSuggestion(ErrCodeRateLimited, errStr,
			"The LLM API rate limit was exceeded. Wait a moment or upgrade the API plan.")
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return NewAPIErrorWithSuggestion(ErrCodeLLMError, errStr,
			fmt.Sprintf("Cannot connect to %s. Check the endpoint URL and network connection.", provider))
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return NewAPIErrorWithSuggestion(ErrCodeTimeout, errStr,
			"The LLM request timed out. Try again or check the network.")
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return NewAPIErrorWithSuggestion(ErrCodeLLMError, errStr,
			"The configured model was not found. Check the llm.model setting.")
	default:
		return NewAPIError(ErrCodeLLMError, errStr)
	}
}

// BadRequest writes a 400 Bad Request error response
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeBadRequest, message))
}

// Unauthorized writes a 401 Unauthorized error response
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeUnauthorized, message))
}

// NotFound writes a 404 Not Found error response
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeNotFound, message))
}

// LLMError writes an error response for LLM API errors
func LLMError(w http.ResponseWriter, err error, provider string) {
	WriteError(w, ParseLLMError(err, provider))
}

// MethodNotAllowed writes a 405 Method Not Allowed response
func MethodNotAllowed(w http.ResponseWriter, allowedMethods ...string) {
	if len(allowedMethods) > 0 {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	}
	WriteErrorSimple(w, http.StatusMethodNotAllowed, "Method not allowed")
}
