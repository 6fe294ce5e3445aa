package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/authgate/internal/domain"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a JSON response with the standard envelope.
func JSON(c echo.Context, status int, data any) error {
	return c.JSON(status, Envelope{Data: data})
}

// HTTPErrorHandler is the global error handler for echo.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, apiErr := mapError(err)
	if jsonErr := c.JSON(status, Envelope{Error: &apiErr}); jsonErr != nil {
		slog.Error("failed to send error response", "error", jsonErr)
	}
}

func mapError(err error) (int, APIError) {
	// Handle echo's own HTTP errors (404, 405, etc.)
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, APIError{
			Code:    http.StatusText(echoErr.Code),
			Message: msg,
		}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "The requested resource was not found",
		}
	case errors.Is(err, domain.ErrDuplicateAccount):
		return http.StatusBadRequest, APIError{
			Code:    "duplicate_account",
			Message: "Username or email already registered",
		}
	case errors.Is(err, domain.ErrInvalidCredentials):
		// Deliberately identical for unknown username and wrong password.
		return http.StatusUnauthorized, APIError{
			Code:    "invalid_credentials",
			Message: "Incorrect username or password",
		}
	case errors.Is(err, domain.ErrInvalidState):
		slog.Warn("oauth state rejected", "error", err)
		return http.StatusBadRequest, APIError{
			Code:    "invalid_state",
			Message: "Invalid or expired OAuth state",
		}
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, APIError{
			Code:    "invalid_token",
			Message: "Could not validate credentials",
		}
	case errors.Is(err, domain.ErrAccountNotLinked):
		return http.StatusConflict, APIError{
			Code:    "account_not_linked",
			Message: "An account with this email already exists under a different sign-in method",
		}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, APIError{
			Code:    "store_unavailable",
			Message: "The service is temporarily unavailable",
		}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_input",
			Message: "The request is invalid",
		}
	default:
		var providerErr *domain.ProviderError
		if errors.As(err, &providerErr) {
			if providerErr.Temporary {
				slog.Warn("identity provider unavailable", "provider", providerErr.Provider, "error", err)
				return http.StatusBadGateway, APIError{
					Code:    "provider_unavailable",
					Message: "The identity provider did not respond; try again",
				}
			}
			return http.StatusBadRequest, APIError{
				Code:    "provider_error",
				Message: "The identity provider rejected the request",
			}
		}

		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			return http.StatusBadRequest, APIError{
				Code:    "validation_error",
				Message: "Validation failed",
				Details: []FieldError{
					{Field: validationErr.Field, Message: validationErr.Message},
				},
			}
		}

		slog.Error("unhandled error", "error", err)
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}
