package core

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Error classes mirrored to the hub wire shape {error_class, error_message}.
const (
	ErrorClassInvalidAuthorizationType = "InvalidAuthorizationType"
	ErrorClassInvalidAttributeValue    = "InvalidAttributeValue"
	ErrorClassUserNotFound             = "UserNotFound"
	ErrorClassAccountNotFound          = "AccountNotFound"
	ErrorClassTokenNotFound            = "TokenNotFound"
	ErrorClassTokenInactive            = "TokenInactive"
	ErrorClassTokenExpired             = "TokenExpired"
	ErrorClassTokenRevoked             = "TokenRevoked"
	ErrorClassInvalidSignature         = "InvalidSignature"
	ErrorClassUnknownCurrency          = "UnknownCurrency"
	ErrorClassProviderNotFound         = "ProviderNotFound"
	ErrorClassRateLimited              = "RateLimited"
	ErrorClassCallbackDeliveryFailed   = "CallbackDeliveryFailed"
	ErrorClassInternal                 = "InternalError"
)

func NewInvalidAuthorizationTypeError(requested string) *goerrors.Error {
	return connectorError(
		fmt.Sprintf("authorization type %q is not supported by the provider", requested),
		goerrors.CategoryBadInput,
		ErrorClassInvalidAuthorizationType,
	)
}

func NewInvalidAttributeValueError(attribute string) *goerrors.Error {
	return connectorError(
		fmt.Sprintf("invalid value for attribute %q", attribute),
		goerrors.CategoryBadInput,
		ErrorClassInvalidAttributeValue,
	).WithMetadata(map[string]any{"attribute": attribute})
}

func NewUserNotFoundError(userID string) *goerrors.Error {
	return connectorError(
		fmt.Sprintf("user %q not found", userID),
		goerrors.CategoryNotFound,
		ErrorClassUserNotFound,
	)
}

func NewAccountNotFoundError(accountID string) *goerrors.Error {
	return connectorError(
		fmt.Sprintf("account %q not found", accountID),
		goerrors.CategoryNotFound,
		ErrorClassAccountNotFound,
	)
}

func NewTokenNotFoundError() *goerrors.Error {
	return connectorError("token not found", goerrors.CategoryNotFound, ErrorClassTokenNotFound)
}

func NewProviderNotFoundError(code string) *goerrors.Error {
	return connectorError(
		fmt.Sprintf("provider %q is not registered", code),
		goerrors.CategoryNotFound,
		ErrorClassProviderNotFound,
	)
}

// NewTokenInactiveError returns the most specific class for a token that is
// not in CONFIRMED state.
func NewTokenInactiveError(status TokenStatus) *goerrors.Error {
	class := ErrorClassTokenInactive
	switch status {
	case TokenStatusExpired:
		class = ErrorClassTokenExpired
	case TokenStatusRevoked:
		class = ErrorClassTokenRevoked
	}
	return connectorError(
		fmt.Sprintf("token is not active: status is %s", status),
		goerrors.CategoryAuth,
		class,
	)
}

func NewInvalidSignatureError(cause error) *goerrors.Error {
	if cause == nil {
		return connectorError("signature verification failed", goerrors.CategoryAuth, ErrorClassInvalidSignature)
	}
	return goerrors.Wrap(cause, goerrors.CategoryAuth, "signature verification failed").
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorClassInvalidSignature)
}

func NewUnknownCurrencyError(code string) *goerrors.Error {
	return connectorError(
		fmt.Sprintf("no exchange rate for currency %q", code),
		goerrors.CategoryBadInput,
		ErrorClassUnknownCurrency,
	)
}

func NewCallbackDeliveryFailedError(cause error, attempts int) *goerrors.Error {
	return goerrors.Wrap(cause, goerrors.CategoryExternal, fmt.Sprintf("callback delivery failed after %d attempts", attempts)).
		WithTextCode(ErrorClassCallbackDeliveryFailed)
}

func connectorError(message string, category goerrors.Category, class string) *goerrors.Error {
	return ensureErrorEnvelope(goerrors.New(message, category).WithTextCode(class))
}

// ErrorClass extracts the wire error class from any error. Plain errors map
// to InternalError so unexpected faults never leak Go error text as a class.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && strings.TrimSpace(richErr.TextCode) != "" {
		return richErr.TextCode
	}
	return ErrorClassInternal
}

func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && strings.TrimSpace(richErr.Message) != "" {
		return richErr.Message
	}
	return err.Error()
}

func connectorErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = connectorHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = ErrorClassInternal
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func connectorHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
