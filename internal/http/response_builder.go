// Package http provides the JSON API of the tutor ledger.
//
// This file implements the builder used for every API response: a JSON
// envelope with optional data, error and user notification.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// NotificationType represents the type of notification to display.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
)

// Notification durations in milliseconds.
const (
	durationShort = 3000
	durationLong  = 5000
	durationStick = 8000
)

type Notification struct {
	Type     NotificationType `json:"type"`
	Message  string           `json:"message"`
	Duration int              `json:"duration"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data         any           `json:"data,omitempty"`
	Error        *APIError     `json:"error,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// JSONResponseBuilder provides a fluent API for building API responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       envelope
	empty      bool
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Data sets the payload.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.body.Data = v
	return b
}

// Error sets a machine-readable code and a user-facing message.
func (b *JSONResponseBuilder) Error(code, message string) *JSONResponseBuilder {
	b.body.Error = &APIError{Code: code, Message: message}
	return b
}

// Notify attaches a notification for the UI to display.
func (b *JSONResponseBuilder) Notify(t NotificationType, message string, durationMs int) *JSONResponseBuilder {
	b.body.Notification = &Notification{Type: t, Message: message, Duration: durationMs}
	return b
}

func (b *JSONResponseBuilder) Success(message string) *JSONResponseBuilder {
	return b.Notify(NotificationSuccess, message, durationShort)
}

func (b *JSONResponseBuilder) Failure(message string) *JSONResponseBuilder {
	return b.Notify(NotificationError, message, durationLong)
}

func (b *JSONResponseBuilder) Warning(message string) *JSONResponseBuilder {
	return b.Notify(NotificationWarning, message, durationStick)
}

func (b *JSONResponseBuilder) Info(message string) *JSONResponseBuilder {
	return b.Notify(NotificationInfo, message, durationShort)
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// NoBody sends only the status line and headers.
func (b *JSONResponseBuilder) NoBody() *JSONResponseBuilder {
	b.empty = true
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.empty {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal","message":"internal error"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

// ErrorResponse creates an error response that also carries an error notification.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Error(code, message).
		Failure(message)
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

// UnprocessableEntityError creates a 422 Unprocessable Entity error response.
func UnprocessableEntityError(code, message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, code, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "persistence", message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

// UnauthorizedError creates a 401 response.
func UnauthorizedError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, "auth_required", message).
		Header("WWW-Authenticate", `Bearer realm="tutorledger"`)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed").
		Header("Allow", allowedMethods)
}
