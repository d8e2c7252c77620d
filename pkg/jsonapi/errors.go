package jsonapi

import (
	"fmt"
	"net/http"
	"strconv"
)

// Error is a JSON:API error object.
type Error struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
	Meta   Meta         `json:"meta,omitempty"`
}

// ErrorSource points at the part of the request that caused an error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
	Header    string `json:"header,omitempty"`
}

// StatusCode returns Status as an int, or 0 if it is not numeric.
func (e Error) StatusCode() int {
	code, _ := strconv.Atoi(e.Status)
	return code
}

// ErrorBuilder assembles an Error.
type ErrorBuilder struct {
	e Error
}

// NewError starts an error with an HTTP status, a stable machine code and a title.
func NewError(status int, code, title string) *ErrorBuilder {
	return &ErrorBuilder{e: Error{Status: strconv.Itoa(status), Code: code, Title: title}}
}

func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.e.Detail = detail
	return b
}

func (b *ErrorBuilder) source() *ErrorSource {
	if b.e.Source == nil {
		b.e.Source = &ErrorSource{}
	}
	return b.e.Source
}

// Pointer names the offending request body member.
func (b *ErrorBuilder) Pointer(pointer string) *ErrorBuilder {
	b.source().Pointer = pointer
	return b
}

// Parameter names the offending query parameter.
func (b *ErrorBuilder) Parameter(param string) *ErrorBuilder {
	b.source().Parameter = param
	return b
}

// Header names the offending request header.
func (b *ErrorBuilder) Header(header string) *ErrorBuilder {
	b.source().Header = header
	return b
}

func (b *ErrorBuilder) Meta(key string, value any) *ErrorBuilder {
	if b.e.Meta == nil {
		b.e.Meta = Meta{}
	}
	b.e.Meta[key] = value
	return b
}

func (b *ErrorBuilder) Build() Error {
	return b.e
}

// errorCodes maps statuses to their machine code. Titles come from net/http.
var errorCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusPaymentRequired:     "insufficient_credits",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation_error",
	http.StatusInternalServerError: "internal_error",
	http.StatusNotImplemented:      "not_implemented",
	http.StatusBadGateway:          "bad_gateway",
	http.StatusServiceUnavailable:  "service_unavailable",
}

func newStatusError(status int, detail, fallback string) *ErrorBuilder {
	if detail == "" {
		detail = fallback
	}
	return NewError(status, errorCodes[status], http.StatusText(status)).Detail(detail)
}

func ErrBadRequest(detail string) Error {
	return newStatusError(http.StatusBadRequest, detail, "Malformed request").Build()
}

func ErrUnauthorized(detail string) Error {
	return newStatusError(http.StatusUnauthorized, detail, "Authentication required").Build()
}

// ErrInsufficientCredits is the 402 returned for a declined deduction.
// The cost and remaining balance are carried in meta.
func ErrInsufficientCredits(required, remaining int64) Error {
	detail := fmt.Sprintf("This request costs %d credits; %d remaining", required, remaining)
	return newStatusError(http.StatusPaymentRequired, detail, "").
		Meta("required", required).
		Meta("remaining", remaining).
		Build()
}

func ErrNotFound(resourceType string) Error {
	return newStatusError(http.StatusNotFound, fmt.Sprintf("The requested %s was not found", resourceType), "").Build()
}

func ErrConflict(detail string) Error {
	return newStatusError(http.StatusConflict, detail, "Conflicting state").Build()
}

// ErrValidation reports an invalid request body attribute.
func ErrValidation(field, message string) Error {
	return newStatusError(http.StatusUnprocessableEntity, message, "Invalid value").
		Pointer("/data/attributes/" + field).
		Build()
}

func ErrValidationRequired(field string) Error {
	return ErrValidation(field, field+" is required")
}

func ErrInternal(detail string) Error {
	return newStatusError(http.StatusInternalServerError, detail, "An internal error occurred").Build()
}

func ErrNotImplemented(feature string) Error {
	return newStatusError(http.StatusNotImplemented, feature+" is not implemented", "").Build()
}

// ErrBadGateway reports a payment provider failure.
func ErrBadGateway(detail string) Error {
	return newStatusError(http.StatusBadGateway, detail, "Payment provider error").Build()
}

func ErrServiceUnavailable(detail string) Error {
	return newStatusError(http.StatusServiceUnavailable, detail, "Service temporarily unavailable").Build()
}
