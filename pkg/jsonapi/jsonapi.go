// Package jsonapi writes JSON:API (https://jsonapi.org) response documents
// for the creditgate HTTP surface.
package jsonapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ContentType is the JSON:API media type.
const ContentType = "application/vnd.api+json"

// Meta holds non-standard top-level, resource or error information.
type Meta map[string]any

// Document is a top-level response. Data and Errors are never both set.
type Document struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
	Meta   Meta    `json:"meta,omitempty"`
}

// Resource is a single resource object.
type Resource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Meta       Meta           `json:"meta,omitempty"`
}

func write(w http.ResponseWriter, status int, doc Document) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}

// WriteResource writes a single resource.
func WriteResource(w http.ResponseWriter, status int, r Resource) {
	write(w, status, Document{Data: r})
}

// WriteCollection writes a list of resources. A nil list is written as [].
func WriteCollection(w http.ResponseWriter, status int, resources []Resource, meta Meta) {
	if resources == nil {
		resources = []Resource{}
	}
	write(w, status, Document{Data: resources, Meta: meta})
}

// WriteCreated writes 201 with a Location header pointing at the new resource.
func WriteCreated(w http.ResponseWriter, r Resource, location string) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	WriteResource(w, http.StatusCreated, r)
}

// WriteMeta writes a document carrying only meta, e.g. webhook acknowledgements.
func WriteMeta(w http.ResponseWriter, status int, meta Meta) {
	write(w, status, Document{Meta: meta})
}

// WriteError writes one or more errors. The response status is taken from
// the first error.
func WriteError(w http.ResponseWriter, errs ...Error) {
	if len(errs) == 0 {
		errs = []Error{ErrInternal("")}
	}
	status := errs[0].StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	write(w, status, Document{Errors: errs})
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, ErrBadRequest(detail))
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	WriteError(w, ErrUnauthorized(detail))
}

func WriteNotFound(w http.ResponseWriter, resourceType string) {
	WriteError(w, ErrNotFound(resourceType))
}

func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, ErrConflict(detail))
}

func WriteValidationError(w http.ResponseWriter, field, message string) {
	WriteError(w, ErrValidation(field, message))
}

func WriteInternalError(w http.ResponseWriter, detail string) {
	WriteError(w, ErrInternal(detail))
}

// WriteServiceUnavailable writes 503 with Retry-After in whole seconds (at least 1).
func WriteServiceUnavailable(w http.ResponseWriter, detail string, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteError(w, ErrServiceUnavailable(detail))
}
