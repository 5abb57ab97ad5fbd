// Package http provides the JSON API of the tutor ledger.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies may be JSON or form-encoded; both decode to the same values.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tutorledger/internal/core"
)

// maxBodyBytes caps request bodies. The largest legitimate payload is a batch
// of month keys.
const maxBodyBytes = 64 << 10

var ErrMalformedBody = errors.New("malformed request body")

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if p.err == nil && len(p.body) > maxBodyBytes {
			p.err = fmt.Errorf("%w: body larger than %d bytes", ErrMalformedBody, maxBodyBytes)
		}
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.jsonData = nil
			p.err = fmt.Errorf("%w: %v", ErrMalformedBody, err)
			return p.err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(trimmed)
	if p.err != nil {
		p.err = fmt.Errorf("%w: %v", ErrMalformedBody, p.err)
	}
	return p.err
}

// Has reports whether key was present in the body, even with an empty value.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		v, ok := p.jsonData[key]
		return ok && v != nil
	}
	if p.formData != nil {
		_, ok := p.formData[key]
		return ok
	}
	return false
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetAll returns every value of key: a JSON array or repeated form fields.
func (p *RequestBodyParser) GetAll(key string) []string {
	if p.jsonData != nil {
		switch v := p.jsonData[key].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, sanitizeInput(stringValue(item)))
			}
			return out
		case nil:
			return nil
		default:
			return []string{sanitizeInput(stringValue(v))}
		}
	}
	if p.formData != nil {
		out := make([]string, 0, len(p.formData[key]))
		for _, v := range p.formData[key] {
			out = append(out, sanitizeInput(v))
		}
		return out
	}
	return nil
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any:
		// {"year": 2024, "month": 5}
		y, _ := val["year"].(float64)
		m, _ := val["month"].(float64)
		if y == 0 && m == 0 {
			return ""
		}
		return fmt.Sprintf("%d-%02d", int(y), int(m))
	default:
		return ""
	}
}

// ParseRecordInput reads date, students_count and price_per_student.
// A missing field is reported before a malformed one.
func ParseRecordInput(p *RequestBodyParser) (core.RecordInput, error) {
	if err := p.Parse(); err != nil {
		return core.RecordInput{}, err
	}

	rawDate := p.Get("date")
	rawStudents := p.Get("students_count")
	rawPrice := p.Get("price_per_student")

	switch {
	case rawDate == "":
		return core.RecordInput{}, core.ErrMissingDate
	case rawStudents == "":
		return core.RecordInput{}, core.ErrMissingStudents
	case rawPrice == "":
		return core.RecordInput{}, core.ErrMissingPrice
	}

	date, err := core.ParseDate(rawDate)
	if err != nil {
		return core.RecordInput{}, err
	}
	students, err := strconv.Atoi(rawStudents)
	if err != nil {
		return core.RecordInput{}, core.ErrInvalidStudents
	}
	if err := core.ValidateStudents(students); err != nil {
		return core.RecordInput{}, err
	}
	price, err := core.ParseMoney(rawPrice)
	if err != nil {
		return core.RecordInput{}, err
	}
	if err := core.ValidatePrice(price); err != nil {
		return core.RecordInput{}, err
	}

	return core.RecordInput{Date: date, StudentsCount: students, PricePerStudent: price}, nil
}

// ParseMonthParams reads year and month from the query. Missing values
// default to the month of now; present but malformed values are errors.
func ParseMonthParams(query url.Values, now time.Time) (core.MonthKey, error) {
	key := core.MonthOf(now)

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return core.MonthKey{}, core.ErrInvalidYear
		}
		key.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return core.MonthKey{}, core.ErrInvalidMonth
		}
		key.Month = m
	}
	if err := key.Validate(); err != nil {
		return core.MonthKey{}, err
	}
	return key, nil
}

// MonthSelection is the parsed body of a batch archive request. Invalid holds
// the raw values that could not be parsed, reported back per value.
type MonthSelection struct {
	Keys    []core.MonthKey
	Invalid map[string]error
}

// ParseMonthSelection reads "months" as "YYYY-MM" strings or {year, month}
// objects.
func ParseMonthSelection(p *RequestBodyParser) (MonthSelection, error) {
	if err := p.Parse(); err != nil {
		return MonthSelection{}, err
	}
	sel := MonthSelection{Invalid: map[string]error{}}
	for _, raw := range p.GetAll("months") {
		if raw == "" {
			continue
		}
		k, err := core.ParseMonthKey(raw)
		if err != nil {
			sel.Invalid[raw] = err
			continue
		}
		sel.Keys = append(sel.Keys, k)
	}
	return sel, nil
}

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *JSONResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}
