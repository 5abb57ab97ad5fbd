package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tutorledger/internal/core"
)

func parserFor(body, contentType string) *RequestBodyParser {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return NewRequestBodyParser(req)
}

func TestRequestBodyParser(t *testing.T) {
	p := parserFor(`{"name":" Ann\u0007 ","n":3,"ok":true,"list":["a","b"]}`, "application/json")
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.IsJSON() {
		t.Fatal("expected JSON")
	}
	if p.Get("name") != "Ann" || p.Get("n") != "3" || p.Get("ok") != "true" || p.Get("missing") != "" {
		t.Fatalf("unexpected values %q %q %q", p.Get("name"), p.Get("n"), p.Get("ok"))
	}
	if got := p.GetAll("list"); len(got) != 2 || got[1] != "b" {
		t.Fatalf("GetAll = %v", got)
	}
	if !p.Has("n") || p.Has("missing") {
		t.Fatal("Has mismatch")
	}

	p = parserFor("a=1&list=x&list=y", "application/x-www-form-urlencoded")
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse form: %v", err)
	}
	if p.IsJSON() || p.Get("a") != "1" || len(p.GetAll("list")) != 2 {
		t.Fatal("unexpected form parse")
	}

	p = parserFor("", "")
	if err := p.Parse(); err != nil || p.Get("a") != "" {
		t.Fatalf("empty body: %v", err)
	}

	p = parserFor(`{"a":`, "application/json")
	if err := p.Parse(); !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("expected ErrMalformedBody, got %v", err)
	}
	// cached result
	if err := p.Parse(); !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("second Parse: %v", err)
	}

	p = parserFor(strings.Repeat("a", maxBodyBytes+10), "")
	if err := p.Parse(); !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("oversized body: %v", err)
	}
}

func TestParseRecordInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want core.RecordInput
		err  error
	}{
		{"json", `{"date":"2024-05-20","students_count":15,"price_per_student":"15.00"}`,
			core.RecordInput{Date: core.NewDate(2024, 5, 20), StudentsCount: 15, PricePerStudent: core.Money{Cents: 1500}}, nil},
		{"numeric price", `{"date":"2024-05-20","students_count":"3","price_per_student":12.345}`,
			core.RecordInput{Date: core.NewDate(2024, 5, 20), StudentsCount: 3, PricePerStudent: core.Money{Cents: 1235}}, nil},
		{"form zero values", "date=2024-05-20&students_count=0&price_per_student=0",
			core.RecordInput{Date: core.NewDate(2024, 5, 20)}, nil},
		{"at bounds", `{"date":"2024-05-20","students_count":100000,"price_per_student":"1000000"}`,
			core.RecordInput{Date: core.NewDate(2024, 5, 20), StudentsCount: 100000, PricePerStudent: core.Money{Cents: 100000000}}, nil},
		{"missing everything", `{}`, core.RecordInput{}, core.ErrMissingDate},
		{"missing students", `{"date":"2024-05-20","price_per_student":"1"}`, core.RecordInput{}, core.ErrMissingStudents},
		{"missing price", `{"date":"2024-05-20","students_count":1}`, core.RecordInput{}, core.ErrMissingPrice},
		{"bad date", `{"date":"20/05/2024","students_count":1,"price_per_student":"1"}`, core.RecordInput{}, core.ErrInvalidDay},
		{"bad students", `{"date":"2024-05-20","students_count":"many","price_per_student":"1"}`, core.RecordInput{}, core.ErrInvalidStudents},
		{"bad price", `{"date":"2024-05-20","students_count":1,"price_per_student":"1e3"}`, core.RecordInput{}, core.ErrInvalidPrice},
		{"huge students", `{"date":"2024-05-01","students_count":"10000000000000000","price_per_student":"1000000"}`, core.RecordInput{}, core.ErrInvalidStudents},
		{"students over max", `{"date":"2024-05-01","students_count":100001,"price_per_student":"1"}`, core.RecordInput{}, core.ErrInvalidStudents},
		{"price over max", `{"date":"2024-05-01","students_count":1,"price_per_student":"1000000.01"}`, core.RecordInput{}, core.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecordInput(parserFor(tt.body, ""))
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("error = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !got.Date.Equal(tt.want.Date.Time) || got.StudentsCount != tt.want.StudentsCount || got.PricePerStudent != tt.want.PricePerStudent {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMonthParams(t *testing.T) {
	now := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		query string
		want  core.MonthKey
		err   error
	}{
		{"", core.MonthKey{Year: 2024, Month: 5}, nil},
		{"year=2023", core.MonthKey{Year: 2023, Month: 5}, nil},
		{"year=2023&month=12", core.MonthKey{Year: 2023, Month: 12}, nil},
		{"month=0", core.MonthKey{}, core.ErrInvalidMonth},
		{"month=may", core.MonthKey{}, core.ErrInvalidMonth},
		{"year=-1", core.MonthKey{}, core.ErrInvalidYear},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		got, err := ParseMonthParams(q, now)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("%q: error = %v, want %v", tt.query, err, tt.err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %v, %v", tt.query, got, err)
		}
	}
}

func TestParseMonthSelection(t *testing.T) {
	sel, err := ParseMonthSelection(parserFor(`{"months":["2024-05",{"year":2024,"month":4},"bogus",""]}`, ""))
	if err != nil {
		t.Fatalf("ParseMonthSelection: %v", err)
	}
	if len(sel.Keys) != 2 || sel.Keys[0] != (core.MonthKey{Year: 2024, Month: 5}) || sel.Keys[1] != (core.MonthKey{Year: 2024, Month: 4}) {
		t.Fatalf("keys = %v", sel.Keys)
	}
	if _, ok := sel.Invalid["bogus"]; !ok || len(sel.Invalid) != 1 {
		t.Fatalf("invalid = %v", sel.Invalid)
	}

	sel, err = ParseMonthSelection(parserFor("months=2024-01&months=2023-12", ""))
	if err != nil || len(sel.Keys) != 2 {
		t.Fatalf("form selection = %+v, %v", sel, err)
	}
}

func TestRequireMethod(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if RequireMethod(req, http.MethodGet, http.MethodHead) != nil {
		t.Fatal("GET should be allowed")
	}
	if RequireMethod(req, http.MethodPost) == nil {
		t.Fatal("GET should be refused for POST-only")
	}
}
