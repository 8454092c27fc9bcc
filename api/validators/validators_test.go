package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
)

type sampleBody struct {
	Title  string `json:"title" validate:"required,max=10"`
	BeatID string `json:"beatId" validate:"required,uuid"`
	Choice string `json:"choice" validate:"omitempty,oneof=CHALLENGER OPPONENT"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"","beatId":"nope","choice":"BOTH"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", pkgerrors.As(err).Details())
	}
	if details["title"] != "is required" || details["beatId"] != "must be a valid uuid" {
		t.Fatalf("unexpected details %v", details)
	}
	if !strings.HasPrefix(details["choice"], "must be one of") {
		t.Fatalf("unexpected choice detail %q", details["choice"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","beatId":"`+uuid.NewString()+`","extra":1}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":    ``,
		"trailing": `{"title":"x","beatId":"` + uuid.NewString() + `"} {}`,
		"syntax":   `{"title":`,
		"type":     `{"title":7,"beatId":"` + uuid.NewString() + `"}`,
		"oversize": `{"title":"` + strings.Repeat("x", MaxBodyBytes) + `"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
			var body sampleBody
			if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=abc", nil)
	if _, err := ParseQueryInt(req, "limit", 10, 1, 100); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := ParseQueryInt(req, "offset", 0, 0, 1000); err == nil {
		t.Fatalf("expected numeric error")
	}
	value, err := ParseQueryInt(req, "missing", 25, 1, 100)
	if err != nil || value != 25 {
		t.Fatalf("expected default 25, got %d err=%v", value, err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", id.String())
	got, err := ParseUUIDParam(req, "id")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s err=%v", id, got, err)
	}

	req = withParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", "bad")
	if _, err := ParseUUIDParam(req, "id"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryTime(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?asOf=2026-01-02T03:04:05%2B02:00", nil)
	got, err := ParseQueryTime(req, "asOf")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Hour() != 1 || got.Location().String() != "UTC" {
		t.Fatalf("expected UTC normalisation, got %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?asOf=yesterday", nil)
	if _, err := ParseQueryTime(req, "asOf"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  beat   battle\tfinal  ", 0, "beat battle final"},
		{"hello world", 5, "hello"},
		{"hello world", 6, "hello"},
		{"ñandú ñandú", 5, "ñandú"},
	}
	for _, tc := range cases {
		if got := CleanText(tc.in, tc.max); got != tc.want {
			t.Fatalf("CleanText(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func withParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}
