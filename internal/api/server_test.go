package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freeitw/freeitw/internal/catalog"
	"github.com/freeitw/freeitw/internal/lambda"
	"github.com/freeitw/freeitw/internal/sandboxprovider"
)

func newTestServer(t *testing.T) (http.Handler, *catalog.Catalog) {
	t.Helper()
	cat := catalog.New()
	cat.Sandboxs.Set("host", sandboxprovider.Host("host", t.TempDir()))
	return NewServer(cat, nil), cat
}

func TestScenarioBashEcho(t *testing.T) {
	h, cat := newTestServer(t)
	cat.Lambdas.Set("e", &lambda.Lambda{Kind: lambda.KindBash, Script: "echo hi"})

	req := httptest.NewRequest(http.MethodPost, "/lambdas/e/exec?sandbox=host", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hi\n" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestScenarioBashWithArgs(t *testing.T) {
	h, cat := newTestServer(t)
	cat.Lambdas.Set("e", &lambda.Lambda{Kind: lambda.KindBash, Script: "echo $1 $2"})

	req := httptest.NewRequest(http.MethodPost, "/lambdas/e/exec?sandbox=host&args=alpha+beta", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() != "alpha beta\n" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestScenarioStdinPassthrough(t *testing.T) {
	h, cat := newTestServer(t)
	cat.Lambdas.Set("e", &lambda.Lambda{Kind: lambda.KindBash, Script: "cat"})

	req := httptest.NewRequest(http.MethodPost, "/lambdas/e/exec?sandbox=host", strings.NewReader("hello\nworld\n"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "hello\nworld\n") {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestScenarioNotFound(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/lambdas/missing/exec", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRoundTripInsertGetDelete(t *testing.T) {
	h, _ := newTestServer(t)

	insertBody := `{"name":"e","bash":{"script":"echo hi"}}`
	req := httptest.NewRequest(http.MethodPut, "/lambdas", strings.NewReader(insertBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lambdas/e", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"script":"echo hi"`)) {
		t.Fatalf("unexpected get body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/lambdas/e", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lambdas/e", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete status = %d, want 404", rec.Code)
	}
}

func TestInsertRejectsInvalidBashSyntax(t *testing.T) {
	h, _ := newTestServer(t)

	insertBody := `{"name":"bad","bash":{"script":"if then fi fi ("}}`
	req := httptest.NewRequest(http.MethodPut, "/lambdas", strings.NewReader(insertBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestEmptyArgsSplitsToZeroLengthVector(t *testing.T) {
	h, cat := newTestServer(t)
	cat.Lambdas.Set("e", &lambda.Lambda{Kind: lambda.KindBash, Script: "echo $#"})

	req := httptest.NewRequest(http.MethodPost, "/lambdas/e/exec?sandbox=host", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Body.String() != "0\n" {
		t.Fatalf("expected zero args, got: %q", rec.Body.String())
	}
}
