package diag

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleJSONServesFnResult(t *testing.T) {
	m := New()
	m.HandleJSON("/clients", func() interface{} {
		return map[string]int{"count": 3}
	})

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	rec := httptest.NewRecorder()
	m.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	want := `{"count":3}` + "\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestListRoutesReflectsRegistrations(t *testing.T) {
	m := New()
	m.HandleJSON("/clients", func() interface{} { return nil })
	m.HandleJSON("/nodes", func() interface{} { return nil })

	routes := m.ListRoutes()
	if len(routes) != 2 {
		t.Fatalf("routes = %v, want 2 entries", routes)
	}
}
