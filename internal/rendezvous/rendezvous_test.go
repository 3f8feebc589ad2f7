package rendezvous

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct{ active map[string]bool }

func (f fakeChecker) PairKeyActive(key string) bool { return f.active[key] }

func TestStatusReportsActiveKey(t *testing.T) {
	mux := http.NewServeMux()
	Routes(mux, fakeChecker{active: map[string]bool{"123456": true}})

	req := httptest.NewRequest(http.MethodGet, "/rendezvous/status?pairKey=123456", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active"] != true {
		t.Fatalf("expected active=true, got %v", body)
	}
}

func TestStatusReportsInactiveKey(t *testing.T) {
	mux := http.NewServeMux()
	Routes(mux, fakeChecker{active: map[string]bool{}})

	req := httptest.NewRequest(http.MethodGet, "/rendezvous/status?pairKey=999999", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["active"] != false {
		t.Fatalf("expected active=false, got %v", body)
	}
}

func TestStatusRequiresPairKeyParam(t *testing.T) {
	mux := http.NewServeMux()
	Routes(mux, fakeChecker{})

	req := httptest.NewRequest(http.MethodGet, "/rendezvous/status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing pairKey, got %d", w.Code)
	}
}

func TestStatusRejectsNonGet(t *testing.T) {
	mux := http.NewServeMux()
	Routes(mux, fakeChecker{})

	req := httptest.NewRequest(http.MethodPost, "/rendezvous/status?pairKey=1", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
