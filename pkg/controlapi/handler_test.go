package controlapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/haloworks/fleetctl/internal/config"
)

func testHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(nil, nil, nil, nil, 0, config.GlobalSchedule{}, logger)
}

func TestHandleStart_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing app_name", `{}`, http.StatusUnprocessableEntity},
		{"invalid JSON", `{bad}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	h := testHandler()
	router := chi.NewRouter()
	router.Mount("/", h.Routes())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestHandleStop_Validation(t *testing.T) {
	h := testHandler()
	router := chi.NewRouter()
	router.Mount("/", h.Routes())

	r := httptest.NewRequest(http.MethodPost, "/stop", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestHandleDBStart_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing fields", `{}`, http.StatusUnprocessableEntity},
		{"invalid type", `{"app":"shop","type":"mysql"}`, http.StatusUnprocessableEntity},
		{"missing app", `{"type":"postgres"}`, http.StatusUnprocessableEntity},
	}

	h := testHandler()
	router := chi.NewRouter()
	router.Mount("/", h.Routes())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/db/start", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestHandleDBStop_Validation(t *testing.T) {
	h := testHandler()
	router := chi.NewRouter()
	router.Mount("/", h.Routes())

	r := httptest.NewRequest(http.MethodPost, "/db/stop", strings.NewReader(`{"app":"shop","type":"mongo"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
}

func TestHandleQuickStatus_MissingAppParam(t *testing.T) {
	h := testHandler()
	router := chi.NewRouter()
	router.Mount("/", h.Routes())

	r := httptest.NewRequest(http.MethodGet, "/status/quick", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestRoutes_MountsEveryEndpoint(t *testing.T) {
	h := testHandler()
	router := h.Routes()

	want := map[string]bool{
		"GET /apps":                         false,
		"GET /apps/{name}":                  false,
		"GET /apps/{name}/schedule":         false,
		"POST /apps/{name}/schedule/enable": false,
		"GET /apps/{name}/cost":             false,
		"POST /start":                       false,
		"POST /stop":                        false,
		"POST /db/start":                    false,
		"POST /db/stop":                     false,
		"GET /status/quick":                 false,
	}

	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		want[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk: %v", err)
	}

	for route, found := range want {
		if !found {
			t.Errorf("route %q is not mounted", route)
		}
	}
}
