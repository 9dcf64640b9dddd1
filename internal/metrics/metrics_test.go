package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/session/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil))
	}

	out := scrape(t)
	want := `socratis_http_requests_total{method="GET",route="/api/session/{sessionID}",status="404"} 3`
	if !strings.Contains(out, want) {
		t.Errorf("missing %q in /metrics output", want)
	}
	if strings.Contains(out, `route="/api/session/a"`) {
		t.Error("session ids must not become label values")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	Evaluations.WithLabelValues("ok").Inc()

	if !strings.Contains(scrape(t), `socratis_evaluations_total{outcome="ok"}`) {
		t.Error("evaluations counter missing from /metrics output")
	}
}
