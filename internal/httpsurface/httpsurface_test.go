package httpsurface

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingPipeline struct {
	called bool
}

func (r *recordingPipeline) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.called = true
	w.WriteHeader(http.StatusOK)
}

func TestHealthCheck_NeverDelegatesToPipeline(t *testing.T) {
	pipeline := &recordingPipeline{}
	handler := New(pipeline)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", body)
	}
	if pipeline.called {
		t.Error("expected /health not to reach the pipeline")
	}
}

func TestCatchAll_DelegatesToPipeline(t *testing.T) {
	pipeline := &recordingPipeline{}
	handler := New(pipeline)

	req := httptest.NewRequest(http.MethodPost, "/responses", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !pipeline.called {
		t.Error("expected catch-all route to delegate to the pipeline")
	}
}
