package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jleechan/codexplusd/internal/metrics"
	"github.com/jleechan/codexplusd/internal/reqlog"
)

type fakeIndex struct {
	records []reqlog.Record
}

func (f *fakeIndex) Query(params reqlog.QueryParams) ([]reqlog.Record, error) {
	return f.records, nil
}

func TestHandleAPIRequests_ReturnsRecords(t *testing.T) {
	idx := &fakeIndex{records: []reqlog.Record{{ID: 1, Branch: "main", Path: "/responses"}}}
	d := New(Options{Index: idx, Metrics: metrics.New(metrics.Thresholds{})})

	req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var records []reqlog.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Branch != "main" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestHandleAPIMetrics_ReturnsSummary(t *testing.T) {
	sink := metrics.New(metrics.Thresholds{CoordinationMaxMs: 200})
	sink.RecordSuccess(metrics.KindCoordinationOverhead, 50, true)
	d := New(Options{Metrics: sink})

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	d.APIHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServeHTTP_ServesHTML(t *testing.T) {
	d := New(Options{Metrics: metrics.New(metrics.Thresholds{})})
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}
}
