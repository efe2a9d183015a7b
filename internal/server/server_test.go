package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iyulab/sigma-cti-triplets/internal/cti"
	"github.com/iyulab/sigma-cti-triplets/internal/reporter"
	"github.com/iyulab/sigma-cti-triplets/internal/server"
	"github.com/iyulab/sigma-cti-triplets/internal/triplet"
)

func testDataset() reporter.Dataset {
	return reporter.NewDataset([]triplet.Triplet{
		{
			EvtxFile: "Execution/a.evtx", Tactic: "Execution", RuleTitle: "PowerShell",
			TechniqueIDs:  []string{"T1059", "T1059.001"},
			CTIReferences: []cti.Reference{{URL: "https://thedfirreport.com/x", Classification: cti.CTI}},
			HasCTILink:    true,
		},
		{EvtxFile: "Execution/b.evtx", Tactic: "Execution", RuleTitle: "Cmd", TechniqueIDs: []string{"T1059"}},
		{EvtxFile: "Discovery/c.evtx", Tactic: "Discovery", RuleTitle: "Net", TechniqueIDs: []string{"T1087"}},
	})
}

func newTestServer(html string) *httptest.Server {
	ds := testDataset()
	summary := reporter.RunSummary{RunID: "run-1"}
	summary.Complete(ds)
	return httptest.NewServer(server.New(summary, ds, html).Handler())
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := server.New(reporter.RunSummary{}, reporter.NewDataset(nil), "")
	addr, err := srv.Start(context.Background(), 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	var body map[string]string
	resp := getJSON(t, "http://"+addr+"/health", &body)
	if resp.StatusCode != 200 || body["status"] != "ok" {
		t.Errorf("status %d, body %v", resp.StatusCode, body)
	}
}

func TestServer_Summary(t *testing.T) {
	ts := newTestServer("")
	defer ts.Close()

	var s reporter.RunSummary
	getJSON(t, ts.URL+"/api/summary", &s)
	if s.RunID != "run-1" || s.Triplets != 3 || s.CTILinked != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestServer_Techniques(t *testing.T) {
	ts := newTestServer("")
	defer ts.Close()

	var ranks []reporter.TechniqueRank
	getJSON(t, ts.URL+"/api/techniques", &ranks)
	if len(ranks) != 3 || ranks[0].ID != "T1059" || ranks[0].Detections != 2 {
		t.Errorf("ranks = %+v", ranks)
	}

	getJSON(t, ts.URL+"/api/techniques?sort=id&top=2", &ranks)
	if len(ranks) != 2 || ranks[0].ID != "T1059" || ranks[1].ID != "T1059.001" {
		t.Errorf("sorted ranks = %+v", ranks)
	}

	resp := getJSON(t, ts.URL+"/api/techniques?top=-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative top, got %d", resp.StatusCode)
	}
}

func TestServer_TripletFilters(t *testing.T) {
	ts := newTestServer("")
	defer ts.Close()

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?technique=T1059", 2},
		{"?technique=t1059.001", 1},
		{"?technique=T1059&cti=true", 1},
		{"?cti=false", 2},
		{"?tactic=discovery", 1},
		{"?limit=1", 1},
		{"?technique=T9999", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []triplet.Triplet
			getJSON(t, ts.URL+"/api/triplets"+tt.query, &got)
			if len(got) != tt.want {
				t.Errorf("got %d triplets, want %d", len(got), tt.want)
			}
		})
	}

	resp := getJSON(t, ts.URL+"/api/triplets?cti=maybe", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad cti filter, got %d", resp.StatusCode)
	}
}

func TestServer_ReportEndpoint(t *testing.T) {
	ts := newTestServer("<html>test report</html>")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test report") {
		t.Errorf("expected report content, got: %s", string(body))
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", resp2.StatusCode)
	}
}

func TestServer_ReportMissing(t *testing.T) {
	ts := newTestServer("")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_CORS(t *testing.T) {
	ts := newTestServer("")
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/summary", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	w, err := reporter.NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	ds := testDataset()
	summary := reporter.RunSummary{RunID: "from-disk"}
	summary.Complete(ds)
	if err := w.WriteAll(ds, summary); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, reporter.ReportFile), []byte("<html>disk</html>"), 0644); err != nil {
		t.Fatal(err)
	}

	srv, err := server.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var s reporter.RunSummary
	getJSON(t, ts.URL+"/api/summary", &s)
	if s.RunID != "from-disk" {
		t.Errorf("RunID = %q", s.RunID)
	}
}

func TestLoad_WithoutSummary(t *testing.T) {
	dir := t.TempDir()
	w, _ := reporter.NewWriter(dir)
	if err := w.WriteJSON(reporter.FullFile, testDataset().Triplets); err != nil {
		t.Fatal(err)
	}
	srv, err := server.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var s reporter.RunSummary
	getJSON(t, ts.URL+"/api/summary", &s)
	if s.Triplets != 3 {
		t.Errorf("Triplets = %d, want 3", s.Triplets)
	}
}

func TestLoad_MissingDataset(t *testing.T) {
	if _, err := server.Load(t.TempDir()); err == nil {
		t.Error("expected error for a directory without triplets_full.json")
	}
}
