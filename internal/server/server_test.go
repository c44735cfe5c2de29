package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/defs"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/facts"
	"caseline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	lib, err := defs.Default()
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	store := facts.NewStore(conn)
	e := engine.New(conn, config.Default("firm-1"), lib, store)
	e.Now = func() time.Time { return time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC) }

	handler, err := New(Config{
		Engine:     e,
		FactsStore: store,
		BasePath:   "/v0",
		Auth:       AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func createCase(t *testing.T, srv *testServer, id string) domain.CaseState {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", CreateCaseRequest{
		ID:           id,
		ClientName:   "Jane Smith",
		AccidentDate: "2021-01-01",
		AccidentType: "mva",
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var created domain.CaseState
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return created
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
}

func TestCreateCaseAndStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createCase(t, srv, "mva-smith")
	if created.CurrentPhase != "file_setup" {
		t.Fatalf("new case phase %q", created.CurrentPhase)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases/mva-smith/status", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.CaseID != "mva-smith" || status.CurrentPhase != "file_setup" {
		t.Fatalf("status view: %+v", status.StatusView)
	}
	if status.SOL == nil || status.SOL.Deadline != "2023-01-01" {
		t.Fatalf("sol record: %+v", status.SOL)
	}
	if status.Markdown == "" {
		t.Fatalf("markdown rendering missing")
	}
}

func TestImportFactsSyncsCorrections(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createCase(t, srv, "mva-smith")

	snapshot := facts.CaseFacts{
		Overview: facts.Overview{CaseID: "mva-smith"},
		Claims: map[string][]facts.Claim{
			"bi": {{Type: "bi", Insurer: "Acme Mutual", ClaimNumber: "CLM-123"}},
		},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/cases/mva-smith/facts", snapshot, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import facts status %d: %s", res.StatusCode, string(data))
	}
	var sync SyncResponse
	if err := json.Unmarshal(data, &sync); err != nil {
		t.Fatalf("unmarshal sync: %v", err)
	}
	found := false
	for _, c := range sync.Corrections {
		if c.Workflow == "open_bi_claim" && c.NewStatus == domain.StatusComplete {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected open_bi_claim correction, got %+v", sync.Corrections)
	}

	// a second sync is a no-op
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/mva-smith/sync", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &sync); err != nil {
		t.Fatalf("unmarshal sync: %v", err)
	}
	if len(sync.Corrections) != 0 {
		t.Fatalf("expected idempotent sync, got %+v", sync.Corrections)
	}
}

func TestPhaseApproveOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createCase(t, srv, "mva-smith")

	// facts that finish every file_setup workflow and sign the retainer
	snapshot := facts.CaseFacts{
		Overview: facts.Overview{CaseID: "mva-smith"},
		Claims: map[string][]facts.Claim{
			"bi": {{Type: "bi", Insurer: "Acme Mutual", ClaimNumber: "CLM-123", PolicyLimit: 100000}},
			"pd": {{Type: "pd", Insurer: "Acme Mutual", ClaimNumber: "PD-9"}},
		},
		Documents: map[string]facts.Document{
			"retainer": {Name: "retainer", Signed: true, SentAt: "2021-02-01", SignedAt: "2021-02-03"},
		},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/cases/mva-smith/facts", snapshot, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import facts status %d: %s", res.StatusCode, string(data))
	}
	var sync SyncResponse
	if err := json.Unmarshal(data, &sync); err != nil {
		t.Fatalf("unmarshal sync: %v", err)
	}
	if sync.State == nil || sync.State.Suggestion == nil {
		t.Fatalf("expected a phase change suggestion after import")
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/mva-smith/phase/approve", PhaseDecisionRequest{
		Reason: "ready to treat",
	}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var state domain.CaseState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.CurrentPhase != "treatment" {
		t.Fatalf("approval should advance to treatment, got %q", state.CurrentPhase)
	}
	if len(state.History) != 1 || !state.History[0].Approved {
		t.Fatalf("approval not recorded: %+v", state.History)
	}
}

func TestUnassignedActorForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createCase(t, srv, "mva-smith")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases/mva-smith/status", nil, asActor("intruder"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnknownCaseIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createCase(t, srv, "mva-smith")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases/nope/status", nil, asActor("tester"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPendingItemOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createCase(t, srv, "mva-smith")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/mva-smith/pending", AddPendingItemRequest{
		Description: "obtain police report",
		Blocking:    true,
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add pending status %d: %s", res.StatusCode, string(data))
	}
	var item domain.PendingItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.ID == "" || item.Owner != "user" {
		t.Fatalf("pending item: %+v", item)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/mva-smith/pending/"+item.ID+"/resolve", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(data))
	}
}
