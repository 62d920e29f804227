package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hnguyen/pitchside/internal/autoverify"
	"github.com/hnguyen/pitchside/internal/database"
	"github.com/hnguyen/pitchside/internal/gemini"
	"github.com/hnguyen/pitchside/internal/metrics"
	"github.com/hnguyen/pitchside/internal/models"
	"github.com/hnguyen/pitchside/internal/notifications"
	"github.com/hnguyen/pitchside/internal/picks"
	"github.com/hnguyen/pitchside/internal/service"
	"github.com/hnguyen/pitchside/internal/websocket"
)

type fakeOracle struct {
	match  models.Match
	result models.PredictionResult
	verify models.VerificationResult
}

func (f *fakeOracle) FetchMatches() ([]models.Match, error) {
	return []models.Match{f.match}, nil
}

func (f *fakeOracle) ExtractFromText(text string) (*models.Match, error) {
	m := f.match
	return &m, nil
}

func (f *fakeOracle) ExtractFromImages(images []string) (*gemini.ImageExtraction, error) {
	return nil, fmt.Errorf("not used in this test")
}

func (f *fakeOracle) Analyze(match models.Match, instruction, tactical string) (*models.PredictionResult, error) {
	r := f.result
	r.MatchID = match.ID
	return &r, nil
}

func (f *fakeOracle) Verify(match models.Match, savedAt time.Time) (*models.VerificationResult, error) {
	v := f.verify
	return &v, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeOracle) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	oracle := &fakeOracle{
		match: models.Match{
			ID:       "m1",
			HomeTeam: "Arsenal",
			AwayTeam: "Chelsea",
			League:   "Premier League",
			Time:     "21:00",
			Date:     models.DateToday,
		},
		result: models.PredictionResult{
			ScorePrediction: "2 - 1",
			MainPick: models.MainPick{
				Pick:       "Arsenal -0.5",
				Confidence: models.ConfidenceHigh,
				Reasoning:  "Home form",
			},
		},
		verify: models.VerificationResult{
			ActualScore: "2 - 1",
			Outcomes: models.Outcomes{
				Main:   models.StatusWon,
				Score:  models.StatusPending,
				Corner: models.StatusWon,
				Card:   models.StatusLost,
			},
		},
	}

	m := metrics.New()
	hub := websocket.NewHub(m, 10)
	store := picks.NewStore(db)
	controller := service.NewController(oracle, store, hub, m, nil)

	worker, err := autoverify.NewWorker(controller, autoverify.Config{Interval: time.Hour}, service.ErrBusy)
	if err != nil {
		t.Fatalf("autoverify.NewWorker: %v", err)
	}
	t.Cleanup(func() { worker.Shutdown() })

	notifier := notifications.NewService(notifications.DefaultConfig(), db)

	handler := NewHandler(controller, store, worker, notifier, db, m, hub)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, oracle
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestScanRequiresInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/scan", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestScanTextAnalyzeSaveFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/scan", `{"text":"Arsenal vs Chelsea tonight"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status = %d, want 200", resp.StatusCode)
	}
	matches := body["matches"].([]interface{})
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/analyze", `{"instruction":""}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d, want 200", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("analyze count = %v, want 1", body["count"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/picks", `{"match_id":"m1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want 200", resp.StatusCode)
	}
	if body["saved"] != true {
		t.Fatalf("saved = %v, want true", body["saved"])
	}

	// Saving the same match again is a no-op.
	_, body = doJSON(t, http.MethodPost, srv.URL+"/api/picks", `{"match_id":"m1"}`)
	if body["saved"] != false {
		t.Errorf("second save = %v, want false", body["saved"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/picks", "")
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("picks count = %v, want 1", body["count"])
	}
}

func TestVerifyAllSettlesPicks(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/scan", `{"text":"Arsenal vs Chelsea"}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/analyze", `{}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/picks", `{"match_id":"m1"}`)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/picks/verify-all", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["checked"].(float64) != 1 || body["resolved"].(float64) != 1 {
		t.Fatalf("checked/resolved = %v/%v, want 1/1", body["checked"], body["resolved"])
	}

	_, stats := doJSON(t, http.MethodGet, srv.URL+"/api/stats", "")
	main := stats["main"].(map[string]interface{})
	if main["won"].(float64) != 1 {
		t.Errorf("main won = %v, want 1", main["won"])
	}
}

func TestCycleAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/scan", `{"text":"Arsenal vs Chelsea"}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/analyze", `{}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/picks", `{"match_id":"m1"}`)

	_, body := doJSON(t, http.MethodGet, srv.URL+"/api/picks", "")
	pick := body["picks"].([]interface{})[0].(map[string]interface{})
	id := pick["id"].(string)

	resp, updated := doJSON(t, http.MethodPost, srv.URL+"/api/picks/"+id+"/cycle", `{"market":"corner"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cycle status = %d, want 200", resp.StatusCode)
	}
	outcomes := updated["outcomes"].(map[string]interface{})
	if outcomes["corner"] != "won" {
		t.Errorf("corner = %v, want won", outcomes["corner"])
	}

	resp, updated = doJSON(t, http.MethodPost, srv.URL+"/api/picks/"+id+"/status", `{"status":"lost"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d, want 200", resp.StatusCode)
	}
	if updated["status"] != "lost" {
		t.Errorf("status = %v, want lost", updated["status"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/picks/"+id+"/cycle", `{"market":"bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad market status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/picks/nope/cycle", `{"market":"main"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown pick status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteRequiresConfirm(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/scan", `{"text":"Arsenal vs Chelsea"}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/analyze", `{}`)
	doJSON(t, http.MethodPost, srv.URL+"/api/picks", `{"match_id":"m1"}`)

	_, body := doJSON(t, http.MethodGet, srv.URL+"/api/picks", "")
	pick := body["picks"].([]interface{})[0].(map[string]interface{})
	id := pick["id"].(string)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/picks/"+id, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unconfirmed delete status = %d, want 409", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/picks/"+id+"?confirm=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirmed delete status = %d, want 200", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/picks/"+id+"?confirm=true", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want 404", resp.StatusCode)
	}
}

func TestImageQueue(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/images", `{"image":"base64data"}`)
	if resp.StatusCode != http.StatusOK || body["queued"].(float64) != 1 {
		t.Fatalf("queue = %v, want 1", body["queued"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/images", `{"image":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty image status = %d, want 400", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/images/0", "")
	if resp.StatusCode != http.StatusOK || body["queued"].(float64) != 0 {
		t.Fatalf("queue after delete = %v, want 0", body["queued"])
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/images/5", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of range status = %d, want 400", resp.StatusCode)
	}
}

func TestAutoVerifyToggle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/autoverify", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["enabled"] != false {
		t.Fatalf("enabled = %v, want false", body["enabled"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/autoverify/toggle", "")
	if resp.StatusCode != http.StatusOK || body["enabled"] != true {
		t.Fatalf("toggle enabled = %v, want true", body["enabled"])
	}

	doJSON(t, http.MethodPost, srv.URL+"/api/autoverify/toggle", "")
}

func TestVAPIDKeyNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/notifications/vapid-key", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubscribeStoresSubscription(t *testing.T) {
	srv, _ := newTestServer(t)

	sub := `{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"k","auth":"a"}}`
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/notifications/subscribe", sub)
	if resp.StatusCode != http.StatusOK || body["subscribed"] != true {
		t.Fatalf("subscribe = %v (status %d), want true", body["subscribed"], resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/notifications/unsubscribe", "")
	if resp.StatusCode != http.StatusOK || body["subscribed"] != false {
		t.Fatalf("unsubscribe = %v (status %d), want false", body["subscribed"], resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/matches"},
		{http.MethodGet, "/api/scan"},
		{http.MethodGet, "/api/analyze"},
		{http.MethodDelete, "/api/picks"},
		{http.MethodGet, "/api/picks/save-all"},
	}
	for _, tc := range cases {
		resp, _ := doJSON(t, tc.method, srv.URL+tc.path, "")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", tc.method, tc.path, resp.StatusCode)
		}
	}
}
