package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/identity"
	"github.com/barrysci/stationtest-backend/internal/middleware"
	"github.com/barrysci/stationtest-backend/internal/session"
	"github.com/barrysci/stationtest-backend/internal/store"
	"github.com/barrysci/stationtest-backend/internal/upstream"
	"github.com/barrysci/stationtest-backend/internal/validator"
)

// upstreamStub answers both halves of the spreadsheet protocol: GET serves
// two stations of questions, POST accepts submissions and grades the final.
func upstreamStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodPost {
			r.ParseForm()
			if r.PostForm.Get("final") == "true" {
				json.NewEncoder(w).Encode(map[string]float64{"score": 90})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "saved"})
			return
		}

		if r.URL.Query().Get("test") != "physics" {
			json.NewEncoder(w).Encode([]map[string]interface{}{})
			return
		}
		switch r.URL.Query().Get("station") {
		case "1", "2":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"question": "first", "options": []string{"a", "b"}},
				{"question": "second", "options": "frq"},
			})
		default:
			json.NewEncoder(w).Encode([]map[string]interface{}{})
		}
	}))
}

type testEnvelope struct {
	Data struct {
		Session session.Snapshot `json:"session"`
	} `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()
	log := zerolog.Nop()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	upSrv := upstreamStub(t)
	t.Cleanup(upSrv.Close)

	// The lookup endpoint pins the identity, since test requests come from
	// a non-public address.
	lookupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ip":"198.51.100.4"}`))
	}))
	t.Cleanup(lookupSrv.Close)

	sessionStore := store.NewSessionStore(rdb, 24*time.Hour, log)
	client := upstream.NewClient(upSrv.URL, 5, time.Second, log)
	submitter := upstream.NewRedisSubmitter(rdb, client, log)
	resolver := identity.NewResolver(lookupSrv.URL, time.Second, log)
	manager := session.NewManager(sessionStore, client, submitter, nil, session.Config{
		StationDuration: 2 * time.Minute,
	}, log)
	t.Cleanup(func() { manager.Shutdown(t.Context()) })

	h := NewSessionHandler(manager, log)

	r := gin.New()
	api := r.Group("/api/v1", middleware.ResolveIdentity(resolver))
	api.POST("/session/begin", h.Begin)
	api.GET("/tests/:test/session", h.State)
	api.PUT("/tests/:test/session/answers", h.Answer)
	api.POST("/tests/:test/session/marks", h.ToggleMark)
	api.POST("/tests/:test/session/visits", h.Visit)
	api.POST("/tests/:test/session/advance", h.Advance)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	return rec, env
}

var beginBody = map[string]string{"name": "Ada", "email": "ada@example.com", "test": "physics"}

func TestFullAttemptOverREST(t *testing.T) {
	r := newTestRouter(t)

	// Begin: two stations discovered, station 1 active.
	rec, env := doJSON(t, r, http.MethodPost, "/api/v1/session/begin", beginBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("begin status %d: %s", rec.Code, rec.Body.String())
	}
	if env.Data.Session.Phase != session.PhaseActive || env.Data.Session.TotalStations != 2 {
		t.Fatalf("unexpected begin snapshot %+v", env.Data.Session)
	}

	// Answer q1, skip to q2 territory.
	rec, env = doJSON(t, r, http.MethodPut, "/api/v1/tests/physics/session/answers", map[string]interface{}{"question": 1, "value": "a"})
	if rec.Code != http.StatusOK || env.Data.Session.Counts.Answered != 1 {
		t.Fatalf("answer failed: %d %+v", rec.Code, env.Data.Session.Counts)
	}

	// Unconfirmed advance is refused.
	rec, env = doJSON(t, r, http.MethodPost, "/api/v1/tests/physics/session/advance", map[string]bool{"confirmed": false})
	if rec.Code != http.StatusPreconditionRequired || env.Error == nil || env.Error.Code != "CONFIRMATION_REQUIRED" {
		t.Fatalf("expected confirmation refusal, got %d %s", rec.Code, rec.Body.String())
	}

	// Confirmed advance moves to station 2 with reset flags.
	rec, env = doJSON(t, r, http.MethodPost, "/api/v1/tests/physics/session/advance", map[string]bool{"confirmed": true})
	if rec.Code != http.StatusOK || env.Data.Session.CurrentStation != 2 {
		t.Fatalf("advance failed: %d %+v", rec.Code, env.Data.Session)
	}
	if env.Data.Session.Counts.Tracked != 0 {
		t.Fatalf("flags must reset on station change, got %+v", env.Data.Session.Counts)
	}

	// Final advance grades and completes.
	rec, env = doJSON(t, r, http.MethodPost, "/api/v1/tests/physics/session/advance", map[string]bool{"confirmed": true})
	if rec.Code != http.StatusOK || env.Data.Session.Phase != session.PhaseCompleted {
		t.Fatalf("final advance failed: %d %+v", rec.Code, env.Data.Session)
	}
	if env.Data.Session.Score == nil || *env.Data.Session.Score != 90 {
		t.Fatalf("expected score 90, got %v", env.Data.Session.Score)
	}

	// The live controller is gone, and a re-begin is permanently blocked.
	rec, _ = doJSON(t, r, http.MethodGet, "/api/v1/tests/physics/session", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after completion, got %d", rec.Code)
	}
	rec, env = doJSON(t, r, http.MethodPost, "/api/v1/session/begin", beginBody)
	if rec.Code != http.StatusConflict || env.Error == nil || env.Error.Code != "TEST_COMPLETED" {
		t.Fatalf("expected completion block, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBeginValidatesPayload(t *testing.T) {
	r := newTestRouter(t)

	rec, env := doJSON(t, r, http.MethodPost, "/api/v1/session/begin", map[string]string{"name": "Ada", "email": "not-an-email", "test": "physics"})
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBeginUnknownTestHasNoStations(t *testing.T) {
	r := newTestRouter(t)

	body := map[string]string{"name": "Ada", "email": "ada@example.com", "test": "empty"}
	rec, env := doJSON(t, r, http.MethodPost, "/api/v1/session/begin", body)
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NO_STATIONS" {
		t.Fatalf("expected no-stations refusal, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOperationsWithoutSessionReturnNotFound(t *testing.T) {
	r := newTestRouter(t)

	rec, env := doJSON(t, r, http.MethodPut, "/api/v1/tests/physics/session/answers", map[string]interface{}{"question": 1, "value": "a"})
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("expected session-not-found, got %d %s", rec.Code, rec.Body.String())
	}
}
