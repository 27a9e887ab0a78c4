package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DropTracker-io/droptracker-core/internal/ingest"
	"github.com/DropTracker-io/droptracker-core/internal/leaderboard"
	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/storage"
)

type fakeStore struct {
	receipts map[string]storage.SubmissionReceipt
	players  map[string]storage.Player
	groups   []storage.Group
	config   map[int64][]storage.GroupConfigEntry
	drops    []storage.Drop
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		receipts: make(map[string]storage.SubmissionReceipt),
		players:  make(map[string]storage.Player),
		config:   make(map[int64][]storage.GroupConfigEntry),
	}
}

func (f *fakeStore) ReceiptByUniqueID(_ context.Context, uniqueID string) (storage.SubmissionReceipt, error) {
	if receipt, ok := f.receipts[uniqueID]; ok {
		return receipt, nil
	}
	return storage.SubmissionReceipt{}, storage.ErrNotFound
}

func (f *fakeStore) PlayerByDisplayName(_ context.Context, name string) (storage.Player, error) {
	if player, ok := f.players[name]; ok {
		return player, nil
	}
	return storage.Player{}, storage.ErrNotFound
}

func (f *fakeStore) PlayerByID(_ context.Context, playerID int64) (storage.Player, error) {
	for _, player := range f.players {
		if player.ID == playerID {
			return player, nil
		}
	}
	return storage.Player{}, storage.ErrNotFound
}

func (f *fakeStore) GroupsForPlayer(context.Context, int64) ([]storage.Group, error) {
	return f.groups, nil
}

func (f *fakeStore) GroupConfig(_ context.Context, groupID int64) ([]storage.GroupConfigEntry, error) {
	return f.config[groupID], nil
}

func (f *fakeStore) SearchPlayers(context.Context, string, int) ([]storage.Player, error) {
	return nil, nil
}

func (f *fakeStore) SearchGroups(context.Context, string, int) ([]storage.Group, error) {
	return f.groups, nil
}

func (f *fakeStore) TopNPCs(context.Context, int, int) ([]storage.NPCTotal, error) {
	return nil, nil
}

func (f *fakeStore) DropsForPlayer(context.Context, int64) ([]storage.Drop, error) {
	return f.drops, nil
}

func (f *fakeStore) ItemByID(context.Context, int64) (storage.Item, error) {
	return storage.Item{}, storage.ErrNotFound
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeProcessor struct {
	results   []ingest.Result
	processed []ingest.Submission
}

func (f *fakeProcessor) Process(_ context.Context, sub ingest.Submission) ingest.Result {
	f.processed = append(f.processed, sub)
	if len(f.results) > 0 {
		result := f.results[0]
		f.results = f.results[1:]
		return result
	}
	return ingest.Result{Status: storage.SubmissionProcessed, Notice: "ok"}
}

type fakeBoards struct {
	pingErr  error
	rebuilds []int64
}

func (f *fakeBoards) TopPlayers(context.Context, string, *int64, *int64, int) ([]leaderboard.Entry, error) {
	return nil, nil
}

func (f *fakeBoards) ForceRebuild(_ context.Context, playerID int64, _ []leaderboard.DropUpdate) error {
	f.rebuilds = append(f.rebuilds, playerID)
	return nil
}

func (f *fakeBoards) Ping(context.Context) error { return f.pingErr }

type fakeSyncer struct {
	calls int
}

func (f *fakeSyncer) SyncAll(context.Context) error {
	f.calls++
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
}

type testServer struct {
	server    *Server
	store     *fakeStore
	processor *fakeProcessor
	boards    *fakeBoards
	syncer    *fakeSyncer
}

func newTestServer(t *testing.T, jwtKey string) *testServer {
	t.Helper()
	ts := &testServer{
		store:     newFakeStore(),
		processor: &fakeProcessor{},
		boards:    &fakeBoards{},
		syncer:    &fakeSyncer{},
	}
	server, err := NewServer(Config{Addr: ":0", JWTKey: jwtKey},
		ts.store, ts.processor, ts.boards, ts.syncer, nil, fixedClock)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ts.server = server
	return ts
}

func multipartBody(t *testing.T, payload string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("payload_json", payload); err != nil {
		t.Fatalf("write payload_json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func dropPayload(uniqueID string) string {
	return fmt.Sprintf(`{"embeds":[{"fields":[
		{"name":"type","value":"drop"},
		{"name":"player_name","value":"Alice"},
		{"name":"acc_hash","value":"hash-12345"},
		{"name":"item","value":"Dragon med helm"},
		{"name":"source","value":"King Black Dragon"},
		{"name":"value","value":"60000"},
		{"name":"unique_id","value":%q}
	]}]}`, uniqueID)
}

func TestWebhookRequiresMultipart(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestWebhookProcessesEmbeds(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	ts.processor.results = []ingest.Result{
		{Status: storage.SubmissionProcessed, Notice: "drop recorded"},
	}
	body, contentType := multipartBody(t, dropPayload("u1"))
	req := httptest.NewRequest(http.MethodPost, "/webhook", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(ts.processor.processed) != 1 {
		t.Fatalf("processed = %d submissions, want 1", len(ts.processor.processed))
	}
	sub := ts.processor.processed[0]
	if sub.Kind != ingest.KindDrop || sub.PlayerName != "Alice" || sub.Value != 60_000 {
		t.Errorf("submission = %+v", sub)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["message"] != "drop recorded" {
		t.Errorf("message = %q, want the processor notice", resp["message"])
	}
}

func TestWebhookSoftFailureAnswers200(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	ts.processor.results = []ingest.Result{{
		Status: storage.SubmissionRejected,
		Notice: "account hash does not match",
		Err:    apperrors.New(apperrors.CodeAuthFailure, "account hash does not match"),
	}}
	body, contentType := multipartBody(t, dropPayload("u2"))
	req := httptest.NewRequest(http.MethodPost, "/webhook", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want soft 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body = %s, want error field", rec.Body.String())
	}
}

func TestCheckReportsReceipt(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	ts.store.receipts["u1"] = storage.SubmissionReceipt{
		UniqueID: "u1", Kind: "drop", Status: storage.SubmissionProcessed, RecordID: 42,
	}
	rec := postJSON(t, ts, "/check", `{"uuid":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Processed bool   `json:"processed"`
		Status    string `json:"status"`
		Type      string `json:"type"`
		ID        int64  `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Processed || resp.Status != storage.SubmissionProcessed || resp.ID != 42 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCheckPoisonPillShield(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	var processed bool
	for i := 0; i < checkMissLimit; i++ {
		rec := postJSON(t, ts, "/check", `{"uuid":"ghost"}`)
		var resp struct {
			Processed bool `json:"processed"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response #%d: %v", i+1, err)
		}
		processed = resp.Processed
		if i < checkMissLimit-1 && processed {
			t.Fatalf("miss #%d already reported processed", i+1)
		}
	}
	if !processed {
		t.Errorf("miss #%d not reported processed, want poison-pill shield", checkMissLimit)
	}
}

func TestLoadConfigChecksHash(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	ts.store.players["Alice"] = storage.Player{ID: 7, DisplayName: "Alice", AccountHash: "hash-12345"}
	ts.store.groups = []storage.Group{{ID: storage.GlobalGroupID, Name: "Global"}}
	ts.store.config[storage.GlobalGroupID] = []storage.GroupConfigEntry{
		{GroupID: storage.GlobalGroupID, Key: "notify_pbs", Value: "true"},
	}

	req := httptest.NewRequest(http.MethodGet, "/load_config?player_name=Alice&acc_hash=hash-12345", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "notify_pbs") {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// A wrong hash answers 200 with an error body, never a hard failure.
	req = httptest.NewRequest(http.MethodGet, "/load_config?player_name=Alice&acc_hash=wrong", nil)
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "error") {
		t.Fatalf("mismatch status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealthReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	ts.boards.pingErr = io.ErrUnexpectedEOF

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "test-signing-key")
	rec := postJSON(t, ts, "/admin/group_sync", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", rec.Code)
	}
	if ts.syncer.calls != 0 {
		t.Errorf("sync ran without auth")
	}
}

func TestAdminRebuildWithToken(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "test-signing-key")
	ts.store.players["Alice"] = storage.Player{ID: 7, DisplayName: "Alice"}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", strings.NewReader(`{"player_name":"Alice"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(ts.boards.rebuilds) != 1 || ts.boards.rebuilds[0] != 7 {
		t.Errorf("rebuilds = %v, want [7]", ts.boards.rebuilds)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pong") {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func postJSON(t *testing.T, ts *testServer, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}
