package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interntrack/attendance/internal/attendance"
	"github.com/interntrack/attendance/internal/auth"
	"github.com/interntrack/attendance/internal/clock"
	"github.com/interntrack/attendance/internal/qrtoken"
	"github.com/interntrack/attendance/internal/queue"
	"github.com/interntrack/attendance/internal/roster"
)

type fixture struct {
	router *gin.Engine
	fake   *clock.Fake
	repo   *attendance.MemoryRepository
	h      *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	fake := clock.NewFake(time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC))
	clk := clock.NewWith(fake, ist)

	repo := attendance.NewMemoryRepository()
	require.NoError(t, repo.CreateIntern(context.Background(), &attendance.Intern{
		ID:      "intern-1",
		Profile: attendance.Profile{ExternalID: "T123", Name: "Asha", Specialization: "Backend"},
	}))

	tokens := qrtoken.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Handler{
		Service: attendance.NewService(repo, qrtoken.NewVerifier(tokens), clk, attendance.WithLogger(logger)),
		Issuer:  qrtoken.NewIssuer(tokens, fake, qrtoken.TTLs{}),
		Tokens:  tokens,
		Now:     fake.Now,
		Teams:   repo,
		QRSize:  128,
		Log:     logger,
	}
	r := gin.New()
	h.Register(r, nil, nil)
	return &fixture{router: r, fake: fake, repo: repo, h: h}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestIssueAndScanDaily(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/tokens/daily", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	tok := decode(t, w)
	assert.Equal(t, "daily", tok["kind"])
	sessionID := tok["session_id"].(string)

	w = f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": sessionID, "intern_id": "intern-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": sessionID, "intern_id": "intern-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, msgAlreadyMarked, decode(t, w)["error"])

	w = f.do(http.MethodGet, "/v1/interns/intern-1/attendance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ledger := decode(t, w)["attendance"].([]any)
	require.Len(t, ledger, 1)
	entry := ledger[0].(map[string]any)
	assert.Equal(t, "2024-05-01", entry["date"])
	assert.Equal(t, "daily_qr", entry["type"])
}

func TestScanAcceptsPayload(t *testing.T) {
	f := newFixture(t)
	tok, err := f.h.Issuer.Issue(qrtoken.MeetingAttendance, "standup")
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": tok.Payload(), "intern_id": "intern-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	mark := decode(t, w)["mark"].(map[string]any)
	assert.Equal(t, "meeting_qr", mark["type"])
	assert.Equal(t, tok.ID, mark["session_id"])
}

func TestScanExpiredAndUnknown(t *testing.T) {
	f := newFixture(t)
	tok := f.h.Issuer.IssueDaily()
	f.fake.Advance(qrtoken.DefaultDailyTTL)

	w := f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": tok.ID, "intern_id": "intern-1"})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, msgTokenGone, decode(t, w)["error"])

	w = f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": "nope", "intern_id": "intern-1"})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, msgTokenGone, decode(t, w)["error"])

	w = f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": "nope", "intern_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/v1/scans", gin.H{"intern_id": "intern-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestAndPNG(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/tokens/latest?kind=meeting", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/v1/tokens/meeting", gin.H{"label": "retro"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["session_id"].(string)

	w = f.do(http.MethodGet, "/v1/tokens/latest?kind=meeting", nil)
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode(t, w)
	assert.Equal(t, id, latest["session_id"])
	assert.Equal(t, "retro", latest["label"])

	w = f.do(http.MethodGet, "/v1/tokens/latest?kind=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/v1/tokens/"+id+"/qr.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	f.fake.Advance(qrtoken.DefaultMeetingTTL)
	w = f.do(http.MethodGet, "/v1/tokens/"+id+"/qr.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkInternManualAndCorrection(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/interns/intern-1/attendance", gin.H{"date": "2024-05-02", "type": "manual", "status": "absent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/v1/interns/intern-1/attendance", gin.H{"date": "2024-05-02", "status": "present"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := decode(t, w)["entry"].(map[string]any)
	assert.Equal(t, "manual", entry["type"])
	assert.Equal(t, "present", entry["status"])

	in, err := f.repo.GetIntern(context.Background(), "intern-1")
	require.NoError(t, err)
	assert.Len(t, in.Attendance, 1)

	cases := []gin.H{
		{"date": "02/05/2024", "status": "present"},
		{"date": "2024-05-02", "status": "late"},
		{"date": "2024-05-02", "type": "daily_qr", "status": "present"},
	}
	for _, body := range cases {
		w = f.do(http.MethodPost, "/v1/interns/intern-1/attendance", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w = f.do(http.MethodPost, "/v1/interns/ghost/attendance", gin.H{"date": "2024-05-02", "type": "manual", "status": "present"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExternalAttendance(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/external/attendance", gin.H{"marks": []gin.H{
		{"intern_id": "intern-1", "date": "2024-05-03", "type": "meeting_qr", "status": "present"},
		{"external_id": "T123", "at": "2024-05-03T20:00:00Z", "type": "daily_qr", "status": "present"},
		{"intern_id": "intern-1", "date": "2024-05-03", "type": "manual", "status": "present"},
	}})
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["failed"])

	in, err := f.repo.GetIntern(context.Background(), "intern-1")
	require.NoError(t, err)
	require.Len(t, in.Attendance, 2)
	assert.Equal(t, "2024-05-04", in.Attendance[1].Date.String())

	w = f.do(http.MethodPost, "/v1/external/attendance", gin.H{"marks": []gin.H{
		{"intern_id": "ghost", "type": "daily_qr", "status": "present"},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

type stubSyncer struct {
	res roster.Result
	err error
}

func (s stubSyncer) RunOnce(context.Context) (roster.Result, error) { return s.res, s.err }

func TestRosterSync(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/roster/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.h.Roster = stubSyncer{res: roster.Result{Total: 3, Created: 1, Updated: 2}}
	w = f.do(http.MethodPost, "/v1/roster/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["updated"])

	f.h.Roster = stubSyncer{err: errors.New("feed down")}
	w = f.do(http.MethodPost, "/v1/roster/sync", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	f.h.Health = map[string]HealthCheck{
		"db":    func(context.Context) bool { return true },
		"redis": func(context.Context) bool { return false },
	}
	w := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["db"])
	assert.Equal(t, false, body["redis"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	r := gin.New()
	f.h.Register(r, auth.AdminAuth("k", "attendance"), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/tokens/daily", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, _, err := auth.Issue("ops", auth.RoleAdmin, "attendance", "k", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/tokens/daily", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	id := decode(t, w)["session_id"].(string)
	req = httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewBufferString(`{"session_id":"`+id+`","intern_id":"intern-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}

// brokenLedgerRepo accepts lookups but fails every ledger write.
type brokenLedgerRepo struct {
	*attendance.MemoryRepository
}

func (brokenLedgerRepo) ModifyAttendance(context.Context, string, func([]attendance.Entry) ([]attendance.Entry, error)) ([]attendance.Entry, error) {
	return nil, errors.New("db unavailable")
}

func TestScanLedgerWriteFailure(t *testing.T) {
	f := newFixture(t)
	retries := queue.NewInMemory(4)
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	f.h.Service = attendance.NewService(brokenLedgerRepo{f.repo}, qrtoken.NewVerifier(f.h.Tokens), clock.NewWith(f.fake, ist),
		attendance.WithRetryQueue(retries),
		attendance.WithLogger(f.h.Log),
	)
	tok := f.h.Issuer.IssueDaily()

	w := f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": tok.ID, "intern_id": "intern-1"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Contains(t, body["error"], "retried")
	mark := body["mark"].(map[string]any)
	assert.Equal(t, "intern-1", mark["intern_id"])
	assert.Equal(t, tok.ID, mark["session_id"])
	assert.Equal(t, "2024-05-01", mark["date"])
	assert.Equal(t, 1, retries.Len())

	w = f.do(http.MethodPost, "/v1/scans", gin.H{"session_id": tok.ID, "intern_id": "intern-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSetTeam(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPut, "/v1/interns/intern-1/team", gin.H{"team": "  Platform "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Platform", decode(t, w)["team"])

	in, err := f.repo.GetIntern(context.Background(), "intern-1")
	require.NoError(t, err)
	assert.Equal(t, "Platform", in.Team)

	w = f.do(http.MethodPut, "/v1/interns/ghost/team", gin.H{"team": "Platform"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.h.Teams = nil
	w = f.do(http.MethodPut, "/v1/interns/intern-1/team", gin.H{"team": "Platform"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
