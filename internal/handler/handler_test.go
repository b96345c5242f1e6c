package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/directory"
	"scanattend/internal/keylock"
	"scanattend/internal/logging"
	"scanattend/internal/opticclient"
)

const (
	signingKey = "handler-test-key"
	issuer     = "scanattend-test"
	enrollKey  = "enrol-secret"
)

var school = time.FixedZone("school", 0)

type fakeOptic struct{}

func (fakeOptic) Decode(_ context.Context, image io.Reader, _ string) (string, error) {
	raw, _ := io.ReadAll(image)
	if len(raw) == 0 {
		return "", opticclient.ErrNoCode
	}
	return string(raw), nil
}

type fakeCheck bool

func (f fakeCheck) Healthy(context.Context) bool { return bool(f) }

type env struct {
	router  *gin.Engine
	dir     *directory.Memory
	svc     *attendance.Service
	clock   time.Time
	student directory.Person
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()
	dir := directory.NewMemory()
	student, err := dir.UpsertPerson(context.Background(), directory.Person{Name: "Ana", Role: directory.RoleStudent, BadgeID: "QR-ANA"})
	require.NoError(t, err)
	_, err = dir.UpsertPerson(context.Background(), directory.Person{Name: "Ben", Role: directory.RoleStudent, BadgeID: "QR-BEN"})
	require.NoError(t, err)

	repo := attendance.NewMemoryRepository()
	policy := attendance.Policy{Start: 8 * time.Hour, Grace: 10 * time.Minute, Location: school}
	svc := attendance.NewService(directory.NewResolver(dir), attendance.NewRecorder(repo, keylock.NewLocal(), policy, log), nil, log)

	e := &env{dir: dir, svc: svc, student: student, clock: time.Date(2025, 3, 3, 7, 58, 0, 0, school)}
	svc.SetClock(func() time.Time { return e.clock })

	h := New(Deps{
		Service:   svc,
		Records:   repo,
		Reports:   attendance.NewReports(repo, dir),
		Directory: dir,
		Optic:     fakeOptic{},
		Checks:    map[string]HealthChecker{"db": fakeCheck(true)},
		Log:       log,
	}, Options{
		SigningKey: signingKey,
		Issuer:     issuer,
		AccessTTL:  time.Hour,
		EnrollKey:  enrollKey,
	})
	e.router = h.Router()
	return e
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.Issue("gate-1", "op-"+role, role, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	return tok.AccessToken
}

func (e *env) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

type submitResponse struct {
	Edge   attendance.Edge   `json:"edge"`
	Record attendance.Record `json:"record"`
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"db":true`)
}

func TestRegisterStation(t *testing.T) {
	e := newEnv(t)
	body := map[string]string{"station_id": "gate-1", "operator_id": "op-1", "role": "teacher"}

	w := e.do(http.MethodPost, "/v1/stations/register", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/stations/register", strings.NewReader(`{"station_id":"gate-1","operator_id":"op-1","role":"teacher"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Enroll-Key", enrollKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tok auth.Token
	decode(t, rec, &tok)
	claims, err := auth.Parse(tok.AccessToken, signingKey, issuer)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.Operator)
	assert.Equal(t, "gate-1", claims.Station)
}

func TestSubmitLifecycle(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "teacher")

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/v1/attendance", "", map[string]string{"payload": "QR-ANA"}).Code)

	w := e.do(http.MethodPost, "/v1/attendance", tok, map[string]string{"payload": "QR-ANA"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var in submitResponse
	decode(t, w, &in)
	assert.Equal(t, attendance.EdgeCheckIn, in.Edge)
	assert.Equal(t, attendance.StatusPresent, in.Record.Status)
	assert.Equal(t, "Ana", in.Record.PersonName)
	assert.Equal(t, "op-teacher", in.Record.RecordedBy)

	e.clock = time.Date(2025, 3, 3, 15, 0, 0, 0, school)
	w = e.do(http.MethodPost, "/v1/attendance", tok, map[string]string{"payload": "QR-ANA"})
	require.Equal(t, http.StatusOK, w.Code)
	var out submitResponse
	decode(t, w, &out)
	assert.Equal(t, attendance.EdgeCheckOut, out.Edge)
	require.NotNil(t, out.Record.CheckOut)

	w = e.do(http.MethodPost, "/v1/attendance", tok, map[string]string{"payload": "QR-ANA"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/v1/attendance", tok, map[string]string{"payload": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown identity")

	w = e.do(http.MethodPost, "/v1/attendance", tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitImage(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "staff")

	send := func(content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "frame.png")
		require.NoError(t, err)
		_, _ = part.Write([]byte(content))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/v1/attendance/image", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		return w
	}

	w := send("QR-BEN")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res submitResponse
	decode(t, w, &res)
	assert.Equal(t, "Ben", res.Record.PersonName)

	assert.Equal(t, http.StatusUnprocessableEntity, send("").Code)
}

func TestListRosterStats(t *testing.T) {
	e := newEnv(t)
	tok := token(t, "teacher")

	e.clock = time.Date(2025, 3, 3, 8, 30, 0, 0, school)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/v1/attendance", tok, map[string]string{"payload": "QR-ANA"}).Code)

	w := e.do(http.MethodGet, "/v1/attendance?date=2025-03-03", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Records []attendance.Record `json:"records"`
	}
	decode(t, w, &list)
	require.Len(t, list.Records, 1)
	assert.Equal(t, attendance.StatusLate, list.Records[0].Status)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/v1/attendance?date=yesterday", tok, nil).Code)

	w = e.do(http.MethodGet, "/v1/attendance/roster?date=2025-03-03&role=student", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roster struct {
		Entries []attendance.RosterEntry `json:"entries"`
	}
	decode(t, w, &roster)
	require.Len(t, roster.Entries, 2)
	statuses := map[string]attendance.Status{}
	for _, entry := range roster.Entries {
		statuses[entry.Person.Name] = entry.Status
	}
	assert.Equal(t, attendance.StatusLate, statuses["Ana"])
	assert.Equal(t, attendance.StatusAbsent, statuses["Ben"])

	w = e.do(http.MethodGet, "/v1/attendance/stats/"+e.student.ID+"?from=2025-03-03&to=2025-03-04", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st attendance.Stats
	decode(t, w, &st)
	assert.Equal(t, attendance.Stats{TotalDays: 2, PresentDays: 1, AbsentDays: 1, LateDays: 1, AttendanceRate: 50}, st)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/v1/attendance/stats/missing", tok, nil).Code)
}

func TestDirectoryAdmin(t *testing.T) {
	e := newEnv(t)
	admin := token(t, "admin")

	w := e.do(http.MethodPut, "/v1/directory/people", token(t, "teacher"), map[string]string{"name": "Mum", "role": "guardian", "badge_id": "G-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPut, "/v1/directory/people", admin, map[string]string{"name": "Mum", "email": "mum@example.com", "role": "guardian", "badge_id": "G-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mum directory.Person
	decode(t, w, &mum)
	require.NotEmpty(t, mum.ID)

	w = e.do(http.MethodPut, "/v1/directory/people", admin, map[string]string{"name": "Dup", "role": "staff", "badge_id": "QR-ANA"})
	assert.Equal(t, http.StatusConflict, w.Code)

	link := map[string]string{"guardian_id": mum.ID, "student_id": e.student.ID}
	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/v1/directory/guardians", admin, link).Code)
	link["notification_email"] = "alerts@example.com"
	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/v1/directory/guardians", admin, link).Code)

	w = e.do(http.MethodGet, "/v1/directory/people/"+e.student.ID+"/guardians", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Guardians []directory.GuardianLink `json:"guardians"`
	}
	decode(t, w, &out)
	require.Len(t, out.Guardians, 1, "re-linking updates instead of duplicating")
	assert.Equal(t, "alerts@example.com", out.Guardians[0].NotificationEmail)

	bad := map[string]string{"guardian_id": e.student.ID, "student_id": mum.ID}
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPut, "/v1/directory/guardians", admin, bad).Code)
}

func TestClassify(t *testing.T) {
	status, _ := classify(keylock.ErrNotObtained)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, msg := classify(attendance.ErrRaceLost)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", msg)
}
