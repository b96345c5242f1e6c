package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/directory"
	"scanattend/internal/keylock"
	"scanattend/internal/logging"
	"scanattend/internal/opticclient"
)

// ImageDecoder extracts a QR payload from an uploaded camera frame.
type ImageDecoder interface {
	Decode(ctx context.Context, image io.Reader, filename string) (string, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Options carries the HTTP-facing settings.
type Options struct {
	SigningKey      string
	Issuer          string
	AccessTTL       time.Duration
	EnrollKey       string
	RateLimitPerMin int
	Production      bool
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Service   *attendance.Service
	Records   attendance.Repository
	Reports   *attendance.Reports
	Directory directory.Store
	Optic     ImageDecoder
	Checks    map[string]HealthChecker
	Log       logrus.FieldLogger
}

type Handler struct {
	svc     *attendance.Service
	records attendance.Repository
	reports *attendance.Reports
	dir     directory.Store
	optic   ImageDecoder
	checks  map[string]HealthChecker
	opts    Options
	log     logrus.FieldLogger
}

func New(d Deps, opts Options) *Handler {
	return &Handler{
		svc:     d.Service,
		records: d.Records,
		reports: d.Reports,
		dir:     d.Directory,
		optic:   d.Optic,
		checks:  d.Checks,
		opts:    opts,
		log:     d.Log,
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, chk := range h.checks {
		ok := chk.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Stations ----------

type registerStationRequest struct {
	StationID  string `json:"station_id" binding:"required"`
	OperatorID string `json:"operator_id" binding:"required"`
	Role       string `json:"role" binding:"required"`
}

// RegisterStation issues a bearer token binding a station to its operator.
func (h *Handler) RegisterStation(c *gin.Context) {
	if h.opts.EnrollKey != "" {
		key := c.GetHeader("X-Enroll-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.EnrollKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid enrol key"})
			return
		}
	}
	var req registerStationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := directory.Role(req.Role)
	if !role.Valid() || role == directory.RoleGuardian || role == directory.RoleStudent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be teacher, staff or admin"})
		return
	}

	tok, err := auth.Issue(req.StationID, req.OperatorID, req.Role, h.opts.Issuer, h.opts.SigningKey, h.opts.AccessTTL)
	if err != nil {
		h.fail(c, "RegisterStation", "issue token", req, err)
		return
	}
	h.log.WithFields(logrus.Fields{"station": req.StationID, "operator": req.OperatorID}).Info("station registered")
	c.JSON(http.StatusCreated, tok)
}

// ---------- Attendance ----------

type submitRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// Submit records one decoded scan payload.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.record(c, req.Payload)
}

// SubmitImage decodes an uploaded frame and records the payload it holds.
func (h *Handler) SubmitImage(c *gin.Context) {
	if h.optic == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "optical decoding not configured"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	defer file.Close()

	payload, err := h.optic.Decode(c.Request.Context(), file, header.Filename)
	if err != nil {
		h.fail(c, "SubmitImage", "optical decode", header.Filename, err)
		return
	}
	h.record(c, payload)
}

func (h *Handler) record(c *gin.Context, payload string) {
	claims, _ := auth.ClaimsFrom(c)
	res, err := h.svc.Submit(c.Request.Context(), payload, claims.Operator)
	if err != nil {
		h.fail(c, "Submit", "record attendance", gin.H{"station": claims.Station}, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"edge":   res.Edge,
		"record": res.Record,
	})
}

// ListAttendance lists records, newest check-in first.
func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.Filter{
		PersonID: c.Query("person_id"),
		Day:      c.Query("date"),
		From:     c.Query("from"),
		To:       c.Query("to"),
		Role:     c.Query("role"),
		Limit:    50,
	}
	for _, d := range []string{f.Day, f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := attendance.ParseDay(d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = min(n, 500)
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Offset = n
		}
	}

	records, err := h.records.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, "ListAttendance", "list records", f, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Roster lists everyone of a role for a day, absent people included.
func (h *Handler) Roster(c *gin.Context) {
	day := c.DefaultQuery("date", time.Now().In(h.svcLocation()).Format(attendance.DayLayout))
	role := directory.Role(c.Query("role"))
	if role != "" && !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	roster, err := h.reports.Roster(c.Request.Context(), day, role)
	if err != nil {
		h.fail(c, "Roster", "build roster", day, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "entries": roster})
}

// Stats summarises one person's attendance.
func (h *Handler) Stats(c *gin.Context) {
	personID := c.Param("person_id")
	if _, err := h.dir.Person(c.Request.Context(), personID); err != nil {
		h.fail(c, "Stats", "lookup person", personID, err)
		return
	}
	st, err := h.reports.Stats(c.Request.Context(), personID, c.Query("from"), c.Query("to"))
	if err != nil {
		h.fail(c, "Stats", "compute stats", personID, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) svcLocation() *time.Location {
	if h.svc == nil {
		return time.Local
	}
	if loc := h.svc.Policy().Location; loc != nil {
		return loc
	}
	return time.Local
}

// ---------- Directory ----------

// UpsertPerson creates or updates a person.
func (h *Handler) UpsertPerson(c *gin.Context) {
	var p directory.Person
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.dir.UpsertPerson(c.Request.Context(), p)
	if err != nil {
		h.fail(c, "UpsertPerson", "upsert person", p.ID, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type linkRequest struct {
	GuardianID string `json:"guardian_id" binding:"required"`
	StudentID  string `json:"student_id" binding:"required"`
	Email      string `json:"notification_email"`
}

// LinkGuardian links a guardian to a student or updates the link's email.
func (h *Handler) LinkGuardian(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	link, err := h.dir.LinkGuardian(c.Request.Context(), req.GuardianID, req.StudentID, req.Email)
	if err != nil {
		h.fail(c, "LinkGuardian", "link guardian", req, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

// Guardians lists the guardians linked to a person.
func (h *Handler) Guardians(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.dir.Person(c.Request.Context(), id); err != nil {
		h.fail(c, "Guardians", "lookup person", id, err)
		return
	}
	links, err := h.dir.GuardiansOf(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Guardians", "list guardians", id, err)
		return
	}
	if links == nil {
		links = []directory.GuardianLink{}
	}
	c.JSON(http.StatusOK, gin.H{"guardians": links})
}

// fail maps domain errors to HTTP statuses. Unclassified errors are logged
// and reported as 500.
func (h *Handler) fail(c *gin.Context, funcName, action string, data any, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(h.log, "handler", funcName, action, data, err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, directory.ErrUnknownIdentity):
		return http.StatusNotFound, "unknown identity"
	case errors.Is(err, directory.ErrNotFound):
		return http.StatusNotFound, "person not found"
	case errors.Is(err, attendance.ErrAlreadyClosed):
		return http.StatusConflict, attendance.ErrAlreadyClosed.Error()
	case errors.Is(err, directory.ErrDuplicateBadge):
		return http.StatusConflict, err.Error()
	case errors.Is(err, attendance.ErrInvalidDay),
		errors.Is(err, directory.ErrInvalidPerson),
		errors.Is(err, directory.ErrInvalidLink):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, opticclient.ErrNoCode):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, opticclient.ErrNotConfigured), errors.Is(err, keylock.ErrNotObtained):
		return http.StatusServiceUnavailable, "temporarily unavailable, retry"
	}
	return http.StatusInternalServerError, "internal error"
}
