package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditPatientKey is the echo context key a handler sets when the patient
// is only known after the request body has been read (imports).
const AuditPatientKey = "audit_patient_guid"

// AuditEntry records one access to passport data.
type AuditEntry struct {
	Action      string // export, import
	PatientGUID string
	Format      string
	Persisted   bool
	Route       string
	Method      string
	IPAddress   string
	UserAgent   string
	RequestID   string
	StatusCode  int
	Timestamp   time.Time
}

// AuditRecorder persists audit entries somewhere durable.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request under /api/v1/ as a passport access entry and
// hands it to the recorders, if any. A failing recorder is logged and does
// not affect the response.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Action:     auditAction(req.Method, c.Path()),
				Route:      c.Path(),
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				RequestID:  RequestIDFrom(c),
				StatusCode: responseStatus(c, err),
				Timestamp:  time.Now().UTC(),
			}
			entry.PatientGUID, _ = c.Get(AuditPatientKey).(string)
			if entry.PatientGUID == "" {
				entry.PatientGUID = c.Param("id")
			}
			if entry.Action == "export" {
				entry.Format = strings.ToLower(c.QueryParam("format"))
				if entry.Format == "" {
					entry.Format = "json"
				}
				entry.Persisted = c.Response().Header().Get("Content-Location") != ""
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "dmp_audit").
				Str("request_id", entry.RequestID).
				Str("action", entry.Action).
				Str("patient_guid", entry.PatientGUID).
				Str("format", entry.Format).
				Bool("persisted", entry.Persisted).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("passport_access")

			return err
		}
	}
}

func auditAction(method, route string) string {
	switch {
	case method == http.MethodGet && strings.HasSuffix(route, "/dmp"):
		return "export"
	case method == http.MethodPost && strings.HasSuffix(route, "/import"):
		return "import"
	case method == http.MethodGet || method == http.MethodHead:
		return "read"
	}
	return "write"
}
