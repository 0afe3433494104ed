package passport

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dmp/passport/internal/platform/middleware"
)

type Handler struct {
	svc     *Service
	lookups Lookups
}

// NewHandler serves exports from svc and validates imports against lookups.
func NewHandler(svc *Service, lookups Lookups) *Handler {
	return &Handler{svc: svc, lookups: lookups}
}

// RegisterRoutes mounts the passport routes on api. readMW wraps only the
// routes that read patient rows; import touches no storage.
func (h *Handler) RegisterRoutes(api *echo.Group, readMW ...echo.MiddlewareFunc) {
	api.GET("/patients/:id", h.GetPatient, readMW...)
	api.GET("/patients/:id/appointments", h.ListAppointments, readMW...)
	api.GET("/patients/:id/medications", h.ListMedications, readMW...)
	api.GET("/patients/:id/events", h.ListEvents, readMW...)
	api.GET("/patients/:id/dmp", h.ExportPassport, readMW...)
	api.POST("/dmp/import", h.ImportPassport)
}

type importResponse struct {
	Message     string `json:"message"`
	PatientGUID string `json:"patientGuid"`
}

type rejectionResponse struct {
	Error   string   `json:"error"`
	Stage   string   `json:"stage"`
	Details []string `json:"details"`
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Patient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	items, err := h.svc.Appointments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListMedications(c echo.Context) error {
	items, err := h.svc.Medications(c.Request().Context(), c.Param("id"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListEvents(c echo.Context) error {
	items, err := h.svc.Events(c.Request().Context(), c.Param("id"))
	if err != nil {
		return readError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func readError(c echo.Context, err error) error {
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Patient not found"})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "read failed").SetInternal(err)
}

func (h *Handler) ExportPassport(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "patient id is required"})
	}

	res, err := h.svc.Export(c.Request().Context(), id, ExportOptions{
		Format:  c.QueryParam("format"),
		Persist: truthy(c.QueryParam("save")),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Patient not found"})
		case errors.Is(err, ErrUnsupportedFormat):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "format must be json or xml"})
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "export failed").SetInternal(err)
		}
	}

	if res.Location != "" {
		c.Response().Header().Set("Content-Location", res.Location)
	}
	contentType := echo.MIMEApplicationJSONCharsetUTF8
	if res.Format == FormatXML {
		contentType = echo.MIMEApplicationXMLCharsetUTF8
	}
	return c.Blob(http.StatusOK, contentType, res.Body)
}

func (h *Handler) ImportPassport(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read request body"})
	}

	res, err := h.svc.Import(c.Request().Context(), body, h.lookups)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.Is(err, ErrInvalidPayload):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		case errors.As(err, &verr):
			return c.JSON(http.StatusUnprocessableEntity, rejectionResponse{
				Error:   "Validation failed",
				Stage:   verr.Stage,
				Details: verr.Errors,
			})
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "import failed").SetInternal(err)
		}
	}

	c.Set(middleware.AuditPatientKey, res.PatientGUID)
	return c.JSON(http.StatusOK, importResponse{
		Message:     "DMP imported successfully",
		PatientGUID: res.PatientGUID,
	})
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
