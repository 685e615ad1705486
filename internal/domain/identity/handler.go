package identity

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/auth"
	"github.com/emr/emr/internal/platform/validate"
	"github.com/emr/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patient registration – admin, doctor, nurse
	register := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse))
	register.POST("/patients", h.CreatePatient)

	// Patient lookup – all clinical and front-office staff
	lookup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse, auth.RoleBilling, auth.RolePharmacy))
	lookup.GET("/patients", h.SearchPatients)
	lookup.GET("/patients/:id", h.GetPatient)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/clinicians", h.CreateClinician)

	anyone := api.Group("", auth.RequireAuthenticated())
	anyone.GET("/clinicians", h.ListClinicians)
	anyone.GET("/clinicians/:id", h.GetClinician)
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PatientFilter{
		Query:              c.QueryParam("q"),
		RegistrationNumber: c.QueryParam("registration_number"),
	}
	if number := c.QueryParam("patient_number"); number != "" {
		p, err := h.svc.GetPatientByNumber(c.Request().Context(), number)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse([]*Patient{p}, 1, pg.Limit, pg.Offset))
	}
	items, total, err := h.svc.SearchPatients(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Clinician Handlers --

func (h *Handler) CreateClinician(c echo.Context) error {
	var in ClinicianInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	cl, err := h.svc.CreateClinician(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClinician(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClinician(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClinicians(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := false
	if raw := c.QueryParam("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		activeOnly = v
	}
	items, total, err := h.svc.ListClinicians(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
