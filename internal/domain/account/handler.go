package account

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/auth"
	"github.com/emr/emr/internal/platform/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts login on the unauthenticated group and user
// management on the authenticated one.
func (h *Handler) RegisterRoutes(public, api *echo.Group) {
	public.POST("/auth/login", h.Login)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/users", h.CreateUser)
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginRequest
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	sess, err := h.svc.Login(c.Request().Context(), in.Username, in.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in NewUser
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	u, err := h.svc.CreateUser(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, u)
}
