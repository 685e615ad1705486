package pharmacy

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
	// Read endpoints
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacy, auth.RoleDoctor))
	read.GET("/drugs", h.ListDrugs)
	read.GET("/drugs/:id", h.GetDrug)
	read.GET("/patients/:id/dispensations", h.ListPatientDispensations)
	read.GET("/dispensations/:id", h.GetDispensation)

	// Pharmacy write endpoints
	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacy))
	write.POST("/drugs", h.CreateDrug)
	write.PUT("/drugs/:id", h.UpdateDrug)
	write.GET("/drugs/:id/stock", h.GetStock)
	write.PATCH("/drugs/:id/stock", h.AdjustStock)
	write.PATCH("/drugs/:id/sell", h.Sell)
	write.POST("/pharmacy/walk-in-sales", h.WalkInSale)
	write.POST("/patients/:id/dispensations", h.CreateDispensation)
	write.PUT("/dispensations/:id", h.UpdateDispensation)
	write.DELETE("/dispensations/:id", h.DeleteDispensation)

	// Settlement endpoints shared with billing staff
	settle := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RolePharmacy, auth.RoleBilling))
	settle.PATCH("/dispensations/:id/mark-as-paid", h.MarkPaid)
	settle.GET("/dispensations/:id/receipt", h.GetReceipt)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/drugs/:id", h.DeleteDrug)
}

// -- Drug Handlers --

func (h *Handler) CreateDrug(c echo.Context) error {
	var in DrugInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	d, err := h.svc.CreateDrug(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := DrugFilter{Name: c.QueryParam("name")}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		f.ActiveOnly = active
	}
	items, total, err := h.svc.ListDrugs(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDrug(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var patch DrugPatch
	if err := validate.Bind(c, &patch); err != nil {
		return err
	}
	d, err := h.svc.UpdateDrug(c.Request().Context(), id, patch)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDrug(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDrug(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Stock Handlers --

func (h *Handler) GetStock(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	requested := 1
	if raw := c.QueryParam("quantity"); raw != "" {
		if requested, err = strconv.Atoi(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid quantity")
		}
	}
	st, err := h.svc.StockStatus(c.Request().Context(), id, requested)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type adjustRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var req adjustRequest
	if err := validate.Bind(c, &req); err != nil {
		return err
	}
	st, err := h.svc.AdjustStock(c.Request().Context(), id, req.Delta)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type sellRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

func (h *Handler) Sell(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var req sellRequest
	if err := validate.Bind(c, &req); err != nil {
		return err
	}
	st, err := h.svc.Sell(c.Request().Context(), id, req.Quantity)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) WalkInSale(c echo.Context) error {
	var in WalkInInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	sale, err := h.svc.WalkInSale(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sale)
}

// -- Dispensation Handlers --

func (h *Handler) CreateDispensation(c echo.Context) error {
	patientID, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in DispensationInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	d, err := h.svc.CreateDispensation(c.Request().Context(), patientID, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDispensation(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDispensation(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListPatientDispensations(c echo.Context) error {
	patientID, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDispensation(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var patch DispensationPatch
	if err := validate.Bind(c, &patch); err != nil {
		return err
	}
	d, err := h.svc.UpdateDispensation(c.Request().Context(), id, patch)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDispensation(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDispensation(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.MarkPaid(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetReceipt(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Receipt(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}
