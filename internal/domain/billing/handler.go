package billing

import (
	"net/http"

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
	g := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleBilling))
	g.POST("/billings", h.CreateBilling)
	g.GET("/billings", h.SearchBillings)
	g.GET("/billings/revenue-by-clinician", h.RevenueByClinician)
	g.GET("/billings/:id", h.GetBilling)
	g.PUT("/billings/:id", h.UpdateBilling)
	g.DELETE("/billings/:id", h.DeleteBilling)
	g.POST("/billings/:id/calculate", h.CalculateTotal)
	g.POST("/billings/:id/invoice", h.GenerateInvoice)
	g.POST("/billings/:id/invoice/send", h.SendInvoice)
	g.PATCH("/billings/:id/mark-as-paid", h.MarkPaid)
	g.POST("/billings/:id/payments", h.RecordPayment)
	g.GET("/billings/:id/payments", h.ListPayments)
	g.GET("/billings/:id/receipt", h.GetReceipt)
	g.GET("/patients/:id/billings", h.ListPatientBillings)
}

func (h *Handler) CreateBilling(c echo.Context) error {
	var in CreateInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBilling(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SearchBillings(c echo.Context) error {
	pg := pagination.FromContext(c)
	var params SearchParams
	var err error
	if params.PatientID, err = validate.UUIDQuery(c, "patient_id"); err != nil {
		return err
	}
	if params.ClinicianID, err = validate.UUIDQuery(c, "clinician_id"); err != nil {
		return err
	}
	params.InvoiceNumber = c.QueryParam("invoice_number")
	params.Status = Status(c.QueryParam("status"))
	params.InvoiceStatus = InvoiceStatus(c.QueryParam("invoice_status"))

	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPatientBillings(c echo.Context) error {
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

func (h *Handler) UpdateBilling(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var patch BillingPatch
	if err := validate.Bind(c, &patch); err != nil {
		return err
	}
	if patch.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "no updatable fields supplied")
	}
	b, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBilling(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CalculateTotal(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	b, totals, err := h.svc.CalculateTotal(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"billing": b,
		"totals":  totals,
	})
}

func (h *Handler) GenerateInvoice(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.GenerateInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SendInvoice(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.SendInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.MarkPaid(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in PaymentInput
	if err := validate.Bind(c, &in); err != nil {
		return err
	}
	p, err := h.svc.RecordPayment(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := validate.UUIDParam(c, "id")
	if err != nil {
		return err
	}
	payments, summary, err := h.svc.Payments(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"payments": payments,
		"summary":  summary,
	})
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

func (h *Handler) RevenueByClinician(c echo.Context) error {
	req := RevenueRequest{
		TimeFrame: c.QueryParam("time_frame"),
		StartDate: c.QueryParam("start_date"),
		EndDate:   c.QueryParam("end_date"),
	}
	var err error
	if req.ClinicianID, err = validate.UUIDQuery(c, "clinician_id"); err != nil {
		return err
	}
	report, err := h.svc.RevenueByClinician(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}
