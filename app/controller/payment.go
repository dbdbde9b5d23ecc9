package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/roofmanager/ms-go-payments/app/factory"
	"github.com/roofmanager/ms-go-payments/app/mapper"
	"github.com/roofmanager/ms-go-payments/app/service"
	"github.com/roofmanager/ms-go-payments/app/types"
	"github.com/sirupsen/logrus"
)

// CompanyIDContextKey is where the tenant middleware stores the calling
// company's id.
const CompanyIDContextKey = "company_id"

type PaymentController struct {
	paymentService *service.PaymentService
	webhookIngress *service.WebhookIngress
	refundService  *service.RefundCoordinator
	logger         logrus.FieldLogger
}

func NewPaymentController(
	paymentService *service.PaymentService,
	webhookIngress *service.WebhookIngress,
	refundService *service.RefundCoordinator,
) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		webhookIngress: webhookIngress,
		refundService:  refundService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitializePayment(ctx echo.Context) error {
	req, err := types.NewInitializePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	resp, err := c.paymentService.InitializePayment(ctx.Request().Context(), companyID(ctx), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvoiceNotFound):
			return c.writeError(ctx, http.StatusNotFound, "invoice not found")
		case errors.Is(err, service.ErrInvoiceAlreadyPaid), errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Initialize payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, resp)
}

func (c *PaymentController) VerifyPayment(ctx echo.Context) error {
	req, err := types.NewVerifyPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	resp, err := c.paymentService.VerifyPayment(ctx.Request().Context(), companyID(ctx), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment attempt not found")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Verify payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

func (c *PaymentController) HandleWebhook(ctx echo.Context) error {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "unreadable request body")
	}

	if err := c.webhookIngress.Handle(ctx.Request().Context(), payload, ctx.Request().Header); err != nil {
		if errors.Is(err, service.ErrWebhookRejected) {
			return c.writeError(ctx, http.StatusUnauthorized, "webhook rejected")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Handle webhook failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Webhook processed"})
}

func (c *PaymentController) RefundPayment(ctx echo.Context) error {
	req, err := types.NewRefundPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	resp, err := c.refundService.Refund(ctx.Request().Context(), companyID(ctx), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment attempt not found")
		case errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Refund payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

func (c *PaymentController) ListAttempts(ctx echo.Context) error {
	req, err := types.NewListAttemptsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListAttempts(ctx.Request().Context(), companyID(ctx), req)
	if err != nil {
		if errors.Is(err, service.ErrInvoiceNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "invoice not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List attempts failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListAttemptsResponse{Attempts: mapper.AttemptsToResponse(items)})
}

func companyID(ctx echo.Context) string {
	if v, ok := ctx.Get(CompanyIDContextKey).(string); ok {
		return v
	}
	return ""
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
