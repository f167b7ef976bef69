package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/afp-onboarding/internal/admission"
	"github.com/Checker-Finance/afp-onboarding/internal/registration"
	"github.com/Checker-Finance/afp-onboarding/internal/spec"
)

// Admitter decides whether a specification may be onboarded.
type Admitter interface {
	ValidateDocument(ctx context.Context, raw []byte, deployContext string) (*admission.Result, error)
	ValidateRegistered(ctx context.Context, productID, envName string) (*admission.Result, error)
}

// Lifecycle runs the registration transitions of admitted products.
type Lifecycle interface {
	Register(ctx context.Context, res *admission.Result) registration.Transition
	ListAndReveal(ctx context.Context, id spec.ProductID) []registration.Transition
}

// Handler serves the onboarding API.
type Handler struct {
	logger     *zap.Logger
	admitter   Admitter
	lifecycle  Lifecycle
	defaultEnv string
}

// NewHandler creates a Handler. lifecycle may be nil, in which case the
// register and list endpoints answer 503. defaultEnv is used by the product
// validation endpoint when the request names no environment.
func NewHandler(logger *zap.Logger, admitter Admitter, lifecycle Lifecycle, defaultEnv string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger, admitter: admitter, lifecycle: lifecycle, defaultEnv: defaultEnv}
}

// ValidateSpecification admits a specification document.
// POST /api/v1/specifications/validate?context=...
func (h *Handler) ValidateSpecification(c *fiber.Ctx) error {
	res, err := h.admitter.ValidateDocument(c.Context(), c.Body(), c.Query("context"))
	if err != nil {
		return h.reject(c, "api.validate_specification.rejected", err)
	}
	return c.Status(fiber.StatusOK).JSON(toAdmissionResponse(res))
}

// ValidateProduct re-validates a registered product.
// GET /api/v1/products/:productId/validate?environment=...
func (h *Handler) ValidateProduct(c *fiber.Ctx) error {
	env := c.Query("environment", h.defaultEnv)
	res, err := h.admitter.ValidateRegistered(c.Context(), c.Params("productId"), env)
	if err != nil {
		return h.reject(c, "api.validate_product.rejected", err)
	}
	return c.Status(fiber.StatusOK).JSON(toAdmissionResponse(res))
}

// RegisterSpecification admits and registers a specification document.
// POST /api/v1/specifications/register?context=...
func (h *Handler) RegisterSpecification(c *fiber.Ctx) error {
	if h.lifecycle == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "registration is not configured"})
	}
	res, err := h.admitter.ValidateDocument(c.Context(), c.Body(), c.Query("context"))
	if err != nil {
		return h.reject(c, "api.register_specification.rejected", err)
	}

	t := h.lifecycle.Register(c.Context(), res)
	return h.lifecycleResponse(c, res.ProductID, res.Warnings, []registration.Transition{t})
}

// ListProduct lists and reveals a registered product.
// POST /api/v1/products/:productId/list
func (h *Handler) ListProduct(c *fiber.Ctx) error {
	if h.lifecycle == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "exchange is not configured"})
	}
	id, err := spec.ParseProductID(c.Params("productId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error(), Kind: string(admission.KindMalformedInput)})
	}

	ts := h.lifecycle.ListAndReveal(c.Context(), id)
	return h.lifecycleResponse(c, id, nil, ts)
}

func (h *Handler) lifecycleResponse(c *fiber.Ctx, id spec.ProductID, warnings []string, ts []registration.Transition) error {
	status := fiber.StatusOK
	if err := registration.FirstError(ts...); err != nil {
		status = statusFor(admission.KindOf(err))
		h.logger.Warn("api.transition_failed", zap.String("product_id", id.Hex()), zap.Error(err))
	}
	return c.Status(status).JSON(LifecycleResponse{
		ProductID:   id.Hex(),
		Warnings:    warnings,
		Transitions: toTransitionResponses(ts),
	})
}

func (h *Handler) reject(c *fiber.Ctx, event string, err error) error {
	kind := admission.KindOf(err)
	status := statusFor(kind)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(event, zap.String("kind", string(kind)), zap.Error(err))
	} else {
		h.logger.Info(event, zap.String("kind", string(kind)), zap.Error(err))
	}
	return c.Status(status).JSON(toErrorResponse(err))
}
