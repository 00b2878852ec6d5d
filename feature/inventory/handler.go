package inventory

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"safestock/core/logger"
	"safestock/feature/inventory/models"
)

// Handler handles HTTP requests for inventory.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the inventory routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/inventory")
	group.Post("/reserve", h.HandleReserve)
	group.Post("/confirm", h.HandleConfirm)
	group.Post("/cancel", h.HandleCancel)
	group.Post("/reduce", h.HandleReduce)
	group.Get("/:productId", h.HandleSnapshot)
}

type reserveRequest struct {
	ProductID int    `json:"product_id"`
	Quantity  int    `json:"quantity"`
	RequestID string `json:"request_id"`
}

type settleRequest struct {
	RequestID string `json:"request_id"`
}

type reduceRequest struct {
	ProductID  int  `json:"product_id"`
	Quantity   int  `json:"quantity"`
	Sequential bool `json:"sequential"`
}

// businessOutcome maps the expected domain refusals onto a 200 response
// with success=false, so callers can branch without parsing status
// codes. Anything else is an infrastructure failure.
func businessOutcome(err error) (string, bool) {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock", true
	case errors.Is(err, models.ErrVersionConflict):
		return "conflict_retry", true
	case errors.Is(err, models.ErrDuplicateRequest):
		return "duplicate_request", true
	case errors.Is(err, models.ErrNotPending):
		return "not_pending", true
	case errors.Is(err, models.ErrProductNotFound):
		return "product_not_found", true
	case errors.Is(err, models.ErrReservationNotFound):
		return "reservation_not_found", true
	}
	return "", false
}

func (h *Handler) respond(c *fiber.Ctx, l *zap.Logger, op string, err error) error {
	if err == nil {
		return c.JSON(fiber.Map{"success": true})
	}
	if reason, ok := businessOutcome(err); ok {
		l.Info("request refused",
			zap.String("op", op),
			zap.String("reason", reason))
		return c.JSON(fiber.Map{"success": false, "reason": reason})
	}
	l.Error("request failed", zap.String("op", op), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}

// HandleReserve places a reservation (the try phase).
func (h *Handler) HandleReserve(c *fiber.Ctx) error {
	l := logger.WithRequestID(h.service.logger, c)

	var req reserveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.ProductID <= 0 || req.Quantity <= 0 || req.RequestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "product_id, quantity and request_id required"})
	}

	err := h.service.Reserve(c.Context(), req.ProductID, req.Quantity, req.RequestID)
	return h.respond(c, l, "reserve", err)
}

// HandleConfirm seals a reservation as confirmed.
func (h *Handler) HandleConfirm(c *fiber.Ctx) error {
	l := logger.WithRequestID(h.service.logger, c)

	var req settleRequest
	if err := c.BodyParser(&req); err != nil || req.RequestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "request_id required"})
	}

	err := h.service.Confirm(c.Context(), req.RequestID)
	return h.respond(c, l, "confirm", err)
}

// HandleCancel rolls a reservation back and restores its stock.
func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	l := logger.WithRequestID(h.service.logger, c)

	var req settleRequest
	if err := c.BodyParser(&req); err != nil || req.RequestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "request_id required"})
	}

	err := h.service.Cancel(c.Context(), req.RequestID)
	return h.respond(c, l, "cancel", err)
}

// HandleReduce applies a direct deduction, optionally via the
// pointer-guided sequential path.
func (h *Handler) HandleReduce(c *fiber.Ctx) error {
	l := logger.WithRequestID(h.service.logger, c)

	var req reduceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.ProductID <= 0 || req.Quantity <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "product_id and quantity required"})
	}

	var err error
	if req.Sequential {
		err = h.service.ReduceSequential(c.Context(), req.ProductID, req.Quantity)
	} else {
		err = h.service.Reduce(c.Context(), req.ProductID, req.Quantity)
	}
	return h.respond(c, l, "reduce", err)
}

// HandleSnapshot returns the current stock row for a product.
func (h *Handler) HandleSnapshot(c *fiber.Ctx) error {
	l := logger.WithRequestID(h.service.logger, c)

	productID, err := c.ParamsInt("productId")
	if err != nil || productID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	inv, err := h.service.Snapshot(c.Context(), productID)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "product not found"})
		}
		l.Error("snapshot failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{
		"product_id":      inv.ProductID,
		"total_stock":     inv.TotalStock,
		"available_stock": inv.AvailableStock,
		"version":         inv.Version,
	})
}
