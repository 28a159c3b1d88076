package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/engine"
	"github.com/Checker-Finance/marketplace-sync/internal/integrity"
	"github.com/Checker-Finance/marketplace-sync/internal/syncer"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// Service is the engine surface exposed over HTTP.
type Service interface {
	StartSync(ctx context.Context, domain string) (model.SyncProgress, error)
	PauseSync(domain string) error
	GetSyncStatus(ctx context.Context, domain string) (model.SyncProgress, error)
	ListStatuses(ctx context.Context) ([]model.SyncProgress, error)
	ResetProgress(ctx context.Context, domain string) error
	RunIntegrityCheck(ctx context.Context, opts integrity.Options) (integrity.Report, error)
	RepairRecentAnomalies(ctx context.Context, windowDays int) (integrity.RepairResult, error)
	IntegrityStatus() engine.IntegrityStatus
	ProductEconomics(ctx context.Context, asin string, windowDays int) (model.Economics, error)
}

var _ Service = (*engine.Engine)(nil)

// Handler serves the sync and integrity control endpoints.
type Handler struct {
	logger  *zap.Logger
	service Service
}

// NewHandler creates a new Handler.
func NewHandler(logger *zap.Logger, service Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// StartSync starts or resumes a domain and returns its progress.
func (h *Handler) StartSync(c *fiber.Ctx) error {
	domain := c.Params("domain")
	p, err := h.service.StartSync(c.UserContext(), domain)
	if err != nil {
		return h.fail(c, "api.sync_start_failed", domain, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(p)
}

// PauseSync requests a pause; the run stops after the identifier in flight.
func (h *Handler) PauseSync(c *fiber.Ctx) error {
	domain := c.Params("domain")
	if err := h.service.PauseSync(domain); err != nil {
		return h.fail(c, "api.sync_pause_failed", domain, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"domain": domain, "pause_requested": true})
}

// ResetSync discards a domain's checkpoint.
func (h *Handler) ResetSync(c *fiber.Ctx) error {
	domain := c.Params("domain")
	if err := h.service.ResetProgress(c.UserContext(), domain); err != nil {
		return h.fail(c, "api.sync_reset_failed", domain, err)
	}
	return c.JSON(fiber.Map{"domain": domain, "reset": true})
}

// SyncStatus returns one domain's progress.
func (h *Handler) SyncStatus(c *fiber.Ctx) error {
	domain := c.Params("domain")
	p, err := h.service.GetSyncStatus(c.UserContext(), domain)
	if err != nil {
		return h.fail(c, "api.sync_status_failed", domain, err)
	}
	return c.JSON(p)
}

// ListSync returns every domain's progress.
func (h *Handler) ListSync(c *fiber.Ctx) error {
	list, err := h.service.ListStatuses(c.UserContext())
	if err != nil {
		return h.fail(c, "api.sync_list_failed", "", err)
	}
	return c.JSON(fiber.Map{"domains": list})
}

// IntegrityCheck runs a check with the posted parameters.
func (h *Handler) IntegrityCheck(c *fiber.Ctx) error {
	var req IntegrityCheckRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rep, err := h.service.RunIntegrityCheck(c.UserContext(), req.options())
	if err != nil {
		return h.fail(c, "api.integrity_check_failed", "", err)
	}
	return c.JSON(rep)
}

// IntegrityRepair repairs recent order lines.
func (h *Handler) IntegrityRepair(c *fiber.Ctx) error {
	var req RepairRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	res, err := h.service.RepairRecentAnomalies(c.UserContext(), req.Days)
	if err != nil {
		return h.fail(c, "api.integrity_repair_failed", "", err)
	}
	return c.JSON(res)
}

// IntegrityStatus returns the last check and repair and the operator flags.
func (h *Handler) IntegrityStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.IntegrityStatus())
}

// ProductEconomics returns revenue, units and the cost-derived figures of one ASIN.
func (h *Handler) ProductEconomics(c *fiber.Ctx) error {
	asin := c.Params("asin")
	days := c.QueryInt("days", 30)
	if days <= 0 || days > maxWindowDays {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "days must be between 1 and 365"})
	}

	econ, err := h.service.ProductEconomics(c.UserContext(), asin, days)
	if err != nil {
		return h.fail(c, "api.economics_failed", "", err)
	}
	return c.JSON(fiber.Map{"asin": asin, "window_days": days, "economics": econ})
}

func (h *Handler) fail(c *fiber.Ctx, msg, domain string, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownDomain):
		code = fiber.StatusNotFound
	case errors.Is(err, syncer.ErrSyncRunning):
		code = fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusGatewayTimeout
	}
	if code >= fiber.StatusInternalServerError {
		h.logger.Error(msg, zap.String("domain", domain), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (r IntegrityCheckRequest) options() integrity.Options {
	return integrity.Options{
		WindowDays:      r.Window,
		MaxRecords:      r.MaxRecords,
		Timeout:         time.Duration(r.TimeoutMs) * time.Millisecond,
		SamplingEnabled: r.EnableSampling,
		SamplingPct:     r.SamplingPercentage,
	}
}
