package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
	"github.com/noah-isme/fairgig-proctor/internal/service"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

// AdminReviewHandler exposes session review and snapshot verdict endpoints.
type AdminReviewHandler struct {
	service service.AdminReviewService
	logger  zerolog.Logger
}

// NewAdminReviewHandler constructs the handler.
func NewAdminReviewHandler(service service.AdminReviewService, logger zerolog.Logger) *AdminReviewHandler {
	return &AdminReviewHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_review_handler").Logger(),
	}
}

// Register attaches review routes to the admin router group.
func (h *AdminReviewHandler) Register(router fiber.Router) {
	readers := middleware.RequireRole(middleware.ReviewerRoles...)
	router.Get("/sessions", readers, h.listSessions)
	router.Get("/sessions/:id", readers, h.getSession)
	router.Patch("/snapshots/:id", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleProctor), h.reviewSnapshot)
}

func (h *AdminReviewHandler) listSessions(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	req := dto.AdminSessionListRequest{
		Status:   strings.TrimSpace(c.Query("status")),
		Page:     page,
		PageSize: limit,
	}

	response, err := h.service.ListSessions(requestContext(c), req)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list sessions")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list sessions")
	}

	return utils.OK(c, response.Items, "sessions", response.Pagination)
}

func (h *AdminReviewHandler) getSession(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("id"))
	if sessionID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "session id required")
	}

	response, err := h.service.GetSession(requestContext(c), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return utils.SendErrorCode(c, fiber.StatusNotFound, dto.ErrorCodeSessionNotFound, "session not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load session")
	}

	return utils.SendSuccess(c, "session detail", response)
}

func (h *AdminReviewHandler) reviewSnapshot(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid snapshot id")
	}

	var payload dto.SnapshotReviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.ReviewSnapshot(requestContext(c), activityActorFromContext(c), uint(id), payload)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrSnapshotNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "snapshot not found")
		case errors.Is(err, service.ErrSnapshotReviewed):
			return utils.SendError(c, fiber.StatusConflict, "snapshot already reviewed")
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint64("snapshot_id", id).Msg("failed to review snapshot")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to review snapshot")
		}
	}

	return utils.SendSuccess(c, "snapshot reviewed", response)
}
