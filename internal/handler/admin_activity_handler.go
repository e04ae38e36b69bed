package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/service"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

const (
	defaultAuditPageSize = 25
	maxAuditPageSize     = 200
)

// AdminActivityHandler exposes the audit trail of session and review actions.
type AdminActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewAdminActivityHandler constructs the handler.
func NewAdminActivityHandler(service service.ActivityService, logger zerolog.Logger) *AdminActivityHandler {
	return &AdminActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_activity_handler").Logger(),
	}
}

// Register attaches audit routes to the router group.
func (h *AdminActivityHandler) Register(router fiber.Router) {
	router.Get("", h.list)
}

// list answers GET /admin/audit?session_id=&actor_id=&action=&since=&page=&page_size=.
func (h *AdminActivityHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, "invalid page size")
	}

	req := dto.AdminActivityListRequest{
		Page:       max(page, 1),
		PageSize:   clampPageSize(pageSize),
		ActorID:    strings.TrimSpace(c.Query("actor_id")),
		Action:     strings.TrimSpace(c.Query("action")),
		EntityType: strings.TrimSpace(c.Query("entity_type")),
		SessionID:  strings.TrimSpace(c.Query("session_id")),
	}

	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, "since must be an RFC3339 timestamp")
		}
		req.Since = &since
	}

	response, err := h.service.List(requestContext(c), req)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("session_id", req.SessionID).Msg("failed to list activity logs")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, dto.ErrorCodeInternal, "failed to list activity logs")
	}

	return utils.OK(c, response.Items, "activity logs", response.Pagination)
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return defaultAuditPageSize
	case size > maxAuditPageSize:
		return maxAuditPageSize
	default:
		return size
	}
}
