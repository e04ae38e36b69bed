package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
	"github.com/noah-isme/fairgig-proctor/internal/service"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

// SessionHandler exposes the student-facing exam session lifecycle.
type SessionHandler struct {
	service service.SessionService
	logger  zerolog.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(service service.SessionService, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register binds session routes to the router group.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Post("/", h.start)
	router.Get("/:id", h.get)
	router.Post("/:id/end", h.end)
	router.Post("/:id/abort", h.abort)
}

func (h *SessionHandler) start(c *fiber.Ctx) error {
	actor, ok := studentActor(c)
	if !ok {
		return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, "user not authenticated")
	}

	var payload dto.SessionStartRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, "invalid payload")
	}

	response, err := h.service.Start(requestContext(c), actor, payload)
	if err != nil {
		return h.writeError(c, err, "failed to start session")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "session started", response)
}

func (h *SessionHandler) get(c *fiber.Ctx) error {
	actor, ok := studentActor(c)
	if !ok {
		return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, "user not authenticated")
	}

	response, err := h.service.Get(requestContext(c), actor, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return h.writeError(c, err, "failed to load session")
	}

	return utils.SendSuccess(c, "session state", response)
}

func (h *SessionHandler) end(c *fiber.Ctx) error {
	actor, ok := studentActor(c)
	if !ok {
		return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, "user not authenticated")
	}

	response, err := h.service.End(requestContext(c), actor, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return h.writeError(c, err, "failed to end session")
	}

	return utils.SendSuccess(c, "session completed", response)
}

func (h *SessionHandler) abort(c *fiber.Ctx) error {
	actor, ok := studentActor(c)
	if !ok {
		return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, "user not authenticated")
	}

	response, err := h.service.Abort(requestContext(c), actor, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return h.writeError(c, err, "failed to abort session")
	}

	return utils.SendSuccess(c, "session aborted", response)
}

func (h *SessionHandler) writeError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, service.ErrConsentRequired):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, err.Error())
	case isValidationError(err):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, dto.ErrorCodeSessionNotFound, "session not found")
	case errors.Is(err, service.ErrInvalidTransition):
		return utils.SendErrorCode(c, fiber.StatusConflict, dto.ErrorCodeSessionInactive, "session already ended")
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("session_id", c.Params("id")).Msg(message)
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, dto.ErrorCodeInternal, message)
	}
}

func studentActor(c *fiber.Ctx) (service.ActivityActor, bool) {
	actor := activityActorFromContext(c)
	if actor.ID == "" {
		return actor, false
	}
	if actor.Role == "" {
		actor.Role = middleware.AuthRoleStudent
	}
	return actor, true
}
