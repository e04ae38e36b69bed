package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/service"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

// FrameHandler accepts webcam frames from exam clients.
type FrameHandler struct {
	service service.FrameIngestionService
	logger  zerolog.Logger
	now     func() time.Time
}

// NewFrameHandler constructs a frame ingestion handler.
func NewFrameHandler(service service.FrameIngestionService, logger zerolog.Logger) *FrameHandler {
	return &FrameHandler{
		service: service,
		logger:  logger.With().Str("component", "frame_handler").Logger(),
		now:     time.Now,
	}
}

// Register binds the ingestion route.
func (h *FrameHandler) Register(router fiber.Router) {
	router.Post("/frame", h.ingest)
}

func (h *FrameHandler) ingest(c *fiber.Ctx) error {
	receivedAt := h.now().UTC()

	studentID := localString(c, "user_id")
	if studentID == "" {
		return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, "user not authenticated")
	}

	var payload dto.FramePayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, "invalid payload")
	}

	response, err := h.service.Ingest(requestContext(c), studentID, payload, receivedAt)
	if err != nil {
		return h.writeError(c, err, payload)
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *FrameHandler) writeError(c *fiber.Ctx, err error, payload dto.FramePayload) error {
	switch {
	case errors.Is(err, service.ErrInvalidFrame), isValidationError(err):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, dto.ErrorCodeInvalidRequest, "invalid frame payload")
	case errors.Is(err, service.ErrSessionNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, dto.ErrorCodeSessionNotFound, "session not found")
	case errors.Is(err, service.ErrSessionInactive):
		return utils.SendErrorCode(c, fiber.StatusForbidden, dto.ErrorCodeSessionInactive, "session is not active")
	case errors.Is(err, service.ErrRateLimited):
		return utils.SendErrorCode(c, fiber.StatusTooManyRequests, dto.ErrorCodeRateLimit, "too many frames")
	case errors.Is(err, service.ErrFrameTooLarge):
		return utils.SendErrorCode(c, fiber.StatusRequestEntityTooLarge, dto.ErrorCodeFrameTooLarge, "frame exceeds maximum size")
	default:
		requestLogger(h.logger, c).Error().
			Err(err).
			Str("session_id", payload.SessionID).
			Int64("sequence_number", payload.SequenceNumber).
			Msg("failed to ingest frame")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, dto.ErrorCodeInternal, "failed to process frame")
	}
}

// FrameErrorHandler maps fiber-level failures such as oversized bodies to the
// ingestion error envelope.
func FrameErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	log := logger.With().Str("component", "error_handler").Logger()
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			switch fiberErr.Code {
			case fiber.StatusRequestEntityTooLarge:
				return utils.SendErrorCode(c, fiber.StatusRequestEntityTooLarge, dto.ErrorCodeFrameTooLarge, "request body too large")
			case fiber.StatusInternalServerError:
			default:
				return utils.SendError(c, fiberErr.Code, fiberErr.Message)
			}
		}

		requestLogger(log, c).Error().Err(err).Str("path", c.Path()).Msg("unhandled request error")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, dto.ErrorCodeInternal, "internal server error")
	}
}
