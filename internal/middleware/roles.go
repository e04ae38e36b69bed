package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

// Roles carried in the token role claim.
const (
	AuthRoleStudent = "student"

	RoleAdmin   = "admin"
	RoleProctor = "proctor"
	RoleSupport = "support"
)

// ReviewerRoles may read admin review data.
var ReviewerRoles = []string{RoleAdmin, RoleProctor, RoleSupport}

// RequireRole admits only callers whose role claim is one of roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[normalizeRoleValue(c.Locals("user_role"))]; !ok {
			return forbidden(c)
		}
		return c.Next()
	}
}

// RequireStudent admits exam takers. Tokens without a role claim are issued
// to students, so an empty role passes.
func RequireStudent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if strings.TrimSpace(userID) == "" {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, "authentication required")
		}
		switch normalizeRoleValue(c.Locals("user_role")) {
		case "", AuthRoleStudent:
			return c.Next()
		default:
			return forbidden(c)
		}
	}
}

func forbidden(c *fiber.Ctx) error {
	return utils.SendErrorCode(c, fiber.StatusForbidden, dto.ErrorCodeForbidden, "insufficient permissions")
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", v)))
	}
}
