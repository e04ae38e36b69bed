package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/utils"
)

var (
	subjectClaims = []string{"sub", "user_id", "id"}
	roleClaims    = []string{"role", "roles"}
)

// JWTProtected validates HMAC bearer tokens and binds user_id and user_role locals.
// Failures use the AUTH_INVALID error code so frame clients can classify them.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))
	key := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return authInvalid(c, "bearer token required")
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, key); err != nil {
			return authInvalid(c, "invalid token")
		}

		userID := firstClaim(claims, subjectClaims, claimSubject)
		if userID == "" {
			return authInvalid(c, "token has no subject")
		}
		c.Locals("user_id", userID)
		if role := firstClaim(claims, roleClaims, claimRole); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func authInvalid(c *fiber.Ctx, message string) error {
	return utils.SendErrorCode(c, fiber.StatusUnauthorized, dto.ErrorCodeAuthInvalid, message)
}

func firstClaim(claims jwt.MapClaims, keys []string, convert func(interface{}) string) string {
	for _, key := range keys {
		if value := convert(claims[key]); value != "" {
			return value
		}
	}
	return ""
}

// claimSubject accepts string subjects and non-negative numeric ids.
func claimSubject(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v >= 0 {
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

// claimRole accepts a single role or the first non-empty entry of a list.
func claimRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if role := claimRole(item); role != "" {
				return role
			}
		}
	}
	return ""
}
