package middleware

import (
	"net/http"
	"os"
	"strings"

	"changerequest/internal/model"
	"changerequest/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func GetJWTSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		secret = "default_super_secret_key" // Development fallback only — DO NOT use in production
	}
	return []byte(secret)
}

// Permission codes checked by handlers.
const (
	PermHistoryView     = "history.view"
	PermHistorySubmit   = "history.submit"
	PermHistoryModerate = "history.moderate"
	PermUsersRead       = "users.read"
	PermUsersWrite      = "users.write"
)

// rolePermissions maps a role onto its permission codes. Capabilities the
// change request engine consumes (moderator, auto-approve) are resolved
// separately in the service layer; this table only gates HTTP routes.
var rolePermissions = map[string][]string{
	model.RoleAdmin: {
		PermHistoryView, PermHistorySubmit, PermHistoryModerate,
		PermUsersRead, PermUsersWrite,
	},
	model.RoleModerator: {
		PermHistoryView, PermHistorySubmit, PermHistoryModerate,
	},
	model.RoleMember: {
		PermHistoryView, PermHistorySubmit,
	},
}

// SetTokenCookie stores the JWT as an HttpOnly cookie so browser clients
// never touch the token from script.
func SetTokenCookie(c *gin.Context, token string) {
	secure := os.Getenv("GIN_MODE") == "release"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("access_token", token, 3600*24, "/", "", secure, true)
}

// ClearTokenCookie removes the auth cookie on logout.
func ClearTokenCookie(c *gin.Context) {
	c.SetCookie("access_token", "", -1, "/", "", false, true)
}

// GetClientIP extracts the originating address, preferring the first entry
// of X-Forwarded-For over the socket peer.
func GetClientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if addr := strings.TrimSpace(parts[0]); addr != "" {
			return addr
		}
	}
	return c.ClientIP()
}

// CurrentUserID returns the authenticated actor id set by RequireAuth.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := c.Get("userID")
	if !ok {
		return uuid.Nil, false
	}
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequireAuth validates the JWT (cookie first, Authorization header as
// fallback) and stores userID/userRole on the request context.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c)
	}
}

func authenticate(c *gin.Context) bool {
	tokenString, cookieErr := c.Cookie("access_token")
	if cookieErr != nil || tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return false
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
			return false
		}
		tokenString = parts[1]
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return GetJWTSecret(), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
		return false
	}

	userRole, ok := claims["role"].(string)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Role not found in token"))
		return false
	}

	c.Set("userID", claims["sub"])
	c.Set("userRole", userRole)
	return true
}

// RequirePermission validates the JWT and checks the user's role grants
// every listed permission code.
func RequirePermission(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c) {
			return
		}

		userRole, _ := c.Get("userRole")
		role, _ := userRole.(string)

		permSet := make(map[string]bool)
		for _, p := range rolePermissions[role] {
			permSet[p] = true
		}

		for _, required := range requiredPerms {
			if !permSet[required] {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+required+"'"))
				return
			}
		}
	}
}
