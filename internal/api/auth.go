package api

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/assessment/internal/errors"
)

type Role string

const (
	RoleLearner Role = "learner"
	RoleAuthor  Role = "author"
	RoleAdmin   Role = "admin"
)

const identityKey = "identity"

// Claims are carried by the bearer token. The subject is the user id.
type Claims struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

type identity struct {
	UserID string
	Name   string
	Role   Role
}

// authoring reports whether the caller may see correct answers and other users' history.
func (i identity) authoring() bool {
	return i.Role == RoleAuthor || i.Role == RoleAdmin
}

func authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing bearer token")))
			return
		}

		token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"), errors.WithCause(err)))
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || claims.Subject == "" {
			abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject")))
			return
		}

		id := identity{
			UserID: claims.Subject,
			Name:   claims.Name,
			Role:   claims.Role,
		}
		if id.Role == "" {
			id.Role = RoleLearner
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func requireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityOf(c)
		if !slices.Contains(roles, id.Role) {
			abort(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("role %s is not allowed", id.Role)))
			return
		}
		c.Next()
	}
}

func identityOf(c *gin.Context) identity {
	id, _ := c.MustGet(identityKey).(identity)
	return id
}
