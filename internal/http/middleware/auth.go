package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const headerAPIKey = "X-API-Key"

// AuthMiddleware authenticates requests two ways: a Bearer HS256 token
// whose subject is the user id, or an API key of the form
// "<user_uuid>.<secret>" verified with bcrypt against the stored hash.
// Token issuance lives outside this service.
type AuthMiddleware struct {
	log    *logger.Logger
	users  repos.UserRepo
	secret []byte
}

func NewAuthMiddleware(baseLog *logger.Logger, users repos.UserRepo) *AuthMiddleware {
	return &AuthMiddleware{
		log:    baseLog.With("middleware", "AuthMiddleware"),
		users:  users,
		secret: []byte(strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))),
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := am.authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": err.Error(), "code": "unauthorized"},
			})
			return
		}

		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			UserID:  user.ID,
			Tier:    user.Tier,
			IsAdmin: user.IsAdmin,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (am *AuthMiddleware) authenticate(c *gin.Context) (*types.User, error) {
	if key := strings.TrimSpace(c.GetHeader(headerAPIKey)); key != "" {
		return am.userFromAPIKey(c, key)
	}
	if token := extractBearer(c); token != "" {
		return am.userFromJWT(c, token)
	}
	return nil, fmt.Errorf("missing credentials")
}

func (am *AuthMiddleware) userFromJWT(c *gin.Context, tokenString string) (*types.User, error) {
	if len(am.secret) == 0 {
		return nil, fmt.Errorf("token auth not configured")
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return am.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("invalid token subject")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("invalid token subject")
	}
	return am.loadUser(c, userID)
}

func (am *AuthMiddleware) userFromAPIKey(c *gin.Context, key string) (*types.User, error) {
	idPart, secret, ok := strings.Cut(key, ".")
	if !ok {
		return nil, fmt.Errorf("malformed api key")
	}
	userID, err := uuid.Parse(idPart)
	if err != nil {
		return nil, fmt.Errorf("malformed api key")
	}
	user, err := am.loadUser(c, userID)
	if err != nil {
		return nil, err
	}
	if user.APIKeyHash == "" {
		return nil, fmt.Errorf("api key not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.APIKeyHash), []byte(secret)); err != nil {
		return nil, fmt.Errorf("invalid api key")
	}
	return user, nil
}

func (am *AuthMiddleware) loadUser(c *gin.Context, userID uuid.UUID) (*types.User, error) {
	user, err := am.users.GetByID(dbctx.Context{Ctx: c.Request.Context()}, userID)
	if err != nil {
		am.log.Warn("user lookup failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("user lookup failed")
	}
	if user == nil {
		return nil, fmt.Errorf("unknown user")
	}
	return user, nil
}

func extractBearer(c *gin.Context) string {
	// SSE clients can't set headers from EventSource, so a query token is
	// accepted too.
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
