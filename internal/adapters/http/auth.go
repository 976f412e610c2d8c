package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/voicechat/internal/datastore"
	"github.com/dkeye/voicechat/internal/domain"
)

const (
	sessionName    = "VoiceChatSession"
	sessionUserKey = "user_id"
	ctxUserKey     = "user"

	minPasswordLen = 4
	maxPasswordLen = 128
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID domain.UserID `json:"uid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Auth resolves the caller from the cookie session or a bearer token.
type Auth struct {
	store      datastore.Store
	secret     []byte
	ttl        time.Duration
	inviteCode string
}

func NewAuth(store datastore.Store, secret string, ttl time.Duration, inviteCode string) *Auth {
	return &Auth{store: store, secret: []byte(secret), ttl: ttl, inviteCode: inviteCode}
}

func (a *Auth) IssueToken(uid domain.UserID) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(int64(uid), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// resolve returns the authenticated user or nil. Browser clients carry a
// cookie session; other clients send a bearer token, or ?token= for websockets.
func (a *Auth) resolve(c *gin.Context) (*domain.User, error) {
	if v := sessions.Default(c).Get(sessionUserKey); v != nil {
		if id, ok := v.(int64); ok {
			return a.store.GetUser(c.Request.Context(), domain.UserID(id))
		}
	}
	token := c.Query("token")
	if authz := c.GetHeader("Authorization"); token == "" && len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		token = strings.TrimSpace(authz[7:])
	}
	if token == "" {
		return nil, nil
	}
	claims, err := a.ParseToken(token)
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.http").Msg("rejecting token")
		return nil, nil
	}
	return a.store.GetUser(c.Request.Context(), claims.UserID)
}

// Required rejects unauthenticated requests before any handler runs.
func (a *Auth) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := a.resolve(c)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("auth lookup")
			c.AbortWithStatusJSON(stdhttp.StatusInternalServerError, gin.H{"error": "auth unavailable"})
			return
		}
		if u == nil {
			c.AbortWithStatusJSON(stdhttp.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ctxUserKey, u)
		c.Next()
	}
}

// AdminOnly must run after Required.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := CurrentUser(c); u == nil || !u.IsAdmin {
			c.AbortWithStatusJSON(stdhttp.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *domain.User {
	if v, ok := c.Get(ctxUserKey); ok {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

type credentials struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	InviteCode string `json:"invite_code"`
}

// register creates an account. The first account becomes the administrator.
func (a *Auth) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if a.inviteCode != "" && req.InviteCode != a.inviteCode {
		c.JSON(stdhttp.StatusForbidden, gin.H{"error": "invalid invite code"})
		return
	}
	if n := utf8.RuneCountInString(req.Password); n < minPasswordLen || n > maxPasswordLen {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	user, err := domain.NewUser(req.Username)
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if user.PasswordHash, err = HashPassword(req.Password); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("username", user.Username).Msg("register hash password")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	ctx := c.Request.Context()
	if n, err := a.store.CountUsers(ctx); err == nil && n == 0 {
		user.IsAdmin = true
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, datastore.ErrUsernameTaken) {
			c.JSON(stdhttp.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Str("username", user.Username).Msg("register create user")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	log.Info().Str("module", "adapters.http").Int64("user", int64(user.ID)).Bool("admin", user.IsAdmin).Msg("registered")
	c.JSON(stdhttp.StatusCreated, user)
}

func (a *Auth) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := a.lookup(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("login lookup")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if user == nil || !VerifyPassword(user.PasswordHash, req.Password) {
		c.JSON(stdhttp.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := a.IssueToken(user.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Int64("user", int64(user.ID)).Msg("login issue token")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionUserKey, int64(user.ID))
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("login save session")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"access_token": token, "user": user})
}

func (a *Auth) lookup(ctx context.Context, username string) (*domain.User, error) {
	if username == "" {
		return nil, nil
	}
	return a.store.GetUserByUsername(ctx, username)
}

func (a *Auth) logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = sess.Save()
	c.Status(stdhttp.StatusNoContent)
}
