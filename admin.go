// admin.go - privacy-conscious admin API over the activity store
package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminCookie     = "admin_token"
	adminSessionTTL = 24 * time.Hour
)

type AdminHandler struct {
	cfg       AdminConfig
	store     *Store
	retention time.Duration
	hasher    *IPHasher
	logger    *zap.Logger
	now       func() time.Time
}

func NewAdminHandler(cfg AdminConfig, store *Store, retention time.Duration, hasher *IPHasher, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cfg:       cfg,
		store:     store,
		retention: retention,
		hasher:    hasher,
		logger:    logger.Named("admin"),
		now:       time.Now,
	}
}

// Register mounts the login endpoints and the protected /admin/api group.
func (a *AdminHandler) Register(r *gin.Engine) {
	r.POST("/admin/login", a.Login)
	r.POST("/admin/logout", a.Logout)

	api := r.Group("/admin/api")
	api.Use(a.AuthMiddleware())
	{
		api.GET("/stats", a.Stats)
		api.GET("/visitors", a.Visitors)
		api.POST("/privacy/cleanup", a.Cleanup)
		api.GET("/export/stats", a.ExportStats)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	client := a.hasher.Hash(c.ClientIP())
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.cfg.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(req.Password)) == nil
	if !userOK || !passOK {
		a.logger.Warn("Failed admin login attempt", zap.String("client", client))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := a.issueToken(req.Username)
	if err != nil {
		a.logger.Error("Failed to sign admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(adminCookie, token, int(adminSessionTTL.Seconds()), "/admin", "", a.secureCookie(c), true)
	a.logger.Info("Admin login successful", zap.String("client", client))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *AdminHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(adminCookie, "", -1, "/admin", "", a.secureCookie(c), true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *AdminHandler) secureCookie(c *gin.Context) bool {
	return a.cfg.SecureCookie || c.Request.TLS != nil
}

func (a *AdminHandler) issueToken(username string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(adminSessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.JWTSecret))
}

func (a *AdminHandler) parseToken(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	if claims.Subject != a.cfg.Username {
		return "", errors.New("token subject is not the admin user")
	}
	return claims.Subject, nil
}

func (a *AdminHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(adminCookie)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		if _, err := a.parseToken(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (a *AdminHandler) Stats(c *gin.Context) {
	stats, err := a.store.Stats(c.Request.Context())
	if err != nil {
		a.logger.Error("Error loading admin stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *AdminHandler) Visitors(c *gin.Context) {
	visitors, err := a.store.RecentVisitors(c.Request.Context(), 200)
	if err != nil {
		a.logger.Error("Error loading visitors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load visitors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"visitors": visitors})
}

func (a *AdminHandler) Cleanup(c *gin.Context) {
	deleted, err := a.store.Cleanup(c.Request.Context(), a.retention)
	if err != nil {
		a.logger.Error("Privacy cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}
	a.logger.Info("Privacy cleanup", zap.Int64("rows_deleted", deleted))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (a *AdminHandler) ExportStats(c *gin.Context) {
	stats, err := a.store.Stats(c.Request.Context())
	if err != nil {
		a.logger.Error("Error exporting admin stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename=admin-stats.json")
	a.logger.Info("Admin stats exported", zap.String("client", a.hasher.Hash(c.ClientIP())))
	c.JSON(http.StatusOK, stats)
}
