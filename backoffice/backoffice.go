package backoffice

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"tierpress/cache"
	"tierpress/common"
	"tierpress/config"
	"tierpress/errs"
	"tierpress/models"
	"tierpress/moderation"
	"tierpress/ratelimit"
)

const adminUserKey = "admin_user"

const reportQueueLimit = 200

type BackofficeModule struct {
	db          *gorm.DB
	sweeper     *moderation.Sweeper
	limiter     *ratelimit.Limiter
	renders     *cache.RenderCache
	appOrigin   string
	adminEmails []string
	responder   common.Responder
}

func NewBackofficeModule(db *gorm.DB, sweeper *moderation.Sweeper, limiter *ratelimit.Limiter, renders *cache.RenderCache, cfg *config.Config) *BackofficeModule {
	return &BackofficeModule{
		db:          db,
		sweeper:     sweeper,
		limiter:     limiter,
		renders:     renders,
		appOrigin:   cfg.AppOrigin,
		adminEmails: cfg.AdminEmailList(),
		responder:   common.NewResponder(log.With().Str("module", "backoffice").Logger()),
	}
}

func (b *BackofficeModule) RegisterRoutes(router *gin.Engine) {
	sameOrigin := common.RequireSameOrigin(b.appOrigin)

	group := router.Group("/api/admin")
	group.Use(common.RequireUser())
	{
		group.GET("/publications", b.requireAdmin, b.publications)
		group.GET("/reports", b.requireAdmin, b.reports)
		group.POST("/users/:id/verify", sameOrigin, b.requireAdmin, b.verifyUser)
		group.POST("/cache/purge", sameOrigin, b.requireAdmin, b.purgeCache)
		group.POST("/moderation/scan", sameOrigin, b.requireAdmin, b.scan)
	}
}

// requireAdmin lets through platform admins only.
func (b *BackofficeModule) requireAdmin(c *gin.Context) {
	var user models.User
	if err := b.db.First(&user, c.GetInt(common.SessionUserKey)).Error; err != nil {
		b.responder.WriteError(c, errs.NewForbiddenError("platform admins only"))
		c.Abort()
		return
	}
	if !common.IsPlatformAdmin(&user, b.adminEmails) {
		b.responder.WriteError(c, errs.NewForbiddenError("platform admins only"))
		c.Abort()
		return
	}

	c.Set(adminUserKey, user)
	c.Next()
}

func (b *BackofficeModule) publications(c *gin.Context) {
	type publicationWithStats struct {
		models.Publication
		OwnerEmail string `json:"owner_email"`
		PostCount  int64  `json:"post_count"`
	}

	var rows []publicationWithStats
	err := b.db.Model(&models.Publication{}).
		Select("publications.*, users.email AS owner_email, " +
			"(SELECT COUNT(*) FROM posts WHERE posts.publication_id = publications.id) AS post_count").
		Joins("JOIN users ON users.id = publications.user_id").
		Order("publications.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("list", "publications", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"publications": rows})
}

func (b *BackofficeModule) reports(c *gin.Context) {
	query := b.db.Model(&models.Report{})
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseReportStatus(raw)
		if err != nil {
			b.responder.WriteError(c, errs.NewInvalidFieldError("status", "unknown status"))
			return
		}
		query = query.Where("status = ?", status)
	}

	var reports []models.Report
	if err := query.Order("created_at DESC").Limit(reportQueueLimit).Find(&reports).Error; err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("list", "reports", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (b *BackofficeModule) verifyUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		b.responder.WriteError(c, errs.NewNotFound("user"))
		return
	}

	var user models.User
	if err := b.db.First(&user, id).Error; err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("load", "user", err))
		return
	}

	err = b.db.Model(&user).Updates(map[string]interface{}{
		"email_verified":           true,
		"email_verification_token": "",
	}).Error
	if err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("update", "user", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "emailVerified": true})
}

func (b *BackofficeModule) purgeCache(c *gin.Context) {
	purged := 0
	if b.renders != nil {
		purged = b.renders.Len()
		b.renders.Purge()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "purged": purged})
}

func (b *BackofficeModule) scan(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	limit, err := b.limiter.ConsumePolicy(c.Request.Context(), "user:"+strconv.Itoa(userID), ratelimit.ModerationScanPolicy)
	if err != nil {
		b.responder.WriteError(c, err)
		return
	}
	if !limit.Allowed {
		b.responder.WriteError(c, errs.NewRateLimitedError(limit.RetryAfterSeconds))
		return
	}

	result, err := b.sweeper.Run(c.Request.Context())
	if err != nil {
		b.responder.WriteError(c, errs.NewInternalErrorWithCause("moderation sweep failed", err))
		return
	}

	b.responder.Logger().Info().
		Int("userID", userID).
		Int("scanned", result.Scanned).
		Int("unpublished", result.UnpublishedPosts).
		Int("reports", result.CreatedReports).
		Msg("moderation sweep triggered")

	c.JSON(http.StatusOK, result)
}
