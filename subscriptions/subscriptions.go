package subscriptions

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tierpress/common"
	"tierpress/config"
	"tierpress/errs"
	"tierpress/models"
)

const WebhookSecretHeader = "X-Billing-Secret"

type SubscriptionsModule struct {
	db            *gorm.DB
	appOrigin     string
	webhookSecret string
	responder     common.Responder
}

func NewSubscriptionsModule(db *gorm.DB, cfg *config.Config) *SubscriptionsModule {
	return &SubscriptionsModule{
		db:            db,
		appOrigin:     cfg.AppOrigin,
		webhookSecret: cfg.BillingWebhookSecret,
		responder:     common.NewResponder(log.With().Str("module", "subscriptions").Logger()),
	}
}

func (m *SubscriptionsModule) RegisterRoutes(router *gin.Engine) {
	follow := router.Group("/api/publications/:slug/subscribe")
	follow.Use(common.RequireSameOrigin(m.appOrigin), common.RequireUser())
	{
		follow.POST("", m.follow)
		follow.DELETE("", m.unfollow)
	}

	// called server to server, so no origin check
	router.POST("/api/billing/webhook", m.webhook)
}

func (m *SubscriptionsModule) publicationBySlug(slug string) (*models.Publication, error) {
	var pub models.Publication
	if err := m.db.Where("slug = ?", slug).First(&pub).Error; err != nil {
		return nil, errs.NewDatabaseError("load", "publication", err)
	}
	return &pub, nil
}

// Follow creates a free subscription. An existing row keeps its tier; a lapsed
// free row becomes active again.
func Follow(db *gorm.DB, userID, publicationID int) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Subscription{
			UserID:        userID,
			PublicationID: publicationID,
			Tier:          models.TierFree,
			Status:        models.SubscriptionActive,
		}).Error
		if err != nil {
			return err
		}

		err = tx.Model(&models.Subscription{}).
			Where("user_id = ? AND publication_id = ? AND tier = ?", userID, publicationID, models.TierFree).
			Update("status", models.SubscriptionActive).Error
		if err != nil {
			return err
		}

		return tx.Where("user_id = ? AND publication_id = ?", userID, publicationID).First(&sub).Error
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (m *SubscriptionsModule) follow(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	pub, err := m.publicationBySlug(c.Param("slug"))
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}
	if pub.UserID == userID {
		m.responder.WriteError(c, errs.NewBadRequestError("cannot subscribe to your own publication"))
		return
	}

	sub, err := Follow(m.db, userID, pub.ID)
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("follow", "subscription", err))
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (m *SubscriptionsModule) unfollow(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	pub, err := m.publicationBySlug(c.Param("slug"))
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	var sub models.Subscription
	err = m.db.Where("user_id = ? AND publication_id = ?", userID, pub.ID).First(&sub).Error
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "subscription", err))
		return
	}
	if sub.Tier == models.TierPaid && sub.Status == models.SubscriptionActive {
		m.responder.WriteError(c, errs.NewConflictError("cancel the paid plan with the billing provider first"))
		return
	}

	if err := m.db.Where("user_id = ? AND publication_id = ?", userID, pub.ID).Delete(&models.Subscription{}).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("delete", "subscription", err))
		return
	}
	c.Status(http.StatusNoContent)
}

type webhookPayload struct {
	UserID        int    `json:"userId"`
	PublicationID int    `json:"publicationId"`
	Tier          string `json:"tier"`
	Status        string `json:"status"`
	BillingRef    string `json:"billingRef"`
}

func (p webhookPayload) subscription() (*models.Subscription, error) {
	if p.UserID <= 0 {
		return nil, errs.NewMissingRequiredFieldError("userId")
	}
	if p.PublicationID <= 0 {
		return nil, errs.NewMissingRequiredFieldError("publicationId")
	}
	tier, err := models.ParseSubscriptionTier(p.Tier)
	if err != nil {
		return nil, errs.NewInvalidFieldError("tier", "unknown tier")
	}
	status, err := models.ParseSubscriptionStatus(p.Status)
	if err != nil {
		return nil, errs.NewInvalidFieldError("status", "unknown status")
	}
	return &models.Subscription{
		UserID:        p.UserID,
		PublicationID: p.PublicationID,
		Tier:          tier,
		Status:        status,
		BillingRef:    common.PlainLine(p.BillingRef, 255),
	}, nil
}

func (m *SubscriptionsModule) authorizedWebhook(c *gin.Context) bool {
	if m.webhookSecret == "" {
		return false
	}
	given := c.GetHeader(WebhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(given), []byte(m.webhookSecret)) == 1
}

func (m *SubscriptionsModule) webhook(c *gin.Context) {
	logger := m.responder.Logger().With().Str("handlerName", "webhook").Logger()

	if !m.authorizedWebhook(c) {
		logger.Warn().Str("ip", common.ClientActor(c)).Msg("rejected billing webhook")
		m.responder.WriteError(c, errs.NewUnauthorizedError())
		return
	}

	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		m.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}
	sub, err := payload.subscription()
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	for _, check := range []struct {
		model  interface{}
		id     int
		entity string
	}{
		{&models.User{}, sub.UserID, "user"},
		{&models.Publication{}, sub.PublicationID, "publication"},
	} {
		var count int64
		if err := m.db.Model(check.model).Where("id = ?", check.id).Count(&count).Error; err != nil {
			m.responder.WriteError(c, errs.NewDatabaseError("load", check.entity, err))
			return
		}
		if count == 0 {
			m.responder.WriteError(c, errs.NewInvalidFieldError(check.entity+"Id", check.entity+" does not exist"))
			return
		}
	}

	err = m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "publication_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "status", "billing_ref", "updated_at"}),
	}).Create(sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			m.responder.WriteError(c, errs.NewConflictError("subscription changed concurrently"))
			return
		}
		m.responder.WriteError(c, errs.NewDatabaseError("upsert", "subscription", err))
		return
	}

	logger.Info().
		Int("userID", sub.UserID).
		Int("publicationID", sub.PublicationID).
		Str("tier", string(sub.Tier)).
		Str("status", string(sub.Status)).
		Msg("subscription updated")

	c.JSON(http.StatusOK, gin.H{"success": true})
}
