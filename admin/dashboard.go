package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tierpress/analytics"
	"tierpress/common"
	"tierpress/errs"
	"tierpress/models"
)

const (
	topPostsDays  = 30
	topPostsLimit = 5
)

type subscriberStats struct {
	Free int64 `json:"free"`
	Paid int64 `json:"paid"`
}

func (a *AdminModule) subscriberStats(publicationID int) (subscriberStats, error) {
	var rows []struct {
		Tier  models.SubscriptionTier
		Count int64
	}
	err := a.db.Model(&models.Subscription{}).
		Select("tier, COUNT(*) as count").
		Where("publication_id = ? AND status = ?", publicationID, models.SubscriptionActive).
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return subscriberStats{}, err
	}

	var stats subscriberStats
	for _, r := range rows {
		switch r.Tier {
		case models.TierFree:
			stats.Free = r.Count
		case models.TierPaid:
			stats.Paid = r.Count
		}
	}
	return stats, nil
}

func (a *AdminModule) dashboard(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	pub, err := a.loadPublication(userID)
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	var posts []models.Post
	if err := a.db.Where("publication_id = ?", pub.ID).Order("updated_at DESC").Find(&posts).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("list", "posts", err))
		return
	}

	stats, err := a.subscriberStats(pub.ID)
	if err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("count", "subscriptions", err))
		return
	}

	var openReports int64
	err = a.db.Model(&models.Report{}).
		Where("publication_id = ? AND status IN ?", pub.ID, models.LiveReportStatuses).
		Count(&openReports).Error
	if err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("count", "reports", err))
		return
	}

	topPosts := []analytics.PostViews{}
	if a.analytics != nil {
		if top, err := a.analytics.TopPosts(pub.ID, topPostsDays, topPostsLimit); err == nil {
			topPosts = top
		} else {
			a.responder.Logger().Warn().Err(err).Int("publicationID", pub.ID).Msg("failed to load top posts")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"publication": pub,
		"posts":       posts,
		"subscribers": stats,
		"liveReports": openReports,
		"topPosts":    topPosts,
	})
}

type publicationInput struct {
	Name         *string `json:"name" form:"name"`
	Description  *string `json:"description" form:"description"`
	PriceMonthly *int    `json:"priceMonthly" form:"priceMonthly"`
	PriceYearly  *int    `json:"priceYearly" form:"priceYearly"`
}

func (a *AdminModule) updatePublication(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	pub, err := a.loadPublication(userID)
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	var input publicationInput
	if err := c.ShouldBind(&input); err != nil {
		a.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		name := common.PlainLine(*input.Name, 120)
		if name == "" {
			a.responder.WriteError(c, errs.NewInvalidFieldError("name", "cannot be empty"))
			return
		}
		updates["name"] = name
	}
	if input.Description != nil {
		updates["description"] = common.Truncate(*input.Description, 5000)
	}
	for field, price := range map[string]*int{"price_monthly": input.PriceMonthly, "price_yearly": input.PriceYearly} {
		if price == nil {
			continue
		}
		if *price < 0 {
			a.responder.WriteError(c, errs.NewInvalidFieldError(field, "cannot be negative"))
			return
		}
		updates[field] = *price
	}

	if len(updates) > 0 {
		if err := a.db.Model(pub).Updates(updates).Error; err != nil {
			a.responder.WriteError(c, errs.NewDatabaseError("update", "publication", err))
			return
		}
		if err := a.db.First(pub, pub.ID).Error; err != nil {
			a.responder.WriteError(c, errs.NewDatabaseError("load", "publication", err))
			return
		}
	}

	c.JSON(http.StatusOK, pub)
}
