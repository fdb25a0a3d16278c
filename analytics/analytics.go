package analytics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"tierpress/common"
	"tierpress/models"
)

const (
	visitorCookie  = "tierpress_visitor_id"
	visitorMaxAge  = 60 * 60 * 24 * 365 * 2
	ThrottleWindow = 30 * time.Minute
)

// Tracker records post views. A visitor is counted at most once per post
// every ThrottleWindow so refreshes don't inflate the numbers.
type Tracker struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{
		db:     db,
		logger: log.With().Str("module", "analytics").Logger(),
		now:    time.Now,
	}
}

// TrackView records a view of postID unless the same visitor viewed it recently.
func (t *Tracker) TrackView(c *gin.Context, postID int) {
	if t == nil {
		return
	}

	cookieID := visitorID(c)
	since := t.now().Add(-ThrottleWindow)

	var recent int64
	err := t.db.Model(&models.PostView{}).
		Where("cookie_id = ? AND post_id = ? AND created_at > ?", cookieID, postID, since).
		Count(&recent).Error
	if err != nil {
		t.logger.Error().Err(err).Int("postID", postID).Msg("failed to check recent views")
		return
	}
	if recent > 0 {
		return
	}

	view := models.PostView{
		PostID:    postID,
		CookieID:  cookieID,
		IP:        common.ClientActor(c),
		CreatedAt: t.now(),
	}
	if err := t.db.Create(&view).Error; err != nil {
		t.logger.Error().Err(err).Int("postID", postID).Msg("failed to save view")
	}
}

func visitorID(c *gin.Context) string {
	if cookie, err := c.Cookie(visitorCookie); err == nil && cookie != "" {
		return common.NormalizeActor(cookie)
	}

	id := uuid.NewString()
	c.SetCookie(visitorCookie, id, visitorMaxAge, "/", "", false, true)
	return id
}

type PostViews struct {
	PostID int    `json:"post_id"`
	Title  string `json:"title"`
	Count  int64  `json:"count"`
}

// ViewCount returns the total number of recorded views of a post.
func (t *Tracker) ViewCount(postID int) (int64, error) {
	if t == nil {
		return 0, nil
	}
	var count int64
	err := t.db.Model(&models.PostView{}).Where("post_id = ?", postID).Count(&count).Error
	return count, err
}

// TopPosts returns the most viewed posts of a publication over the last days.
func (t *Tracker) TopPosts(publicationID, days, limit int) ([]PostViews, error) {
	since := t.now().AddDate(0, 0, -days)

	var results []PostViews
	err := t.db.Model(&models.PostView{}).
		Select("post_views.post_id AS post_id, posts.title AS title, COUNT(*) AS count").
		Joins("JOIN posts ON posts.id = post_views.post_id").
		Where("posts.publication_id = ? AND post_views.created_at >= ?", publicationID, since).
		Group("post_views.post_id, posts.title").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
