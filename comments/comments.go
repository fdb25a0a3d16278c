package comments

import (
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tierpress/common"
	"tierpress/config"
	"tierpress/entitlement"
	"tierpress/errs"
	"tierpress/models"
	"tierpress/ratelimit"
)

const maxCommentLength = 4000

type CommentsModule struct {
	db          *gorm.DB
	limiter     *ratelimit.Limiter
	resolver    *entitlement.Resolver
	appOrigin   string
	adminEmails []string
	responder   common.Responder
}

func NewCommentsModule(db *gorm.DB, limiter *ratelimit.Limiter, cfg *config.Config) *CommentsModule {
	return &CommentsModule{
		db:          db,
		limiter:     limiter,
		resolver:    entitlement.NewResolver(db),
		appOrigin:   cfg.AppOrigin,
		adminEmails: cfg.AdminEmailList(),
		responder:   common.NewResponder(log.With().Str("module", "comments").Logger()),
	}
}

func (m *CommentsModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/posts/:postID/comments", m.list)

	api := router.Group("/api")
	api.Use(common.RequireSameOrigin(m.appOrigin), common.RequireUser())
	{
		api.POST("/posts/:postID/comments", m.create)
		api.DELETE("/comments/:id", m.delete)
		api.POST("/comments/:id/upvote", m.upvote)
	}
}

// readablePost loads a published post and checks that the viewer may read it in full.
func (m *CommentsModule) readablePost(viewerID *int, postID int) (*models.Post, error) {
	var post models.Post
	if err := m.db.Where("id = ? AND published = ?", postID, true).First(&post).Error; err != nil {
		return nil, errs.NewDatabaseError("load", "post", err)
	}
	ok, err := m.resolver.CanAccessPost(viewerID, &post)
	if err != nil {
		return nil, errs.NewDatabaseError("resolve", "entitlement", err)
	}
	if !ok {
		return nil, errs.NewForbiddenError("a paid subscription is required")
	}
	return &post, nil
}

func pathID(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, errs.NewNotFound(name)
	}
	return id, nil
}

func (m *CommentsModule) countUpvotes(ids []int) (map[int]int64, error) {
	counts := make(map[int]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	type countResult struct {
		CommentID int
		Count     int64
	}
	var results []countResult
	err := m.db.Model(&models.CommentUpvote{}).
		Select("comment_id, COUNT(*) as count").
		Where("comment_id IN ?", ids).
		Group("comment_id").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		counts[r.CommentID] = r.Count
	}
	return counts, nil
}

func (m *CommentsModule) list(c *gin.Context) {
	postID, err := pathID(c, "postID")
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}
	if _, err := m.readablePost(common.CurrentUserID(c), postID); err != nil {
		m.responder.WriteError(c, err)
		return
	}

	var comments []models.Comment
	if err := m.db.Where("post_id = ?", postID).Order("created_at ASC, id ASC").Find(&comments).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("list", "comments", err))
		return
	}

	ids := make([]int, len(comments))
	for i, com := range comments {
		ids[i] = com.ID
	}
	counts, err := m.countUpvotes(ids)
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("count", "upvotes", err))
		return
	}
	for i := range comments {
		comments[i].Upvotes = counts[comments[i].ID]
	}

	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

type commentPayload struct {
	Content  string `json:"content" form:"content"`
	ParentID *int   `json:"parentId" form:"parentId"`
}

func (m *CommentsModule) create(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	postID, err := pathID(c, "postID")
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	var payload commentPayload
	if err := c.ShouldBind(&payload); err != nil {
		m.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	content := common.PlainText(payload.Content, 0)
	if content == "" {
		m.responder.WriteError(c, errs.NewMissingRequiredFieldError("content"))
		return
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		m.responder.WriteError(c, errs.NewInvalidFieldError("content", "comment is too long"))
		return
	}

	post, err := m.readablePost(&userID, postID)
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	limit, err := m.limiter.ConsumePolicy(c.Request.Context(), "user:"+strconv.Itoa(userID), ratelimit.CommentsPolicy)
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}
	if !limit.Allowed {
		m.responder.WriteError(c, errs.NewRateLimitedError(limit.RetryAfterSeconds))
		return
	}

	if payload.ParentID != nil {
		var parent models.Comment
		err := m.db.Select("id").Where("id = ? AND post_id = ?", *payload.ParentID, post.ID).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m.responder.WriteError(c, errs.NewInvalidFieldError("parentId", "parent comment belongs to another post"))
			return
		}
		if err != nil {
			m.responder.WriteError(c, errs.NewDatabaseError("load", "comment", err))
			return
		}
	}

	comment := models.Comment{
		PostID:   post.ID,
		UserID:   userID,
		ParentID: payload.ParentID,
		Content:  content,
	}
	if err := m.db.Create(&comment).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("create", "comment", err))
		return
	}

	c.JSON(http.StatusCreated, comment)
}

func (m *CommentsModule) canDelete(userID int, comment *models.Comment) (bool, error) {
	if comment.UserID == userID {
		return true, nil
	}

	var owner int
	err := m.db.Model(&models.Publication{}).
		Select("publications.user_id").
		Joins("JOIN posts ON posts.publication_id = publications.id").
		Where("posts.id = ?", comment.PostID).
		Scan(&owner).Error
	if err != nil {
		return false, err
	}
	if owner == userID {
		return true, nil
	}

	var user models.User
	if err := m.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return common.IsPlatformAdmin(&user, m.adminEmails), nil
}

func (m *CommentsModule) delete(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	id, err := pathID(c, "id")
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	var comment models.Comment
	if err := m.db.First(&comment, id).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "comment", err))
		return
	}

	allowed, err := m.canDelete(userID, &comment)
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("authorize", "comment", err))
		return
	}
	if !allowed {
		m.responder.WriteError(c, errs.NewForbiddenError("only the author, the publication owner or an admin can delete this comment"))
		return
	}

	err = m.db.Transaction(func(tx *gorm.DB) error {
		var replies int64
		if err := tx.Model(&models.Comment{}).Where("parent_id = ?", comment.ID).Count(&replies).Error; err != nil {
			return err
		}
		if replies > 0 {
			return errs.NewConflictError("comment has replies")
		}
		if err := tx.Where("comment_id = ?", comment.ID).Delete(&models.CommentUpvote{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Comment{}, comment.ID).Error
	})
	if err != nil {
		var apiErr *errs.ApiErr
		if !errors.As(err, &apiErr) {
			apiErr = errs.NewDatabaseError("delete", "comment", err)
		}
		m.responder.WriteError(c, apiErr)
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *CommentsModule) upvote(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	id, err := pathID(c, "id")
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	var comment models.Comment
	if err := m.db.First(&comment, id).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "comment", err))
		return
	}
	if _, err := m.readablePost(&userID, comment.PostID); err != nil {
		m.responder.WriteError(c, err)
		return
	}

	upvoted := false
	err = m.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND comment_id = ?", userID, comment.ID).Delete(&models.CommentUpvote{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		upvoted = true
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.CommentUpvote{UserID: userID, CommentID: comment.ID}).Error
	})
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("toggle", "upvote", err))
		return
	}

	var upvotes int64
	if err := m.db.Model(&models.CommentUpvote{}).Where("comment_id = ?", comment.ID).Count(&upvotes).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("count", "upvotes", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"upvoted": upvoted, "upvotes": upvotes})
}
