package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tierpress/common"
	emailpkg "tierpress/email"
	"tierpress/errs"
	"tierpress/models"
)

const (
	maxTitleLength   = 200
	maxExcerptLength = 500
)

type postInput struct {
	Title      *string `json:"title" form:"title"`
	Content    *string `json:"content" form:"content"`
	Excerpt    *string `json:"excerpt" form:"excerpt"`
	Category   *string `json:"category" form:"category"`
	Visibility *string `json:"visibility" form:"visibility"`
	Publish    *bool   `json:"publish" form:"publish"`
}

// apply copies the provided fields onto post after validating them.
func (in postInput) apply(post *models.Post) error {
	if in.Title != nil {
		post.Title = common.PlainLine(*in.Title, maxTitleLength)
	}
	if post.Title == "" {
		return errs.NewMissingRequiredFieldError("title")
	}
	if in.Content != nil {
		post.Content = strings.TrimSpace(*in.Content)
	}
	if in.Excerpt != nil {
		post.Excerpt = common.PlainText(*in.Excerpt, maxExcerptLength)
	}
	if in.Category != nil {
		category, err := models.ParseCategory(*in.Category)
		if err != nil {
			return errs.NewInvalidFieldError("category", "unknown category")
		}
		post.Category = category
	}
	if in.Visibility != nil {
		visibility, err := models.ParseVisibility(*in.Visibility)
		if err != nil {
			return errs.NewInvalidFieldError("visibility", "unknown visibility")
		}
		post.Visibility = visibility
	}
	return nil
}

// checkPublishable runs the keyword policy over what readers would see.
func (a *AdminModule) checkPublishable(post *models.Post) error {
	result := a.scanner.Scan(post.Title + "\n" + post.Excerpt + "\n" + post.Content)
	if !result.Blocked {
		return nil
	}

	reasons := make([]string, 0, len(result.Findings))
	for _, r := range result.Reasons() {
		reasons = append(reasons, string(r))
	}
	apiErr := errs.NewBadRequestError("content violates the publishing policy")
	apiErr.Details = strings.Join(reasons, ", ")
	return apiErr
}

func (a *AdminModule) slugTaken(publicationID int) func(string) (bool, error) {
	return func(candidate string) (bool, error) {
		var count int64
		err := a.db.Model(&models.Post{}).
			Where("publication_id = ? AND slug = ?", publicationID, candidate).
			Count(&count).Error
		return count > 0, err
	}
}

func (a *AdminModule) listPosts(c *gin.Context) {
	pub, err := a.loadPublication(c.GetInt(common.SessionUserKey))
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	var posts []models.Post
	if err := a.db.Where("publication_id = ?", pub.ID).Order("updated_at DESC").Find(&posts).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("list", "posts", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (a *AdminModule) createPost(c *gin.Context) {
	pub, err := a.loadPublication(c.GetInt(common.SessionUserKey))
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	var input postInput
	if err := c.ShouldBind(&input); err != nil {
		a.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	post := models.Post{
		PublicationID: pub.ID,
		Category:      models.CategoryArticle,
		Visibility:    models.VisibilityFree,
	}
	if err := input.apply(&post); err != nil {
		a.responder.WriteError(c, err)
		return
	}

	publish := input.Publish != nil && *input.Publish
	if publish {
		if err := a.checkPublishable(&post); err != nil {
			a.responder.WriteError(c, err)
			return
		}
		now := time.Now()
		post.Published = true
		post.PublishedAt = &now
	}

	base := generateSlug(post.Title)
	if base == "" {
		base = "post"
	}
	post.Slug, err = uniqueSlug(base, a.slugTaken(pub.ID))
	if err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("create", "post", err))
		return
	}

	if err := a.db.Create(&post).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("create", "post", err))
		return
	}

	if publish {
		a.notifySubscribers(pub, &post)
	}
	c.JSON(http.StatusCreated, post)
}

func (a *AdminModule) ownPost(c *gin.Context) (*models.Publication, *models.Post, error) {
	pub, err := a.loadPublication(c.GetInt(common.SessionUserKey))
	if err != nil {
		return nil, nil, err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return nil, nil, errs.NewNotFound("post")
	}

	var post models.Post
	if err := a.db.Where("id = ? AND publication_id = ?", id, pub.ID).First(&post).Error; err != nil {
		return nil, nil, errs.NewDatabaseError("load", "post", err)
	}
	return pub, &post, nil
}

func (a *AdminModule) getPost(c *gin.Context) {
	_, post, err := a.ownPost(c)
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	var views int64
	if a.analytics != nil {
		if views, err = a.analytics.ViewCount(post.ID); err != nil {
			a.responder.Logger().Warn().Err(err).Int("postID", post.ID).Msg("view count lookup failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "views": views})
}

func (a *AdminModule) updatePost(c *gin.Context) {
	pub, post, err := a.ownPost(c)
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	var input postInput
	if err := c.ShouldBind(&input); err != nil {
		a.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	wasPublished := post.Published
	if err := input.apply(post); err != nil {
		a.responder.WriteError(c, err)
		return
	}

	publish := wasPublished
	if input.Publish != nil {
		publish = *input.Publish
	}
	if publish {
		if err := a.checkPublishable(post); err != nil {
			a.responder.WriteError(c, err)
			return
		}
	}

	updates := map[string]interface{}{
		"title":      post.Title,
		"content":    post.Content,
		"excerpt":    post.Excerpt,
		"category":   post.Category,
		"visibility": post.Visibility,
		"published":  publish,
	}
	switch {
	case publish && !wasPublished:
		now := time.Now()
		updates["published_at"] = &now
	case !publish && wasPublished:
		updates["published_at"] = nil
	}

	if err := a.db.Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("update", "post", err))
		return
	}
	if err := a.db.First(post, post.ID).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("load", "post", err))
		return
	}

	if publish && !wasPublished {
		a.notifySubscribers(pub, post)
	}
	c.JSON(http.StatusOK, post)
}

func (a *AdminModule) deletePost(c *gin.Context) {
	_, post, err := a.ownPost(c)
	if err != nil {
		a.responder.WriteError(c, err)
		return
	}

	// reports are kept for the moderation record
	err = a.db.Transaction(func(tx *gorm.DB) error {
		comments := tx.Model(&models.Comment{}).Select("id").Where("post_id = ?", post.ID)
		if err := tx.Where("comment_id IN (?)", comments).Delete(&models.CommentUpvote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostView{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, post.ID).Error
	})
	if err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("delete", "post", err))
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *AdminModule) notifySubscribers(pub *models.Publication, post *models.Post) {
	var recipients []string
	err := a.db.Model(&models.User{}).
		Joins("JOIN subscriptions ON subscriptions.user_id = users.id").
		Where("subscriptions.publication_id = ? AND subscriptions.status = ?", pub.ID, models.SubscriptionActive).
		Pluck("users.email", &recipients).Error
	if err != nil {
		a.responder.Logger().Error().Err(err).Int("postID", post.ID).Msg("failed to load subscribers")
		return
	}
	if len(recipients) == 0 {
		return
	}

	url := a.appOrigin + "/@/" + pub.Slug + "/" + post.Slug
	emailpkg.Async(func() error {
		return a.mailer.SendNewPostNotification(recipients, pub.Name, post.Title, url)
	})
}
