package blog

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"

	"tierpress/analytics"
	"tierpress/cache"
	"tierpress/common"
	"tierpress/entitlement"
	"tierpress/errs"
	"tierpress/models"
)

type BlogModule struct {
	db        *gorm.DB
	lookup    entitlement.SubscriptionLookup
	renders   *cache.RenderCache
	tracker   *analytics.Tracker
	responder common.Responder
}

// raw HTML is allowed through goldmark and stripped afterwards by the UGC policy
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithUnsafe(),
	),
)

func NewBlogModule(db *gorm.DB, renders *cache.RenderCache, tracker *analytics.Tracker) *BlogModule {
	return &BlogModule{
		db:        db,
		lookup:    entitlement.NewGormLookup(db),
		renders:   renders,
		tracker:   tracker,
		responder: common.NewResponder(log.With().Str("module", "blog").Logger()),
	}
}

func (b *BlogModule) RegisterRoutes(router *gin.Engine) {
	blogGroup := router.Group("/@/:slug")
	{
		blogGroup.GET("/", b.index)
		blogGroup.GET("/:postSlug", b.post)
	}
}

func (b *BlogModule) getPublicationBySlug(slug string) (*models.Publication, error) {
	var pub models.Publication
	if err := b.db.Where("slug = ?", slug).First(&pub).Error; err != nil {
		return nil, errs.NewDatabaseError("load", "publication", err)
	}
	return &pub, nil
}

type publicationView struct {
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	DescriptionHTML string `json:"description_html"`
	PriceMonthly    *int   `json:"price_monthly,omitempty"`
	PriceYearly     *int   `json:"price_yearly,omitempty"`
}

type postSummary struct {
	ID          int               `json:"id"`
	Title       string            `json:"title"`
	Slug        string            `json:"slug"`
	Excerpt     string            `json:"excerpt,omitempty"`
	Category    models.Category   `json:"category"`
	Visibility  models.Visibility `json:"visibility"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Locked      bool              `json:"locked"`
}

type postView struct {
	postSummary
	HTML  string `json:"html,omitempty"`
	Views int64  `json:"views"`
}

// summarize applies what a viewer without access may see: a preview keeps its
// teaser, a paid post shows only its title.
func summarize(post *models.Post, canAccess bool) postSummary {
	s := postSummary{
		ID:          post.ID,
		Title:       post.Title,
		Slug:        post.Slug,
		Excerpt:     post.Excerpt,
		Category:    post.Category,
		Visibility:  post.Visibility,
		PublishedAt: post.PublishedAt,
		Locked:      !canAccess,
	}
	if !canAccess && post.Visibility == models.VisibilityPaid {
		s.Excerpt = ""
	}
	return s
}

func (b *BlogModule) index(c *gin.Context) {
	pub, err := b.getPublicationBySlug(c.Param("slug"))
	if err != nil {
		b.responder.WriteError(c, err)
		return
	}

	query := b.db.Where("publication_id = ? AND published = ?", pub.ID, true)
	if raw := c.Query("category"); raw != "" {
		category, err := models.ParseCategory(raw)
		if err != nil {
			b.responder.WriteError(c, errs.NewInvalidFieldError("category", "unknown category"))
			return
		}
		query = query.Where("category = ?", category)
	}

	var posts []models.Post
	if err := query.Order("published_at DESC, id DESC").Find(&posts).Error; err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("list", "posts", err))
		return
	}

	viewer := common.CurrentUserID(c)
	summaries := make([]postSummary, 0, len(posts))
	for i := range posts {
		ok, err := entitlement.CanAccess(viewer, &posts[i], pub.UserID, b.lookup)
		if err != nil {
			b.responder.WriteError(c, errs.NewDatabaseError("resolve", "entitlement", err))
			return
		}
		summaries = append(summaries, summarize(&posts[i], ok))
	}

	c.JSON(http.StatusOK, gin.H{
		"publication": publicationView{
			Slug:            pub.Slug,
			Name:            pub.Name,
			DescriptionHTML: b.render(0, pub.Description),
			PriceMonthly:    pub.PriceMonthly,
			PriceYearly:     pub.PriceYearly,
		},
		"posts": summaries,
	})
}

func (b *BlogModule) post(c *gin.Context) {
	pub, err := b.getPublicationBySlug(c.Param("slug"))
	if err != nil {
		b.responder.WriteError(c, err)
		return
	}

	var post models.Post
	err = b.db.Where("publication_id = ? AND slug = ? AND published = ?", pub.ID, c.Param("postSlug"), true).
		First(&post).Error
	if err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("load", "post", err))
		return
	}

	ok, err := entitlement.CanAccess(common.CurrentUserID(c), &post, pub.UserID, b.lookup)
	if err != nil {
		b.responder.WriteError(c, errs.NewDatabaseError("resolve", "entitlement", err))
		return
	}

	b.tracker.TrackView(c, post.ID)

	view := postView{postSummary: summarize(&post, ok)}
	if ok {
		view.HTML = b.render(post.ID, post.Content)
	}
	if views, err := b.tracker.ViewCount(post.ID); err == nil {
		view.Views = views
	}

	c.JSON(http.StatusOK, gin.H{
		"publication": gin.H{"slug": pub.Slug, "name": pub.Name},
		"post":        view,
	})
}

// render converts markdown to sanitized HTML. Post bodies go through the render
// cache; id 0 skips it.
func (b *BlogModule) render(id int, source string) string {
	if id == 0 || b.renders == nil {
		return RenderMarkdown(source)
	}
	return b.renders.GetOrRender(cache.Key(id, source), func() string {
		return RenderMarkdown(source)
	})
}

func RenderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		log.Warn().Err(err).Msg("markdown conversion failed")
		return common.SanitizeHTML(content)
	}
	return common.SanitizeHTML(buf.String())
}
