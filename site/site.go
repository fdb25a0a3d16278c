package site

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"tierpress/common"
	"tierpress/config"
	"tierpress/errs"
	"tierpress/models"
)

const frontPageLimit = 30

type SiteModule struct {
	db        *gorm.DB
	appOrigin string
	responder common.Responder
}

func NewSiteModule(db *gorm.DB, cfg *config.Config) *SiteModule {
	return &SiteModule{
		db:        db,
		appOrigin: strings.TrimSuffix(cfg.AppOrigin, "/"),
		responder: common.NewResponder(log.With().Str("module", "site").Logger()),
	}
}

func (s *SiteModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/", s.index)
	router.GET("/sitemap.xml", s.sitemap)
}

type frontPagePost struct {
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Excerpt         string     `json:"excerpt"`
	Category        string     `json:"category"`
	PublishedAt     *time.Time `json:"publishedAt"`
	PublicationSlug string     `json:"publicationSlug"`
	PublicationName string     `json:"publicationName"`
}

// index lists the latest free posts across every publication.
func (s *SiteModule) index(c *gin.Context) {
	var posts []frontPagePost
	err := s.db.Table("posts").
		Select("posts.title, posts.slug, posts.excerpt, posts.category, posts.published_at, " +
			"publications.slug AS publication_slug, publications.name AS publication_name").
		Joins("INNER JOIN publications ON publications.id = posts.publication_id").
		Where("posts.published = ? AND posts.visibility = ?", true, models.VisibilityFree).
		Order("posts.published_at DESC").
		Limit(frontPageLimit).
		Scan(&posts).Error
	if err != nil {
		s.responder.WriteError(c, errs.NewDatabaseError("list", "posts", err))
		return
	}

	if posts == nil {
		posts = []frontPagePost{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *SiteModule) sitemap(c *gin.Context) {
	var sitemap strings.Builder
	sitemap.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sitemap.WriteString("\n")
	sitemap.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	sitemap.WriteString("\n")

	writeURL(&sitemap, s.appOrigin+"/", nil, "daily", "1.0")

	var publications []models.Publication
	if err := s.db.Order("id").Find(&publications).Error; err != nil {
		s.responder.WriteError(c, errs.NewDatabaseError("list", "publications", err))
		return
	}

	for _, pub := range publications {
		writeURL(&sitemap, s.appOrigin+"/@/"+pub.Slug+"/", nil, "weekly", "0.7")

		// Paid posts are listed too; crawlers get the locked summary.
		var posts []models.Post
		err := s.db.Select("slug", "updated_at").
			Where("publication_id = ? AND published = ?", pub.ID, true).
			Order("published_at DESC").
			Find(&posts).Error
		if err != nil {
			s.responder.WriteError(c, errs.NewDatabaseError("list", "posts", err))
			return
		}
		for _, post := range posts {
			updated := post.UpdatedAt
			writeURL(&sitemap, s.appOrigin+"/@/"+pub.Slug+"/"+post.Slug, &updated, "monthly", "0.6")
		}
	}

	sitemap.WriteString("</urlset>\n")

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, sitemap.String())
}

func writeURL(b *strings.Builder, loc string, lastmod *time.Time, changefreq, priority string) {
	b.WriteString("  <url>\n")
	b.WriteString("    <loc>" + loc + "</loc>\n")
	if lastmod != nil {
		b.WriteString("    <lastmod>" + lastmod.Format(time.RFC3339) + "</lastmod>\n")
	}
	b.WriteString("    <changefreq>" + changefreq + "</changefreq>\n")
	b.WriteString("    <priority>" + priority + "</priority>\n")
	b.WriteString("  </url>\n")
}
