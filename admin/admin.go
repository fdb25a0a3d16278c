package admin

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tierpress/analytics"
	"tierpress/common"
	"tierpress/config"
	emailpkg "tierpress/email"
	"tierpress/errs"
	"tierpress/models"
	"tierpress/moderation"
)

// passwordCost is lowered by tests.
var passwordCost = bcrypt.DefaultCost

type AdminModule struct {
	db        *gorm.DB
	scanner   *moderation.Scanner
	mailer    emailpkg.Mailer
	analytics *analytics.Tracker
	appOrigin string
	responder common.Responder
}

func NewAdminModule(db *gorm.DB, scanner *moderation.Scanner, mailer emailpkg.Mailer, tracker *analytics.Tracker, cfg *config.Config) *AdminModule {
	if scanner == nil {
		scanner = moderation.NewScanner(moderation.DefaultTaxonomy)
	}
	return &AdminModule{
		db:        db,
		scanner:   scanner,
		mailer:    mailer,
		analytics: tracker,
		appOrigin: cfg.AppOrigin,
		responder: common.NewResponder(log.With().Str("module", "admin").Logger()),
	}
}

func (a *AdminModule) RegisterRoutes(router *gin.Engine) {
	sameOrigin := common.RequireSameOrigin(a.appOrigin)

	router.POST("/signup", sameOrigin, a.signup)
	router.POST("/login", sameOrigin, a.login)
	router.GET("/confirm/:token", a.confirmEmail)
	router.GET("/logout", a.logout)

	dashboard := router.Group("/dashboard")
	dashboard.Use(common.RequireUser())
	{
		dashboard.GET("", a.dashboard)
		dashboard.POST("/publication", sameOrigin, a.updatePublication)
		dashboard.GET("/posts", a.listPosts)
		dashboard.POST("/posts", sameOrigin, a.createPost)
		dashboard.GET("/posts/:id", a.getPost)
		dashboard.POST("/posts/:id", sameOrigin, a.updatePost)
		dashboard.DELETE("/posts/:id", sameOrigin, a.deletePost)
	}
}

// loadPublication returns the caller's publication, creating it on first use.
func (a *AdminModule) loadPublication(userID int) (*models.Publication, error) {
	var pub models.Publication
	err := a.db.Where("user_id = ?", userID).First(&pub).Error
	if err == nil {
		return &pub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NewDatabaseError("load", "publication", err)
	}

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		return nil, errs.NewDatabaseError("load", "user", err)
	}

	base := generateSlug(strings.SplitN(user.Email, "@", 2)[0])
	if base == "" || common.IsReservedSubdomain(base) {
		base = "pub-" + strconv.Itoa(user.ID)
	}
	slug, err := uniqueSlug(base, func(candidate string) (bool, error) {
		var count int64
		err := a.db.Model(&models.Publication{}).Where("slug = ?", candidate).Count(&count).Error
		return count > 0, err
	})
	if err != nil {
		return nil, errs.NewDatabaseError("load", "publication", err)
	}

	pub = models.Publication{
		UserID: userID,
		Slug:   slug,
		Name:   user.Email,
	}
	if err := a.db.Create(&pub).Error; err != nil {
		return nil, errs.NewDatabaseError("create", "publication", err)
	}
	a.responder.Logger().Info().Int("userID", userID).Str("slug", slug).Msg("publication created")
	return &pub, nil
}

// generateSlug lowercases, folds common accents and keeps [a-z0-9-].
func generateSlug(title string) string {
	accentMap := map[rune]rune{
		'á': 'a', 'à': 'a', 'ã': 'a', 'â': 'a', 'ä': 'a', 'å': 'a',
		'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
		'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
		'ó': 'o', 'ò': 'o', 'õ': 'o', 'ô': 'o', 'ö': 'o', 'ø': 'o',
		'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
		'ç': 'c', 'ñ': 'n', 'ý': 'y', 'ÿ': 'y', 'ß': 's',
	}

	slug := strings.Map(func(r rune) rune {
		if replacement, ok := accentMap[r]; ok {
			return replacement
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			return r
		case r == ' ' || r == '_' || r == '.':
			return '-'
		}
		return -1
	}, strings.ToLower(title))

	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}

// uniqueSlug appends -2, -3, ... to base until taken reports false.
func uniqueSlug(base string, taken func(string) (bool, error)) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
