// Package testutil holds fixtures shared by the module tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tierpress/common"
	"tierpress/database"
	"tierpress/models"
)

const AppOrigin = "http://app.test"

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// NewDB opens an in-memory sqlite database pinned to a single connection so
// every query, transactional or not, sees the same schema.
func NewDB(t testing.TB) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(database.Tables()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func CreateUser(db *gorm.DB, email string) *models.User {
	user := &models.User{
		Email:         email,
		PasswordHash:  "hashedpassword",
		EmailVerified: true,
	}
	db.Create(user)
	return user
}

func CreatePublication(db *gorm.DB, userID int, slug string) *models.Publication {
	pub := &models.Publication{
		UserID: userID,
		Slug:   slug,
		Name:   "Publication " + slug,
	}
	db.Create(pub)
	return pub
}

func CreatePost(db *gorm.DB, publicationID int, slug string, visibility models.Visibility, published bool) *models.Post {
	post := &models.Post{
		PublicationID: publicationID,
		Title:         "Post " + slug,
		Slug:          slug,
		Content:       "# Heading\n\nSome **useful** content about building plugins.",
		Excerpt:       "A short teaser.",
		Category:      models.CategoryArticle,
		Visibility:    visibility,
		Published:     published,
	}
	if published {
		now := time.Now()
		post.PublishedAt = &now
	}
	db.Create(post)
	return post
}

func CreateSubscription(db *gorm.DB, userID, publicationID int, tier models.SubscriptionTier, status models.SubscriptionStatus) *models.Subscription {
	sub := &models.Subscription{
		UserID:        userID,
		PublicationID: publicationID,
		Tier:          tier,
		Status:        status,
	}
	db.Create(sub)
	return sub
}

// NewRouter returns a test engine with a cookie session store and a helper
// route that signs a user in.
func NewRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("secret"))
	router.Use(sessions.Sessions("test-session", store))
	router.GET("/__test/login/:id", func(c *gin.Context) {
		id, _ := strconv.Atoi(c.Param("id"))
		session := sessions.Default(c)
		session.Set(common.SessionUserKey, id)
		session.Save()
		c.Status(http.StatusNoContent)
	})
	return router
}

// Login returns the session cookies for userID.
func Login(router *gin.Engine, userID int) []*http.Cookie {
	req, _ := http.NewRequest("GET", "/__test/login/"+strconv.Itoa(userID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Result().Cookies()
}

func WithCookies(req *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}
