package subscriptions

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tierpress/config"
	"tierpress/models"
	"tierpress/testutil"
)

const secret = "s3cret"

func setup(t *testing.T) (*gorm.DB, *gin.Engine) {
	db := testutil.NewDB(t)
	router := testutil.NewRouter()
	cfg := &config.Config{AppOrigin: testutil.AppOrigin, BillingWebhookSecret: secret}
	NewSubscriptionsModule(db, cfg).RegisterRoutes(router)
	return db, router
}

func loadSub(t *testing.T, db *gorm.DB, userID, pubID int) models.Subscription {
	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ? AND publication_id = ?", userID, pubID).First(&sub).Error)
	return sub
}

func follow(router *gin.Engine, method, slug string, userID int) int {
	req, _ := http.NewRequest(method, "/api/publications/"+slug+"/subscribe", nil)
	req.Header.Set("Origin", testutil.AppOrigin)
	testutil.WithCookies(req, testutil.Login(router, userID))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestFollowCreatesFreeSubscription(t *testing.T) {
	db, router := setup(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	reader := testutil.CreateUser(db, "reader@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")

	assert.Equal(t, http.StatusOK, follow(router, "POST", "tools", reader.ID))
	sub := loadSub(t, db, reader.ID, pub.ID)
	assert.Equal(t, models.TierFree, sub.Tier)
	assert.Equal(t, models.SubscriptionActive, sub.Status)

	assert.Equal(t, http.StatusOK, follow(router, "POST", "tools", reader.ID))
	var count int64
	db.Model(&models.Subscription{}).Count(&count)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, http.StatusNotFound, follow(router, "POST", "missing", reader.ID))
	assert.Equal(t, http.StatusBadRequest, follow(router, "POST", "tools", owner.ID))
}

func TestFollowNeverDowngradesPaid(t *testing.T) {
	db, _ := setup(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	reader := testutil.CreateUser(db, "reader@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")
	testutil.CreateSubscription(db, reader.ID, pub.ID, models.TierPaid, models.SubscriptionPastDue)

	sub, err := Follow(db, reader.ID, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierPaid, sub.Tier)
	assert.Equal(t, models.SubscriptionPastDue, sub.Status)
}

func TestFollowReactivatesLapsedFreeRow(t *testing.T) {
	db, _ := setup(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	reader := testutil.CreateUser(db, "reader@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")
	testutil.CreateSubscription(db, reader.ID, pub.ID, models.TierFree, models.SubscriptionCanceled)

	sub, err := Follow(db, reader.ID, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
}

func TestUnfollow(t *testing.T) {
	db, router := setup(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	reader := testutil.CreateUser(db, "reader@example.com")
	payer := testutil.CreateUser(db, "payer@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")
	testutil.CreateSubscription(db, reader.ID, pub.ID, models.TierFree, models.SubscriptionActive)
	testutil.CreateSubscription(db, payer.ID, pub.ID, models.TierPaid, models.SubscriptionActive)

	assert.Equal(t, http.StatusNoContent, follow(router, "DELETE", "tools", reader.ID))
	assert.Equal(t, http.StatusNotFound, follow(router, "DELETE", "tools", reader.ID))
	assert.Equal(t, http.StatusConflict, follow(router, "DELETE", "tools", payer.ID))
}

func webhook(router *gin.Engine, body, key string) int {
	req, _ := http.NewRequest("POST", "/api/billing/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(WebhookSecretHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestWebhookUpsertsSubscription(t *testing.T) {
	db, router := setup(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	reader := testutil.CreateUser(db, "reader@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")
	testutil.CreateSubscription(db, reader.ID, pub.ID, models.TierFree, models.SubscriptionActive)

	ids := `"userId":` + strconv.Itoa(reader.ID) + `,"publicationId":` + strconv.Itoa(pub.ID)

	code := webhook(router, `{`+ids+`,"tier":"paid","status":"active","billingRef":"cus_123"}`, secret)
	require.Equal(t, http.StatusOK, code)
	sub := loadSub(t, db, reader.ID, pub.ID)
	assert.Equal(t, models.TierPaid, sub.Tier)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "cus_123", sub.BillingRef)

	code = webhook(router, `{`+ids+`,"tier":"paid","status":"past_due","billingRef":"cus_123"}`, secret)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.SubscriptionPastDue, loadSub(t, db, reader.ID, pub.ID).Status)

	var count int64
	db.Model(&models.Subscription{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestWebhookRejections(t *testing.T) {
	db, router := setup(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")
	ids := `"userId":` + strconv.Itoa(owner.ID) + `,"publicationId":` + strconv.Itoa(pub.ID)

	assert.Equal(t, http.StatusUnauthorized, webhook(router, `{`+ids+`,"tier":"paid","status":"active"}`, ""))
	assert.Equal(t, http.StatusUnauthorized, webhook(router, `{`+ids+`,"tier":"paid","status":"active"}`, "wrong"))
	assert.Equal(t, http.StatusBadRequest, webhook(router, `{`+ids+`,"tier":"gold","status":"active"}`, secret))
	assert.Equal(t, http.StatusBadRequest, webhook(router, `{`+ids+`,"tier":"paid","status":"frozen"}`, secret))
	assert.Equal(t, http.StatusBadRequest, webhook(router, `{"userId":999,"publicationId":`+strconv.Itoa(pub.ID)+`,"tier":"paid","status":"active"}`, secret))
	assert.Equal(t, http.StatusBadRequest, webhook(router, `{`, secret))
}

func TestWebhookDisabledWithoutSecret(t *testing.T) {
	db := testutil.NewDB(t)
	router := testutil.NewRouter()
	NewSubscriptionsModule(db, &config.Config{AppOrigin: testutil.AppOrigin}).RegisterRoutes(router)

	assert.Equal(t, http.StatusUnauthorized, webhook(router, `{}`, ""))
}
