package comments

import (
	"encoding/json"
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
	"tierpress/ratelimit"
	"tierpress/testutil"
)

type fixture struct {
	db     *gorm.DB
	router *gin.Engine
	owner  *models.User
	reader *models.User
	pub    *models.Publication
	free   *models.Post
	paid   *models.Post
}

func setup(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	cfg := &config.Config{AppOrigin: testutil.AppOrigin, AdminEmails: "root@example.com"}

	router := testutil.NewRouter()
	NewCommentsModule(db, ratelimit.NewLimiter(ratelimit.NewMemoryStore()), cfg).RegisterRoutes(router)

	owner := testutil.CreateUser(db, "owner@example.com")
	reader := testutil.CreateUser(db, "reader@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "tools")

	return &fixture{
		db:     db,
		router: router,
		owner:  owner,
		reader: reader,
		pub:    pub,
		free:   testutil.CreatePost(db, pub.ID, "free", models.VisibilityFree, true),
		paid:   testutil.CreatePost(db, pub.ID, "paid", models.VisibilityPaid, true),
	}
}

func (f *fixture) do(method, path, body string, userID int) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Origin", testutil.AppOrigin)
	if userID != 0 {
		testutil.WithCookies(req, testutil.Login(f.router, userID))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func commentsPath(postID int) string {
	return "/api/posts/" + strconv.Itoa(postID) + "/comments"
}

func (f *fixture) addComment(t *testing.T, postID, userID int, parentID *int) *models.Comment {
	comment := &models.Comment{PostID: postID, UserID: userID, ParentID: parentID, Content: "hello"}
	require.NoError(t, f.db.Create(comment).Error)
	return comment
}

func TestCreateComment(t *testing.T) {
	f := setup(t)

	w := f.do("POST", commentsPath(f.free.ID), `{"content":"  <b>Nice</b> post  "}`, f.reader.ID)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Nice post", created.Content)
	assert.Equal(t, f.reader.ID, created.UserID)

	w = f.do("GET", commentsPath(f.free.ID), "", 0)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Comments []models.Comment `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Comments, 1)
	assert.Equal(t, created.ID, listed.Comments[0].ID)
}

func TestCreateCommentValidation(t *testing.T) {
	f := setup(t)

	w := f.do("POST", commentsPath(f.free.ID), `{"content":"<script></script>   "}`, f.reader.ID)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	long := strings.Repeat("a", maxCommentLength+1)
	w = f.do("POST", commentsPath(f.free.ID), `{"content":"`+long+`"}`, f.reader.ID)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", commentsPath(f.free.ID), `{"content":"hi"}`, 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("POST", commentsPath(99999), `{"content":"hi"}`, f.reader.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var count int64
	f.db.Model(&models.Comment{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestParentMustBelongToSamePost(t *testing.T) {
	f := setup(t)
	other := testutil.CreatePost(f.db, f.pub.ID, "other", models.VisibilityFree, true)
	foreign := f.addComment(t, other.ID, f.owner.ID, nil)
	local := f.addComment(t, f.free.ID, f.owner.ID, nil)

	w := f.do("POST", commentsPath(f.free.ID), `{"content":"reply","parentId":`+strconv.Itoa(foreign.ID)+`}`, f.reader.ID)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", commentsPath(f.free.ID), `{"content":"reply","parentId":`+strconv.Itoa(local.ID)+`}`, f.reader.ID)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCommentsAreGated(t *testing.T) {
	f := setup(t)
	f.addComment(t, f.paid.ID, f.owner.ID, nil)

	assert.Equal(t, http.StatusForbidden, f.do("GET", commentsPath(f.paid.ID), "", 0).Code)
	assert.Equal(t, http.StatusForbidden, f.do("GET", commentsPath(f.paid.ID), "", f.reader.ID).Code)
	assert.Equal(t, http.StatusForbidden, f.do("POST", commentsPath(f.paid.ID), `{"content":"hi"}`, f.reader.ID).Code)

	testutil.CreateSubscription(f.db, f.reader.ID, f.pub.ID, models.TierPaid, models.SubscriptionActive)
	assert.Equal(t, http.StatusOK, f.do("GET", commentsPath(f.paid.ID), "", f.reader.ID).Code)
	assert.Equal(t, http.StatusCreated, f.do("POST", commentsPath(f.paid.ID), `{"content":"hi"}`, f.reader.ID).Code)
	assert.Equal(t, http.StatusOK, f.do("GET", commentsPath(f.paid.ID), "", f.owner.ID).Code)
}

func TestCommentRateLimit(t *testing.T) {
	f := setup(t)
	cookies := testutil.Login(f.router, f.reader.ID)

	post := func() int {
		req, _ := http.NewRequest("POST", commentsPath(f.free.ID), strings.NewReader(`{"content":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", testutil.AppOrigin)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, testutil.WithCookies(req, cookies))
		return w.Code
	}

	for i := 0; i < ratelimit.CommentsPolicy.Limit; i++ {
		require.Equal(t, http.StatusCreated, post())
	}
	assert.Equal(t, http.StatusTooManyRequests, post())
}

func TestDeleteComment(t *testing.T) {
	f := setup(t)
	stranger := testutil.CreateUser(f.db, "stranger@example.com")

	mine := f.addComment(t, f.free.ID, f.reader.ID, nil)
	path := "/api/comments/" + strconv.Itoa(mine.ID)

	assert.Equal(t, http.StatusForbidden, f.do("DELETE", path, "", stranger.ID).Code)
	assert.Equal(t, http.StatusNoContent, f.do("DELETE", path, "", f.reader.ID).Code)
	assert.Equal(t, http.StatusNotFound, f.do("DELETE", path, "", f.reader.ID).Code)

	byOwner := f.addComment(t, f.free.ID, f.reader.ID, nil)
	assert.Equal(t, http.StatusNoContent, f.do("DELETE", "/api/comments/"+strconv.Itoa(byOwner.ID), "", f.owner.ID).Code)

	admin := testutil.CreateUser(f.db, "root@example.com")
	byAdmin := f.addComment(t, f.free.ID, f.reader.ID, nil)
	assert.Equal(t, http.StatusNoContent, f.do("DELETE", "/api/comments/"+strconv.Itoa(byAdmin.ID), "", admin.ID).Code)
}

func TestDeleteCommentWithRepliesConflicts(t *testing.T) {
	f := setup(t)
	parent := f.addComment(t, f.free.ID, f.reader.ID, nil)
	f.addComment(t, f.free.ID, f.owner.ID, &parent.ID)

	w := f.do("DELETE", "/api/comments/"+strconv.Itoa(parent.ID), "", f.reader.ID)
	assert.Equal(t, http.StatusConflict, w.Code)

	var count int64
	f.db.Model(&models.Comment{}).Where("id = ?", parent.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpvoteToggle(t *testing.T) {
	f := setup(t)
	comment := f.addComment(t, f.free.ID, f.owner.ID, nil)
	path := "/api/comments/" + strconv.Itoa(comment.ID) + "/upvote"

	type result struct {
		Upvoted bool  `json:"upvoted"`
		Upvotes int64 `json:"upvotes"`
	}
	toggle := func(userID int) result {
		w := f.do("POST", path, "", userID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var r result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
		return r
	}

	assert.Equal(t, result{Upvoted: true, Upvotes: 1}, toggle(f.reader.ID))
	assert.Equal(t, result{Upvoted: true, Upvotes: 2}, toggle(f.owner.ID))
	assert.Equal(t, result{Upvoted: false, Upvotes: 1}, toggle(f.reader.ID))

	w := f.do("GET", commentsPath(f.free.ID), "", 0)
	var listed struct {
		Comments []models.Comment `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Comments, 1)
	assert.Equal(t, int64(1), listed.Comments[0].Upvotes)
}

func TestUpvoteRequiresEntitlement(t *testing.T) {
	f := setup(t)
	comment := f.addComment(t, f.paid.ID, f.owner.ID, nil)

	w := f.do("POST", "/api/comments/"+strconv.Itoa(comment.ID)+"/upvote", "", f.reader.ID)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
