package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tierpress/models"
	"tierpress/testutil"
)

func TestSweep_UnpublishesAndReports(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "owner")

	clean := testutil.CreatePost(db, pub.ID, "clean", models.VisibilityFree, true)
	bad := testutil.CreatePost(db, pub.ID, "bad", models.VisibilityFree, true)
	db.Model(bad).Update("content", "download the keygen and some xxx pictures")

	result, err := NewSweeper(db, nil, 0).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Scanned: 2, FlaggedPosts: 1, UnpublishedPosts: 1, CreatedReports: 2}, result)

	var reloaded models.Post
	db.First(&reloaded, bad.ID)
	assert.False(t, reloaded.Published)
	assert.Nil(t, reloaded.PublishedAt)

	db.First(&reloaded, clean.ID)
	assert.True(t, reloaded.Published)

	var reports []models.Report
	db.Where("post_id = ?", bad.ID).Order("reason").Find(&reports)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, models.SystemActor, r.ReporterIP)
		assert.Equal(t, models.ReportInReview, r.Status)
		assert.Equal(t, "owner", r.PublicationSlug)
		assert.Equal(t, "bad", r.PostSlug)
		assert.NotEmpty(t, r.ID)
	}
	assert.Equal(t, models.ReasonAdult, reports[0].Reason)
	assert.Contains(t, reports[0].Details, "xxx")
	assert.Equal(t, models.ReasonIP, reports[1].Reason)
}

func TestSweep_Idempotent(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "owner")
	bad := testutil.CreatePost(db, pub.ID, "bad", models.VisibilityPaid, true)
	db.Model(bad).Update("title", "Warez collection")

	sweeper := NewSweeper(db, nil, 10)

	first, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.UnpublishedPosts)
	assert.Equal(t, 1, first.CreatedReports)

	second, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.UnpublishedPosts)
	assert.Equal(t, 0, second.CreatedReports)

	var count int64
	db.Model(&models.Report{}).Where("post_id = ?", bad.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSweep_RepublishedPostDoesNotDuplicateLiveReport(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "owner")
	bad := testutil.CreatePost(db, pub.ID, "bad", models.VisibilityFree, true)
	db.Model(bad).Update("excerpt", "nsfw teaser")

	sweeper := NewSweeper(db, nil, 10)
	_, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	// the owner republishes while the report is still in review
	db.Model(&models.Post{}).Where("id = ?", bad.ID).Updates(map[string]interface{}{"published": true})

	result, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.UnpublishedPosts)
	assert.Equal(t, 0, result.CreatedReports)

	// once the report is closed a new violation opens a fresh one
	db.Model(&models.Report{}).Where("post_id = ?", bad.ID).Update("status", models.ReportResolved)
	db.Model(&models.Post{}).Where("id = ?", bad.ID).Updates(map[string]interface{}{"published": true})

	result, err = sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.CreatedReports)
}

func TestSweep_RespectsCapAndIgnoresDrafts(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "owner")
	testutil.CreatePost(db, pub.ID, "a", models.VisibilityFree, true)
	testutil.CreatePost(db, pub.ID, "b", models.VisibilityFree, true)
	testutil.CreatePost(db, pub.ID, "c", models.VisibilityFree, true)
	draft := testutil.CreatePost(db, pub.ID, "draft", models.VisibilityFree, false)
	db.Model(draft).Update("content", "porn")

	result, err := NewSweeper(db, nil, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 0, result.FlaggedPosts)
}

func TestUnpublish_NoopWhenAlreadyUnpublished(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "owner")
	post := testutil.CreatePost(db, pub.ID, "draft", models.VisibilityFree, false)

	changed, err := Unpublish(db, post.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSweep_FailingPostIsSkippedAndRolledBack(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(db, "owner@example.com")
	pub := testutil.CreatePublication(db, owner.ID, "owner")

	ipPost := testutil.CreatePost(db, pub.ID, "ip", models.VisibilityFree, true)
	db.Model(ipPost).Update("content", "grab the keygen")
	adultPost := testutil.CreatePost(db, pub.ID, "adult", models.VisibilityFree, true)
	db.Model(adultPost).Update("content", "xxx pictures")

	err := db.Callback().Create().Before("gorm:create").Register("test:fail_adult_report", func(tx *gorm.DB) {
		if report, ok := tx.Statement.Dest.(*models.Report); ok && report.Reason == models.ReasonAdult {
			tx.AddError(errors.New("report store unavailable"))
		}
	})
	require.NoError(t, err)

	result, err := NewSweeper(db, nil, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, FlaggedPosts: 2, UnpublishedPosts: 1, CreatedReports: 1}, result)

	var reloaded models.Post
	require.NoError(t, db.First(&reloaded, ipPost.ID).Error)
	assert.False(t, reloaded.Published)
	require.NoError(t, db.First(&reloaded, adultPost.ID).Error)
	assert.True(t, reloaded.Published)
	assert.NotNil(t, reloaded.PublishedAt)

	var reports []models.Report
	require.NoError(t, db.Find(&reports).Error)
	require.Len(t, reports, 1)
	assert.Equal(t, ipPost.ID, reports[0].PostID)
	assert.Equal(t, models.ReasonIP, reports[0].Reason)
}
