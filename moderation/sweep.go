package moderation

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"tierpress/models"
)

const DefaultSweepCap = 500

type SweepResult struct {
	Scanned          int `json:"scanned"`
	FlaggedPosts     int `json:"flaggedPosts"`
	UnpublishedPosts int `json:"unpublishedPosts"`
	CreatedReports   int `json:"createdReports"`
}

// Sweeper re-scans published posts, unpublishes violators and opens
// system reports for them.
type Sweeper struct {
	db      *gorm.DB
	scanner *Scanner
	cap     int
	logger  zerolog.Logger
}

func NewSweeper(db *gorm.DB, scanner *Scanner, cap int) *Sweeper {
	if scanner == nil {
		scanner = defaultScanner
	}
	if cap <= 0 {
		cap = DefaultSweepCap
	}
	return &Sweeper{
		db:      db,
		scanner: scanner,
		cap:     cap,
		logger:  log.With().Str("module", "moderation").Str("component", "sweeper").Logger(),
	}
}

// Run processes each post in its own transaction. A failing post is logged and
// skipped; earlier posts stay committed.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	var posts []models.Post
	if err := s.db.WithContext(ctx).
		Where("published = ?", true).
		Order("published_at DESC").
		Order("id DESC").
		Limit(s.cap).
		Find(&posts).Error; err != nil {
		return result, err
	}

	pubSlugs, err := s.publicationSlugs(ctx, posts)
	if err != nil {
		return result, err
	}

	for i := range posts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		post := &posts[i]
		result.Scanned++

		scan := s.scanner.Scan(post.Title + "\n" + post.Excerpt + "\n" + post.Content)
		if !scan.Blocked {
			continue
		}
		result.FlaggedPosts++

		unpublished, created, err := s.enforce(ctx, post, pubSlugs[post.PublicationID], scan)
		if err != nil {
			s.logger.Error().Err(err).Int("postID", post.ID).Msg("failed to enforce moderation on post")
			continue
		}
		if unpublished {
			result.UnpublishedPosts++
		}
		result.CreatedReports += created
	}

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("flagged", result.FlaggedPosts).
		Int("unpublished", result.UnpublishedPosts).
		Int("reports", result.CreatedReports).
		Msg("moderation sweep finished")
	return result, nil
}

func (s *Sweeper) enforce(ctx context.Context, post *models.Post, pubSlug string, scan ScanResult) (bool, int, error) {
	unpublished := false
	created := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if unpublished, err = Unpublish(tx, post.ID); err != nil {
			return err
		}

		for _, finding := range scan.Findings {
			live, err := HasLiveSystemReport(tx, post.ID, finding.Reason)
			if err != nil {
				return err
			}
			if live {
				continue
			}

			report := models.Report{
				PostID:          post.ID,
				PublicationID:   post.PublicationID,
				Reason:          finding.Reason,
				Details:         "automated scan matched: " + strings.Join(finding.MatchedTerms, ", "),
				PostSlug:        post.Slug,
				PublicationSlug: pubSlug,
				ReporterIP:      models.SystemActor,
				Status:          models.ReportInReview,
			}
			if err := tx.Create(&report).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return unpublished, created, nil
}

func (s *Sweeper) publicationSlugs(ctx context.Context, posts []models.Post) (map[int]string, error) {
	slugs := make(map[int]string)
	if len(posts) == 0 {
		return slugs, nil
	}

	ids := make([]int, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.PublicationID)
	}

	var pubs []models.Publication
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&pubs).Error; err != nil {
		return nil, err
	}
	for _, p := range pubs {
		slugs[p.ID] = p.Slug
	}
	return slugs, nil
}

// Unpublish clears the published flag and timestamp. It reports whether a row
// changed, so running it on an unpublished post is a no-op.
func Unpublish(tx *gorm.DB, postID int) (bool, error) {
	res := tx.Model(&models.Post{}).
		Where("id = ? AND published = ?", postID, true).
		Updates(map[string]interface{}{"published": false, "published_at": nil})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// HasLiveSystemReport reports whether an open or in-review automated report
// exists for the post and reason.
func HasLiveSystemReport(tx *gorm.DB, postID int, reason models.ReportReason) (bool, error) {
	var count int64
	err := tx.Model(&models.Report{}).
		Where("post_id = ? AND reason = ? AND reporter_ip = ? AND status IN ?",
			postID, reason, models.SystemActor, models.LiveReportStatuses).
		Count(&count).Error
	return count > 0, err
}
