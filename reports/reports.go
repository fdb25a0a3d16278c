package reports

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tierpress/common"
	"tierpress/config"
	emailpkg "tierpress/email"
	"tierpress/errs"
	"tierpress/models"
	"tierpress/moderation"
	"tierpress/ratelimit"
)

const (
	maxDetailsLength   = 2000
	maxEmailLength     = 254
	maxSourceURLLength = 2048
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type ReportsModule struct {
	db          *gorm.DB
	limiter     *ratelimit.Limiter
	mailer      emailpkg.Mailer
	appOrigin   string
	adminEmails []string
	responder   common.Responder
}

func NewReportsModule(db *gorm.DB, limiter *ratelimit.Limiter, mailer emailpkg.Mailer, cfg *config.Config) *ReportsModule {
	return &ReportsModule{
		db:          db,
		limiter:     limiter,
		mailer:      mailer,
		appOrigin:   cfg.AppOrigin,
		adminEmails: cfg.AdminEmailList(),
		responder:   common.NewResponder(log.With().Str("module", "reports").Logger()),
	}
}

func (m *ReportsModule) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/reports")
	api.Use(common.RequireSameOrigin(m.appOrigin))
	{
		api.POST("", m.submit)
		api.POST("/:id", common.RequireUser(), m.updateStatus)
	}

	router.GET("/dashboard/reports", common.RequireUser(), m.ownerQueue)
}

// flexibleID accepts both "12" and 12 in JSON bodies.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type submission struct {
	PostID        flexibleID `json:"postId" form:"postId"`
	PublicationID flexibleID `json:"publicationId" form:"publicationId"`
	Reason        string     `json:"reason" form:"reason"`
	ReporterEmail string     `json:"reporterEmail" form:"reporterEmail"`
	Details       string     `json:"details" form:"details"`
	SourceURL     string     `json:"sourceUrl" form:"sourceUrl"`
}

// validReport is a submission that passed structural validation.
type validReport struct {
	postID        int
	publicationID int
	reason        models.ReportReason
	email         string
	details       string
	sourceURL     string
}

func (s submission) validate() (*validReport, error) {
	postID, err := requiredID("postId", string(s.PostID))
	if err != nil {
		return nil, err
	}
	publicationID, err := requiredID("publicationId", string(s.PublicationID))
	if err != nil {
		return nil, err
	}

	rawReason := strings.TrimSpace(s.Reason)
	if rawReason == "" {
		return nil, errs.NewMissingRequiredFieldError("reason")
	}
	reason, err := models.ParseReportReason(rawReason)
	if err != nil {
		return nil, errs.NewInvalidFieldError("reason", "unknown reason")
	}

	email := strings.TrimSpace(s.ReporterEmail)
	if email != "" && (len(email) > maxEmailLength || !emailPattern.MatchString(email)) {
		return nil, errs.NewInvalidFieldError("reporterEmail", "not an e-mail address")
	}

	sourceURL := strings.TrimSpace(s.SourceURL)
	if sourceURL != "" {
		if err := validateSourceURL(sourceURL); err != nil {
			return nil, err
		}
	}

	return &validReport{
		postID:        postID,
		publicationID: publicationID,
		reason:        reason,
		email:         email,
		details:       common.PlainText(s.Details, maxDetailsLength),
		sourceURL:     sourceURL,
	}, nil
}

func requiredID(field, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errs.NewMissingRequiredFieldError(field)
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errs.NewInvalidFieldError(field, "not a valid identifier")
	}
	return id, nil
}

func validateSourceURL(raw string) error {
	if len(raw) > maxSourceURLLength {
		return errs.NewInvalidFieldError("sourceUrl", "too long")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errs.NewInvalidFieldError("sourceUrl", "not a URL")
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return errs.NewInvalidFieldError("sourceUrl", "scheme must be http or https")
	}
	if u.Host == "" {
		return errs.NewInvalidFieldError("sourceUrl", "missing host")
	}
	return nil
}

func (m *ReportsModule) submit(c *gin.Context) {
	var payload submission
	if err := c.ShouldBind(&payload); err != nil {
		m.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	input, err := payload.validate()
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	actor := common.ClientActor(c)
	limit, err := m.limiter.ConsumePolicy(c.Request.Context(), actor, ratelimit.ReportsPolicy)
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}
	if !limit.Allowed {
		m.responder.WriteError(c, errs.NewRateLimitedError(limit.RetryAfterSeconds))
		return
	}

	var post models.Post
	err = m.db.Where("id = ? AND publication_id = ? AND published = ?", input.postID, input.publicationID, true).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m.responder.WriteError(c, errs.NewBadRequestError("invalid report target"))
		return
	}
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "post", err))
		return
	}

	var existing models.Report
	err = m.db.Select("id").Where("post_id = ? AND reporter_ip = ?", post.ID, actor).First(&existing).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "deduplicated": true})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "report", err))
		return
	}

	var pub models.Publication
	if err := m.db.First(&pub, post.PublicationID).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "publication", err))
		return
	}

	report := models.Report{
		PostID:          post.ID,
		PublicationID:   pub.ID,
		Reason:          input.reason,
		ReporterEmail:   input.email,
		Details:         input.details,
		PostSlug:        post.Slug,
		PublicationSlug: pub.Slug,
		SourceURL:       input.sourceURL,
		ReporterIP:      actor,
		Status:          models.ReportOpen,
	}
	created, err := insertReport(m.db, &report)
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("create", "report", err))
		return
	}
	if !created {
		// a concurrent submission from the same actor won the insert
		c.JSON(http.StatusOK, gin.H{"success": true, "deduplicated": true})
		return
	}

	m.notifyOwner(pub, post, report.Reason)

	c.JSON(http.StatusOK, gin.H{"success": true, "id": report.ID})
}

// insertReport creates a reader report unless one already exists for the same
// post and actor. The unique index idx_reports_reader_dedup backs the check.
func insertReport(db *gorm.DB, report *models.Report) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(report)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (m *ReportsModule) notifyOwner(pub models.Publication, post models.Post, reason models.ReportReason) {
	var owner models.User
	if err := m.db.Select("id", "email").First(&owner, pub.UserID).Error; err != nil {
		m.responder.Logger().Warn().Err(err).Int("publicationID", pub.ID).Msg("report owner lookup failed")
		return
	}
	emailpkg.Async(func() error {
		return m.mailer.SendReportNotification(owner.Email, pub.Slug, post.Slug, string(reason))
	})
}

// canManage reports whether userID owns the report's publication or is a platform admin.
func (m *ReportsModule) canManage(userID int, report *models.Report) (bool, error) {
	var pub models.Publication
	if err := m.db.Select("id", "user_id").First(&pub, report.PublicationID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	} else if pub.UserID == userID {
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

func (m *ReportsModule) updateStatus(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	var report models.Report
	if err := m.db.Where("id = ?", c.Param("id")).First(&report).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("load", "report", err))
		return
	}

	allowed, err := m.canManage(userID, &report)
	if err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("authorize", "report", err))
		return
	}
	if !allowed {
		m.responder.WriteError(c, errs.NewForbiddenError("only the publication owner or an admin can manage this report"))
		return
	}

	action := strings.TrimSpace(c.PostForm("action"))
	if action == "" {
		action = strings.TrimSpace(c.PostForm("status"))
	}

	if action == "takedown" {
		err = m.takedown(&report)
	} else {
		err = m.transition(&report, action)
	}
	if err != nil {
		m.responder.WriteError(c, err)
		return
	}

	c.Redirect(http.StatusSeeOther, redirectTarget(c.PostForm("redirect")))
}

func (m *ReportsModule) transition(report *models.Report, raw string) error {
	next, err := models.ParseReportStatus(raw)
	if err != nil {
		return errs.NewInvalidFieldError("status", "unknown status")
	}
	if !report.Status.CanTransitionTo(next) {
		return errs.NewInvalidFieldError("status", "cannot move from "+string(report.Status)+" to "+string(next))
	}

	res := m.db.Model(&models.Report{}).
		Where("id = ? AND status = ?", report.ID, report.Status).
		Update("status", next)
	if res.Error != nil {
		return errs.NewDatabaseError("update", "report", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NewConflictError("report was updated concurrently")
	}
	report.Status = next
	return nil
}

// takedown unpublishes the reported post and resolves the report atomically.
func (m *ReportsModule) takedown(report *models.Report) error {
	if !report.Status.CanTransitionTo(models.ReportResolved) {
		return errs.NewInvalidFieldError("status", "report is already closed")
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if _, err := moderation.Unpublish(tx, report.PostID); err != nil {
			return err
		}
		res := tx.Model(&models.Report{}).
			Where("id = ? AND status = ?", report.ID, report.Status).
			Update("status", models.ReportResolved)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NewConflictError("report was updated concurrently")
		}
		return nil
	})
	if err != nil {
		var apiErr *errs.ApiErr
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return errs.NewDatabaseError("take down", "post", err)
	}

	report.Status = models.ReportResolved
	m.responder.Logger().Info().Str("reportID", report.ID).Int("postID", report.PostID).Msg("post taken down")
	return nil
}

func redirectTarget(raw string) string {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		return raw
	}
	return "/dashboard/reports"
}

func (m *ReportsModule) ownerQueue(c *gin.Context) {
	userID := c.GetInt(common.SessionUserKey)

	query := m.db.Model(&models.Report{}).
		Joins("JOIN publications ON publications.id = reports.publication_id").
		Where("publications.user_id = ?", userID)

	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseReportStatus(raw)
		if err != nil {
			m.responder.WriteError(c, errs.NewInvalidFieldError("status", "unknown status"))
			return
		}
		query = query.Where("reports.status = ?", status)
	}

	var reports []models.Report
	if err := query.Order("reports.created_at DESC").Find(&reports).Error; err != nil {
		m.responder.WriteError(c, errs.NewDatabaseError("list", "reports", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}
