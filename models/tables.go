package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SystemActor marks reports opened by the automated sweep instead of a reader.
const SystemActor = "system:auto"

type User struct {
	ID                     int    `gorm:"primary_key;autoIncrement" json:"id"`
	PasswordHash           string `gorm:"not null" json:"-"`
	Email                  string `gorm:"unique;not null" json:"email"`
	EmailVerified          bool   `gorm:"default:false" json:"email_verified"`
	EmailVerificationToken string `json:"-"`
	IsAdmin                bool   `gorm:"default:false" json:"is_admin"`
}

type Publication struct {
	ID           int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID       int       `gorm:"not null;index" json:"user_id"`
	Slug         string    `gorm:"unique;not null" json:"slug"`
	Name         string    `gorm:"not null" json:"name"`
	Description  string    `gorm:"type:text" json:"description"`
	PriceMonthly *int      `json:"price_monthly"` // smallest currency unit
	PriceYearly  *int      `json:"price_yearly"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Post struct {
	ID            int        `gorm:"primary_key;autoIncrement" json:"id"`
	PublicationID int        `gorm:"not null;uniqueIndex:idx_posts_publication_slug" json:"publication_id"`
	Title         string     `gorm:"not null" json:"title"`
	Slug          string     `gorm:"not null;uniqueIndex:idx_posts_publication_slug" json:"slug"`
	Content       string     `gorm:"type:text" json:"content"`
	Excerpt       string     `gorm:"type:text" json:"excerpt"`
	Category      Category   `gorm:"type:varchar(16);not null;default:'article'" json:"category"`
	Visibility    Visibility `gorm:"type:varchar(16);not null;default:'free'" json:"visibility"`
	Published     bool       `gorm:"default:false;index" json:"published"`
	PublishedAt   *time.Time `gorm:"index" json:"published_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Subscription is keyed by (user, publication); writes go through an upsert.
type Subscription struct {
	UserID        int                `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	PublicationID int                `gorm:"primaryKey;autoIncrement:false" json:"publication_id"`
	Tier          SubscriptionTier   `gorm:"type:varchar(16);not null;default:'free'" json:"tier"`
	Status        SubscriptionStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	BillingRef    string             `gorm:"index" json:"billing_ref,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type Report struct {
	ID              string       `gorm:"primaryKey;size:36" json:"id"`
	PostID          int          `gorm:"not null;uniqueIndex:idx_reports_reader_dedup,where:reporter_ip <> 'system:auto'" json:"post_id"`
	PublicationID   int          `gorm:"not null;index" json:"publication_id"`
	Reason          ReportReason `gorm:"type:varchar(32);not null" json:"reason"`
	ReporterEmail   string       `json:"reporter_email,omitempty"`
	Details         string       `gorm:"type:text" json:"details,omitempty"`
	PostSlug        string       `json:"post_slug"`
	PublicationSlug string       `json:"publication_slug"`
	SourceURL       string       `json:"source_url,omitempty"`
	ReporterIP      string       `gorm:"not null;uniqueIndex:idx_reports_reader_dedup,where:reporter_ip <> 'system:auto'" json:"-"`
	Status          ReportStatus `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type Comment struct {
	ID        int       `gorm:"primary_key;autoIncrement" json:"id"`
	PostID    int       `gorm:"not null;index" json:"post_id"`
	UserID    int       `gorm:"not null;index" json:"user_id"`
	ParentID  *int      `gorm:"index" json:"parent_id,omitempty"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Upvotes   int64     `gorm:"-" json:"upvotes"`
}

type CommentUpvote struct {
	UserID    int       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CommentID int       `gorm:"primaryKey;autoIncrement:false;index" json:"comment_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PostView is a throttled reader visit, one row per visitor per half hour.
type PostView struct {
	ID        uint      `gorm:"primary_key;autoIncrement"`
	PostID    int       `gorm:"not null;index"`
	CookieID  string    `gorm:"not null;index"`
	IP        string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}
