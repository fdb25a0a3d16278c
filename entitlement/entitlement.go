package entitlement

import (
	"errors"

	"gorm.io/gorm"

	"tierpress/models"
)

// SubscriptionLookup finds the subscription for a (user, publication) pair.
// It returns (nil, nil) when none exists.
type SubscriptionLookup interface {
	FindSubscription(userID, publicationID int) (*models.Subscription, error)
}

// CanAccess decides whether viewerID may read the full post. Free posts are
// open to everyone. Preview and paid posts need the owner or an active paid
// subscription; preview only differs in what a denied viewer is shown.
func CanAccess(viewerID *int, post *models.Post, ownerUserID int, lookup SubscriptionLookup) (bool, error) {
	if !post.Visibility.Gated() {
		return true, nil
	}
	if viewerID == nil {
		return false, nil
	}
	if *viewerID == ownerUserID {
		return true, nil
	}

	sub, err := lookup.FindSubscription(*viewerID, post.PublicationID)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Tier == models.TierPaid && sub.Status == models.SubscriptionActive, nil
}

type GormLookup struct {
	db *gorm.DB
}

func NewGormLookup(db *gorm.DB) *GormLookup {
	return &GormLookup{db: db}
}

func (l *GormLookup) FindSubscription(userID, publicationID int) (*models.Subscription, error) {
	var sub models.Subscription
	err := l.db.Where("user_id = ? AND publication_id = ?", userID, publicationID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Resolver loads the publication owner and applies CanAccess. Nothing is cached.
type Resolver struct {
	db     *gorm.DB
	lookup SubscriptionLookup
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db, lookup: NewGormLookup(db)}
}

func (r *Resolver) CanAccessPost(viewerID *int, post *models.Post) (bool, error) {
	if !post.Visibility.Gated() {
		return true, nil
	}

	var pub models.Publication
	if err := r.db.Select("id", "user_id").First(&pub, post.PublicationID).Error; err != nil {
		return false, err
	}
	return CanAccess(viewerID, post, pub.UserID, r.lookup)
}
