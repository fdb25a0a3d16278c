package database

import (
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"tierpress/models"
)

// Tables lists every model managed by AutoMigrate.
func Tables() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Publication{},
		&models.Post{},
		&models.Subscription{},
		&models.Report{},
		&models.Comment{},
		&models.CommentUpvote{},
		&models.PostView{},
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Info().Msg("running database migrations")

	if err := db.AutoMigrate(Tables()...); err != nil {
		log.Error().Err(err).Msg("migrations failed")
		return err
	}

	log.Info().Msg("migrations completed")
	return nil
}
