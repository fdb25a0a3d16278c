package admin

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tierpress/common"
	emailpkg "tierpress/email"
	"tierpress/errs"
	"tierpress/models"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (a *AdminModule) signup(c *gin.Context) {
	var input credentials
	if err := c.ShouldBind(&input); err != nil {
		a.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		a.responder.WriteError(c, errs.NewMissingRequiredFieldError("email"))
		return
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		a.responder.WriteError(c, errs.NewInvalidFieldError("email", "not an e-mail address"))
		return
	}
	if len(input.Password) < minPasswordLength {
		a.responder.WriteError(c, errs.NewInvalidFieldError("password", "must have at least 8 characters"))
		return
	}

	var existing int64
	if err := a.db.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("load", "user", err))
		return
	}
	if existing > 0 {
		a.responder.WriteError(c, errs.NewConflictError("e-mail already registered"))
		return
	}

	passwordHash, err := hashPassword(input.Password)
	if err != nil {
		a.responder.WriteError(c, errs.NewInternalErrorWithCause("failed to hash password", err))
		return
	}
	token, err := generateToken()
	if err != nil {
		a.responder.WriteError(c, errs.NewInternalErrorWithCause("failed to generate token", err))
		return
	}

	user := models.User{
		Email:                  email,
		PasswordHash:           passwordHash,
		EmailVerificationToken: token,
	}
	if err := a.db.Create(&user).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("create", "user", err))
		return
	}

	emailpkg.Async(func() error {
		return a.mailer.SendVerificationEmail(user.Email, token)
	})

	c.JSON(http.StatusCreated, gin.H{"success": true, "email": user.Email})
}

func (a *AdminModule) confirmEmail(c *gin.Context) {
	token := c.Param("token")

	var user models.User
	if err := a.db.Where("email_verification_token = ?", token).First(&user).Error; err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("load", "verification token", err))
		return
	}

	err := a.db.Model(&user).Updates(map[string]interface{}{
		"email_verified":           true,
		"email_verification_token": "",
	}).Error
	if err != nil {
		a.responder.WriteError(c, errs.NewDatabaseError("update", "user", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "e-mail confirmed"})
}

func (a *AdminModule) login(c *gin.Context) {
	var input credentials
	if err := c.ShouldBind(&input); err != nil {
		a.responder.WriteError(c, errs.NewMalformedPayloadError(err))
		return
	}

	var user models.User
	err := a.db.Where("email = ?", strings.ToLower(strings.TrimSpace(input.Email))).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		a.responder.WriteError(c, errs.NewDatabaseError("load", "user", err))
		return
	}
	if err != nil || !checkPasswordHash(input.Password, user.PasswordHash) {
		a.responder.WriteError(c, errs.NewUnauthorizedError())
		return
	}
	if !user.EmailVerified {
		a.responder.WriteError(c, errs.NewForbiddenError("confirm your e-mail before signing in"))
		return
	}

	session := sessions.Default(c)
	session.Set(common.SessionUserKey, user.ID)
	if err := session.Save(); err != nil {
		a.responder.WriteError(c, errs.NewInternalErrorWithCause("failed to save session", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": user.ID})
}

func (a *AdminModule) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	c.Redirect(http.StatusFound, "/")
}
