package controllers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/middleware"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/session"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/utils"
)

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email,max=200"`
	Password string `json:"password" validate:"required,min=6"`
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

var errBadCredentials = apperror.New(apperror.KindAuth, "invalid email or password")

func HandleSignup(c *fiber.Ctx) error {
	var req signupRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	user, err := models.CreateUser(req.Username, req.Email, req.Password)
	if err != nil {
		return respondError(c, apperror.Wrap(apperror.KindValidation, err, validationMessage(err)))
	}
	if err := deps.Repos.User.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return respondError(c, apperror.New(apperror.KindValidation, "email already registered"))
		}
		return respondError(c, err)
	}
	settings, err := deps.Repos.User.GetOrCreateSettings(user.ID)
	if err != nil {
		return respondError(c, err)
	}
	if err := session.Login(c, user.ID, user.Name, false, settings.Plan); err != nil {
		return respondError(c, err)
	}
	log.Infof("[Auth] user %d signed up", user.ID)
	return c.Status(fiber.StatusCreated).JSON(accountJSON(user, settings))
}

func HandleSignin(c *fiber.Ctx) error {
	user, err := checkCredentials(c)
	if err != nil {
		return respondError(c, err)
	}
	settings, err := deps.Repos.User.GetOrCreateSettings(user.ID)
	if err != nil {
		return respondError(c, err)
	}
	if err := session.Login(c, user.ID, user.Name, user.Role == models.ROLE_ADMIN, settings.Plan); err != nil {
		return respondError(c, err)
	}
	user.TouchLogin()
	if err := deps.Repos.User.Update(user); err != nil {
		log.Warnf("[Auth] could not record login for user %d: %v", user.ID, err)
	}
	return c.JSON(accountJSON(user, settings))
}

func HandleSignout(c *fiber.Ctx) error {
	if err := session.Logout(c); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func HandleMe(c *fiber.Ctx) error {
	user, err := deps.Repos.User.GetByID(currentUserID(c))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, apperror.New(apperror.KindNotFound, "user not found"))
	}
	if err != nil {
		return respondError(c, err)
	}
	settings, err := deps.Repos.User.GetOrCreateSettings(user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(accountJSON(user, settings))
}

// HandleIssueToken returns a bearer token for mockupctl. A logged-in session
// needs no credentials; otherwise email and password are checked.
func HandleIssueToken(c *fiber.Ctx) error {
	var (
		user *models.User
		err  error
	)
	if usercontext.IsLoggedIn(c) {
		user, err = deps.Repos.User.GetByID(currentUserID(c))
	} else {
		user, err = checkCredentials(c)
	}
	if err != nil {
		return respondError(c, err)
	}
	settings, err := deps.Repos.User.GetOrCreateSettings(user.ID)
	if err != nil {
		return respondError(c, err)
	}
	token, expires, err := middleware.IssueToken(deps.TokenSecret, user, settings.Plan, deps.TokenTTL, deps.Now())
	if err != nil {
		return respondError(c, apperror.Wrap(apperror.KindUnknown, err, "token issuing is not available"))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token, "expires_at": expires.UTC()})
}

func checkCredentials(c *fiber.Ctx) (*models.User, error) {
	var req credentialsRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	user, err := deps.Repos.User.GetByEmail(req.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.CheckPassword(req.Password) {
		return nil, errBadCredentials
	}
	if !user.IsActive() {
		return nil, apperror.New(apperror.KindAuth, "account disabled")
	}
	return user, nil
}

// HandleSocialCallback completes a goth login and starts a session for the
// user with the provider's email, creating the account on first sight.
func HandleSocialCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("[Auth] social login failed: %v", err)
		return c.Redirect(oauth.RedirectURL(deps.BaseURL, oauth.RedirectResult{Error: string(apperror.KindAuth)}), fiber.StatusSeeOther)
	}

	email := u.Email
	if email == "" {
		email = fmt.Sprintf("%s_%s@%s.oauth.local", u.Provider, u.UserID, u.Provider)
	}
	user, err := deps.Repos.User.GetByEmail(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user, err = createSocialUser(firstNonEmpty(u.Name, u.NickName, "User"), email, u.AvatarURL)
	}
	if err != nil {
		return respondError(c, err)
	}
	if !user.IsActive() {
		return respondError(c, apperror.New(apperror.KindAuth, "account disabled"))
	}

	settings, err := deps.Repos.User.GetOrCreateSettings(user.ID)
	if err != nil {
		return respondError(c, err)
	}
	if err := session.Login(c, user.ID, user.Name, user.Role == models.ROLE_ADMIN, settings.Plan); err != nil {
		return respondError(c, err)
	}
	user.TouchLogin()
	_ = deps.Repos.User.Update(user)
	return c.Redirect(deps.BaseURL+"/", fiber.StatusSeeOther)
}

func createSocialUser(name, email, avatar string) (*models.User, error) {
	// password logins stay impossible until the user sets one
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	user, err := models.CreateUser(name, email, hex.EncodeToString(b))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, validationMessage(err))
	}
	user.AvatarURL = avatar
	if err := deps.Repos.User.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func accountJSON(user *models.User, settings *models.UserSettings) fiber.Map {
	return fiber.Map{
		"id":            user.ID,
		"username":      user.Name,
		"email":         user.Email,
		"avatar_url":    utils.AvatarURL(user.AvatarURL, user.Email),
		"status":        user.Status,
		"plan":          settings.Plan,
		"popup_oauth":   settings.PopupOAuth,
		"is_admin":      user.Role == models.ROLE_ADMIN,
		"created_at":    user.CreatedAt.UTC(),
		"last_login_at": formatTimePtr(user.LastLoginAt),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
