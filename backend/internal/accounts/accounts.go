// Package accounts authenticates and registers users and manages their
// profiles. Activation is done through a mailed link.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/validator.v2"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/auth"
	"github.com/user/vitrader/backend/internal/database"
	"github.com/user/vitrader/backend/internal/mail"
	"github.com/user/vitrader/backend/internal/models"
)

var (
	ErrWrongInfo       = errors.New("wrong username or password")
	ErrInactiveAccount = errors.New("account not activated")
	ErrUsernameExists  = errors.New("username already taken")
	ErrEmailExists     = errors.New("email already registered")
	// ErrMailNotSent is returned together with the new id when delivery is required.
	ErrMailNotSent = errors.New("activation mail not sent")
)

// Store is the subset of the database store the account service needs.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	ActivateUser(ctx context.Context, userID int64) error
	RenameUser(ctx context.Context, userID int64, username string) error
	DeleteUser(ctx context.Context, userID int64) error
}

type Options struct {
	// PublicURL is the externally reachable base of the HTTP API.
	PublicURL       string
	RequireDelivery bool
	MailTimeout     time.Duration
}

type Service struct {
	store         Store
	mailer        mail.Sender
	opts          Options
	checkPassword func(password, hash string) bool
	logger        *zap.Logger
}

func NewService(store Store, mailer mail.Sender, opts Options, logger *zap.Logger) *Service {
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = 30 * time.Second
	}
	opts.PublicURL = strings.TrimSuffix(opts.PublicURL, "/")
	return &Service{
		store:         store,
		mailer:        mailer,
		opts:          opts,
		checkPassword: auth.CheckPasswordHash,
		logger:        logger.Named("accounts"),
	}
}

// Usernames may not contain '-': the activation link splits on the first one.
type registration struct {
	Username string `validate:"nonzero,max=64,regexp=^[A-Za-z0-9_.]+$"`
	Password string `validate:"nonzero,max=72"`
	Email    string `validate:"nonzero,max=254,regexp=^[^@ ]+@[^@ ]+[.][^@ ]+$"`
}

type rename struct {
	Username string `validate:"nonzero,max=64,regexp=^[A-Za-z0-9_.]+$"`
}

func (s *Service) lookup(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user %s: %v", apperr.ErrCollaborator, username, err)
	}
	if user == nil {
		// burn a bcrypt comparison so unknown names cost the same as bad passwords
		s.checkPassword(password, "")
		return nil, ErrWrongInfo
	}
	if !s.checkPassword(password, user.Password) {
		return nil, ErrWrongInfo
	}
	return user, nil
}

// Authenticate returns the user id when the credentials match an activated account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (int64, error) {
	user, err := s.lookup(ctx, username, password)
	if err != nil {
		return 0, err
	}
	if !user.Activated {
		return 0, ErrInactiveAccount
	}
	return user.ID, nil
}

// Register creates an inactive account and mails its activation link. When
// mail delivery is required and fails, the id is returned with ErrMailNotSent.
func (s *Service) Register(ctx context.Context, username, password, email string) (int64, error) {
	if err := validator.Validate(registration{Username: username, Password: password, Email: email}); err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	if err := s.checkAvailable(ctx, username, email); err != nil {
		return 0, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, username, hash, email)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// lost a race with a concurrent registration
			if err := s.checkAvailable(ctx, username, email); err != nil {
				return 0, err
			}
			return 0, ErrUsernameExists
		}
		return 0, fmt.Errorf("%w: create user %s: %v", apperr.ErrCollaborator, username, err)
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", username))

	if err := s.sendActivation(ctx, username, password, email); err != nil {
		s.logger.Warn("activation mail not sent",
			zap.String("username", username), zap.String("email", email), zap.Error(err))
		if s.opts.RequireDelivery {
			return user.ID, ErrMailNotSent
		}
	}
	return user.ID, nil
}

func (s *Service) checkAvailable(ctx context.Context, username, email string) error {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("%w: lookup user %s: %v", apperr.ErrCollaborator, username, err)
	}
	if existing != nil {
		return ErrUsernameExists
	}
	existing, err = s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: lookup email: %v", apperr.ErrCollaborator, err)
	}
	if existing != nil {
		return ErrEmailExists
	}
	return nil
}

// ActivationLink is <public_url>/validate/<username>-<password>, path-escaped.
func (s *Service) ActivationLink(username, password string) string {
	return s.opts.PublicURL + "/validate/" + url.PathEscape(username+"-"+password)
}

func (s *Service) sendActivation(ctx context.Context, username, password, email string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.MailTimeout)
	defer cancel()

	body := fmt.Sprintf("Welcome to ViTrader, %s!\n\nActivate your account by opening:\n%s\n",
		username, s.ActivationLink(username, password))
	return s.mailer.Send(ctx, email, "Activate your ViTrader account", body)
}

// Activate flags the account as activated.
func (s *Service) Activate(ctx context.Context, userID int64) error {
	if err := s.store.ActivateUser(ctx, userID); err != nil {
		return fmt.Errorf("activate user %d: %w", userID, err)
	}
	return nil
}

// ActivateWithCredentials handles the "<username>-<password>" part of an
// activation link. The password is checked whatever the activation state.
func (s *Service) ActivateWithCredentials(ctx context.Context, credentials string) (int64, error) {
	username, password, ok := strings.Cut(credentials, "-")
	if !ok || username == "" {
		return 0, ErrWrongInfo
	}
	user, err := s.lookup(ctx, username, password)
	if err != nil {
		return 0, err
	}
	if err := s.Activate(ctx, user.ID); err != nil {
		return 0, err
	}
	s.logger.Info("user activated", zap.Int64("user_id", user.ID), zap.String("username", username))
	return user.ID, nil
}

// Profile returns the user or apperr.ErrNotFound.
func (s *Service) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user %d: %v", apperr.ErrCollaborator, userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return user, nil
}

func (s *Service) Rename(ctx context.Context, userID int64, username string) error {
	if err := validator.Validate(rename{Username: username}); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := s.store.RenameUser(ctx, userID, username); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return ErrUsernameExists
		}
		return err
	}
	return nil
}

// Delete removes the user with its positions and trades.
func (s *Service) Delete(ctx context.Context, userID int64) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.Int64("user_id", userID))
	return nil
}

func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Admin, nil
}
