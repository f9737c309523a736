// Package authpw provides login/password authentication and profile maintenance.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cellsync/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingFields      = errors.New("firstname, lastname, mail, login and password are required")
	ErrPasswordMismatch   = errors.New("password and confirmPassword do not match")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrLoginTaken         = errors.New("login already used")
	ErrMailTaken          = errors.New("mail already used")
	ErrInvalidCredentials = errors.New("invalid login or password")
)

const minPasswordLength = 8

// Service provides login/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByLogin(ctx context.Context, login string) (store.User, error)
	GetUserByMail(ctx context.Context, mail string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateUser(ctx context.Context, userID string, patch store.UserPatch) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type RegisterRequest struct {
	Firstname       string
	Lastname        string
	Mail            string
	Login           string
	Password        string
	ConfirmPassword string
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	req.Login = strings.TrimSpace(req.Login)
	req.Mail = strings.TrimSpace(req.Mail)
	req.Firstname = strings.TrimSpace(req.Firstname)
	req.Lastname = strings.TrimSpace(req.Lastname)
	if req.Login == "" || req.Mail == "" || req.Firstname == "" || req.Lastname == "" || req.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if err := checkPassword(req.Password, req.ConfirmPassword); err != nil {
		return store.User{}, err
	}
	if err := s.ensureFree(ctx, "", &req.Login, &req.Mail); err != nil {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Login:        req.Login,
		Mail:         req.Mail,
		Firstname:    req.Firstname,
		Lastname:     req.Lastname,
		PasswordHash: string(hash),
	})
	if err != nil {
		// Lost a race against a concurrent registration.
		if store.IsUniqueViolation(err) {
			return store.User{}, ErrLoginTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, login, password string) (store.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

type ProfileUpdate struct {
	Login           *string
	Mail            *string
	Firstname       *string
	Lastname        *string
	Password        *string
	ConfirmPassword *string
}

// UpdateProfile applies a partial update to the user's own profile.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req ProfileUpdate) (store.User, error) {
	patch := store.UserPatch{
		Login:     trimmed(req.Login),
		Mail:      trimmed(req.Mail),
		Firstname: trimmed(req.Firstname),
		Lastname:  trimmed(req.Lastname),
	}
	for _, value := range []*string{patch.Login, patch.Mail, patch.Firstname, patch.Lastname} {
		if value != nil && *value == "" {
			return store.User{}, ErrMissingFields
		}
	}
	if req.Password != nil {
		confirm := ""
		if req.ConfirmPassword != nil {
			confirm = *req.ConfirmPassword
		}
		if err := checkPassword(*req.Password, confirm); err != nil {
			return store.User{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.cost)
		if err != nil {
			return store.User{}, fmt.Errorf("hash password: %w", err)
		}
		encoded := string(hash)
		patch.PasswordHash = &encoded
	}
	if err := s.ensureFree(ctx, userID, patch.Login, patch.Mail); err != nil {
		return store.User{}, err
	}
	if err := s.store.UpdateUser(ctx, userID, patch); err != nil {
		if store.IsUniqueViolation(err) {
			return store.User{}, ErrLoginTaken
		}
		return store.User{}, err
	}
	return s.store.GetUserByID(ctx, userID)
}

// ensureFree rejects a login or mail that belongs to a user other than self.
func (s *Service) ensureFree(ctx context.Context, self string, login, mail *string) error {
	if login != nil {
		existing, err := s.store.GetUserByLogin(ctx, *login)
		if err == nil && existing.ID != self {
			return ErrLoginTaken
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if mail != nil {
		existing, err := s.store.GetUserByMail(ctx, *mail)
		if err == nil && existing.ID != self {
			return ErrMailTaken
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return nil
}

func checkPassword(password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}
