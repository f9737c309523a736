package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"cellsync/api/internal/auth"
	"cellsync/api/internal/authpw"
	"cellsync/api/internal/config"
	"cellsync/api/internal/email"
	"cellsync/api/internal/rbac"
	"cellsync/api/internal/search"
	"cellsync/api/internal/store"
	"cellsync/api/internal/util"
)

// ID prefixes for access token jtis and opaque refresh tokens.
const (
	accessTokenIDPrefix = "jti"
	refreshTokenPrefix  = "rft"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByLogin(context.Context, string) (store.User, error)
	GetUserByMail(context.Context, string) (store.User, error)
	UpdateUser(context.Context, string, store.UserPatch) error
	DeleteUser(context.Context, string) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	CreateSheet(context.Context, store.Sheet, string) (store.Sheet, error)
	GetSheet(context.Context, int64) (store.Sheet, error)
	UpdateSheet(context.Context, int64, *string, *string) error
	DeleteSheet(context.Context, int64) error
	ListSheetsForUser(context.Context, string, store.SheetScope) ([]store.AccessibleSheet, error)
	GetGrant(context.Context, string, int64) (store.Grant, error)
	UpsertGrant(context.Context, store.Grant) error
	DeleteGrant(context.Context, string, int64) error
	ListSheetMembers(context.Context, int64) ([]store.SheetMember, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens and revoked access tokens. PostgreSQL
// serves by default; Redis replaces it when configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

// shareNotifier tells users about sheets shared with them; nil disables it.
type shareNotifier interface {
	SendShareNotice(email.ShareNotice) error
}

// sheetIndex is the search backend; nil disables search.
type sheetIndex interface {
	Search(search.Query) search.Response
	RefreshSheet(int64)
	DeleteSheet(int64)
	ReindexAllFromPG(context.Context)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	search   sheetIndex
	notifier shareNotifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return newService(cfg, dataStore, dataStore, searchIndex(searchService))
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service) *Service {
	return newService(cfg, dataStore, sessions, searchIndex(searchService))
}

func newService(cfg config.Config, data dataStore, sessions sessionStore, index sheetIndex) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		authpw:   authpw.NewService(data),
		search:   index,
	}
}

// WithNotifier enables share notices. An unconfigured mailer is ignored.
func (s *Service) WithNotifier(mailer *email.Service) *Service {
	if mailer != nil && mailer.IsConfigured() {
		s.notifier = mailer
	}
	return s
}

// searchIndex keeps a nil *search.Service from becoming a non-nil interface.
func searchIndex(svc *search.Service) sheetIndex {
	if svc == nil {
		return nil
	}
	return svc
}

// Bootstrap pushes existing sheets into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (map[string]any, error) {
	user, err := s.authpw.Register(ctx, req)
	if err != nil {
		return nil, mapAuthError(err)
	}
	return userView(user, true), nil
}

func (s *Service) Login(ctx context.Context, login, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, login, password)
	if err != nil {
		return Session{}, mapAuthError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, holder.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID(accessTokenIDPrefix)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Login,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID(refreshTokenPrefix) + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Login,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		// Tokens outlive deleted accounts.
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Login,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// VerifyToken resolves an access token for the realtime handshake with the
// same checks as REST: signature, expiry, revocation and a live account.
func (s *Service) VerifyToken(ctx context.Context, token string) (string, error) {
	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.Printf("logout: revoke access token: %v", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("logout: revoke refresh token: %v", err)
		}
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, viewerID, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userView(user, viewerID == user.ID), nil
}

func (s *Service) UpdateUser(ctx context.Context, session Session, userID string, update authpw.ProfileUpdate) (map[string]any, error) {
	if session.UserID != userID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Users may only edit their own profile", nil)
	}
	user, err := s.authpw.UpdateProfile(ctx, userID, update)
	if err != nil {
		return nil, mapAuthError(err)
	}
	return userView(user, true), nil
}

// DeleteUser removes the caller's account together with the sheets it owns.
func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) error {
	if session.UserID != userID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Users may only delete their own account", nil)
	}
	owned, err := s.store.ListSheetsForUser(ctx, userID, store.ScopeOwned)
	if err != nil {
		return err
	}
	for _, sheet := range owned {
		if err := s.store.DeleteSheet(ctx, sheet.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		s.indexDelete(sheet.ID)
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	_ = s.Logout(ctx, session, "")
	return nil
}

func (s *Service) ListSheets(ctx context.Context, userID string, scope store.SheetScope) ([]map[string]any, error) {
	sheets, err := s.store.ListSheetsForUser(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sheets))
	for _, sheet := range sheets {
		item := sheetView(sheet.Sheet)
		item["access"] = sheet.AccessRight
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) CreateSheet(ctx context.Context, userID, title, detail string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	sheet, err := s.store.CreateSheet(ctx, store.Sheet{Title: title, Detail: strings.TrimSpace(detail)}, userID)
	if err != nil {
		return nil, err
	}
	s.indexRefresh(sheet.ID)
	item := sheetView(sheet)
	item["access"] = string(rbac.RoleOwner)
	return item, nil
}

func (s *Service) GetSheet(ctx context.Context, userID string, sheetID int64) (map[string]any, error) {
	sheet, grant, err := s.authorizeSheet(ctx, userID, sheetID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	item := sheetView(sheet)
	item["access"] = grant.AccessRight
	return item, nil
}

func (s *Service) UpdateSheet(ctx context.Context, userID string, sheetID int64, title, detail *string) (map[string]any, error) {
	if _, _, err := s.authorizeSheet(ctx, userID, sheetID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be blank", nil)
		}
		title = &trimmed
	}
	if err := s.store.UpdateSheet(ctx, sheetID, title, detail); err != nil {
		return nil, err
	}
	s.indexRefresh(sheetID)
	return s.GetSheet(ctx, userID, sheetID)
}

func (s *Service) DeleteSheet(ctx context.Context, userID string, sheetID int64) error {
	if _, _, err := s.authorizeSheet(ctx, userID, sheetID, rbac.ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteSheet(ctx, sheetID); err != nil {
		return err
	}
	s.indexDelete(sheetID)
	return nil
}

func (s *Service) Search(ctx context.Context, userID, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{Text: text, UserID: userID, Limit: limit, Offset: offset})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexRefresh(sheetID int64) {
	if s.search != nil {
		s.search.RefreshSheet(sheetID)
	}
}

func (s *Service) indexDelete(sheetID int64) {
	if s.search != nil {
		s.search.DeleteSheet(sheetID)
	}
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid login or password", nil)
	case errors.Is(err, authpw.ErrLoginTaken):
		return domainError(http.StatusBadRequest, "LOGIN_TAKEN", err.Error(), map[string]any{"field": "login"})
	case errors.Is(err, authpw.ErrMailTaken):
		return domainError(http.StatusBadRequest, "MAIL_TAKEN", err.Error(), map[string]any{"field": "mail"})
	case errors.Is(err, authpw.ErrMissingFields),
		errors.Is(err, authpw.ErrPasswordMismatch),
		errors.Is(err, authpw.ErrPasswordTooShort):
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	default:
		return err
	}
}

func userView(user store.User, self bool) map[string]any {
	view := map[string]any{
		"id":        user.ID,
		"login":     user.Login,
		"firstname": user.Firstname,
		"lastname":  user.Lastname,
	}
	if self {
		view["mail"] = user.Mail
	}
	return view
}

func sheetView(sheet store.Sheet) map[string]any {
	return map[string]any{
		"id":        sheet.ID,
		"title":     sheet.Title,
		"detail":    sheet.Detail,
		"createdAt": sheet.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": sheet.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
