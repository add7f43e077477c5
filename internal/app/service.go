package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"leavn/api/internal/auth"
	"leavn/api/internal/config"
	"leavn/api/internal/explorer"
	"leavn/api/internal/metrics"
	"leavn/api/internal/rbac"
	"leavn/api/internal/store"
	"leavn/api/internal/tags"
	"leavn/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Actor converts the session into the caller identity used by the tag index.
func (s Session) Actor() tags.Actor {
	if s.UserID == "" {
		return tags.Actor{}
	}
	return tags.Actor{UserID: s.UserID, Role: rbac.Normalize(s.Role)}
}

type userStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	Ping(context.Context) error
}

// sessionStore is satisfied by *store.SQLStore and *session.RedisStore.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type Deps struct {
	Users    userStore
	Sessions sessionStore
	Tags     *tags.Service
	Explorer *explorer.Builder
	Static   *explorer.Config
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	users    userStore
	sessions sessionStore
	tags     *tags.Service
	explorer *explorer.Builder
	static   *explorer.Config
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewService(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		users:    deps.Users,
		sessions: deps.Sessions,
		tags:     deps.Tags,
		explorer: deps.Explorer,
		static:   deps.Static,
		metrics:  deps.Metrics,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Reader"
	}

	user, err := s.users.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, store.ErrSessionNotFound
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    claims.Expiry(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if store.IsNotFound(err) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// Logout revokes whatever the caller presented. Failures are logged, not
// returned: the client is signed out either way.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrExpiredToken) ||
		errors.Is(err, store.ErrSessionNotFound)
}
