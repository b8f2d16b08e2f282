package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"complaint-portal/pkg/logging"
	"complaint-portal/pkg/models"
)

type AuthorityDirectory interface {
	GetAuthority(ctx context.Context, id string) (models.Authority, error)
	CreateAuthority(ctx context.Context, a models.Authority) error
	CountAuthorities(ctx context.Context) (int64, error)
}

// Gate admits only identities that have an Authority record.
type Gate struct {
	provider    *Provider
	authorities AuthorityDirectory
	now         func() time.Time

	registerMu sync.Mutex
}

func NewGate(provider *Provider, authorities AuthorityDirectory) *Gate {
	return &Gate{provider: provider, authorities: authorities, now: time.Now}
}

func (g *Gate) Provider() *Provider {
	return g.provider
}

// Authorize resolves the authority behind s. An identity without one is
// signed out and refused.
func (g *Gate) Authorize(ctx context.Context, s Session) (models.Authority, error) {
	a, err := g.authorities.GetAuthority(ctx, s.Identity.UserID)
	if errors.Is(err, models.ErrNotFound) {
		if signOutErr := g.provider.SignOut(ctx, s); signOutErr != nil {
			logging.Ctx(ctx).Warn().Err(signOutErr).Str("user_id", s.Identity.UserID).Msg("failed to sign out unauthorized session")
		}
		return models.Authority{}, models.ErrNotAuthorized
	}
	if err != nil {
		return models.Authority{}, err
	}
	return a, nil
}

// SignIn authenticates and authorizes in one step, as the admin login does.
func (g *Gate) SignIn(ctx context.Context, email, password string) (Session, models.Authority, error) {
	s, err := g.provider.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, models.Authority{}, err
	}
	a, err := g.Authorize(ctx, s)
	if err != nil {
		return Session{}, models.Authority{}, err
	}
	return s, a, nil
}

type AuthorityRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Bootstrap creates the first authority account. It is refused once any
// authority exists. The new session is signed out so the caller has to log
// in through the normal path.
func (g *Gate) Bootstrap(ctx context.Context, req AuthorityRequest) (models.Authority, error) {
	g.registerMu.Lock()
	defer g.registerMu.Unlock()

	n, err := g.authorities.CountAuthorities(ctx)
	if err != nil {
		return models.Authority{}, err
	}
	if n > 0 {
		return models.Authority{}, fmt.Errorf("%w: authority signup is closed", models.ErrConflict)
	}
	a, err := g.register(ctx, req)
	if err != nil {
		return models.Authority{}, err
	}
	logging.Ctx(ctx).Info().Str("authority_id", a.AuthorityID).Msg("bootstrap authority created")
	return a, nil
}

// RegisterAuthority adds another authority account on behalf of an
// already admitted authority.
func (g *Gate) RegisterAuthority(ctx context.Context, req AuthorityRequest) (models.Authority, error) {
	g.registerMu.Lock()
	defer g.registerMu.Unlock()

	a, err := g.register(ctx, req)
	if err != nil {
		return models.Authority{}, err
	}
	logging.Ctx(ctx).Info().Str("authority_id", a.AuthorityID).Msg("authority registered")
	return a, nil
}

func (g *Gate) register(ctx context.Context, req AuthorityRequest) (models.Authority, error) {
	s, err := g.provider.CreateAccount(ctx, req.Email, req.Password)
	if err != nil {
		return models.Authority{}, err
	}

	now := g.now()
	a := models.Authority{
		ID:          s.Identity.UserID,
		AuthorityID: AuthorityCode(s.Identity.UserID, now),
		Name:        strings.TrimSpace(req.Name),
		Category:    strings.TrimSpace(req.Category),
		Email:       s.Identity.Email,
		Phone:       strings.TrimSpace(req.Phone),
		Status:      models.AuthorityActive,
		CreatedAt:   now,
	}
	if a.Name == "" {
		a.Name = a.Email
	}
	if err := g.authorities.CreateAuthority(ctx, a); err != nil {
		if delErr := g.provider.DeleteAccount(ctx, s.Identity.UserID); delErr != nil {
			logging.Ctx(ctx).Error().Err(delErr).Str("user_id", s.Identity.UserID).Msg("failed to roll back account")
		}
		return models.Authority{}, err
	}
	if err := g.provider.SignOut(ctx, s); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to close registration session")
	}
	return a, nil
}

// AuthorityCode renders AUTH-<year>-<last four uid chars, upper case>.
func AuthorityCode(uid string, now time.Time) string {
	short := uid
	if len(short) > 4 {
		short = short[len(short)-4:]
	}
	return fmt.Sprintf("AUTH-%d-%s", now.Year(), strings.ToUpper(short))
}
