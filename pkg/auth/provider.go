// Package auth is the email/password identity provider and the authority
// gate in front of the admin API.
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

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

// AuthEvent is passed to OnAuthStateChange listeners.
type AuthEvent struct {
	Identity Identity
	SignedIn bool
}

type Provider struct {
	db       *gorm.DB
	sessions SessionStore
	secret   []byte
	ttl      time.Duration
	validate *validator.Validate
	now      func() time.Time

	mu        sync.RWMutex
	listeners map[int]func(AuthEvent)
	nextID    int
}

func NewProvider(db *gorm.DB, sessions SessionStore, secret string, ttl time.Duration) (*Provider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("auth: migrate accounts: %w", err)
	}
	return &Provider{
		db:        db,
		sessions:  sessions,
		secret:    []byte(secret),
		ttl:       ttl,
		validate:  validator.New(),
		now:       time.Now,
		listeners: make(map[int]func(AuthEvent)),
	}, nil
}

func (p *Provider) checkCredentials(c Credentials) error {
	if err := p.validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %s", models.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount registers a new identity and signs it in.
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (Session, error) {
	creds := Credentials{Email: normalizeEmail(email), Password: password}
	if err := p.checkCredentials(creds); err != nil {
		return Session{}, err
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&Account{}).Where("email = ?", creds.Email).Count(&count).Error; err != nil {
		return Session{}, fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return Session{}, fmt.Errorf("%w: email already registered", models.ErrConflict)
	}

	hash, err := HashPassword(creds.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	account := Account{Email: creds.Email, Password: hash}
	if err := p.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Session{}, fmt.Errorf("%w: email already registered", models.ErrConflict)
		}
		return Session{}, fmt.Errorf("create account: %w", err)
	}

	logging.Info().Str("user_id", account.ID).Msg("account created")
	return p.startSession(Identity{UserID: account.ID, Email: account.Email})
}

// DeleteAccount removes an account, e.g. to undo a half-finished signup.
func (p *Provider) DeleteAccount(ctx context.Context, userID string) error {
	return p.db.WithContext(ctx).Unscoped().Delete(&Account{}, "id = ?", userID).Error
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	var account Account
	err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, models.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if !CheckPasswordHash(password, account.Password) {
		return Session{}, models.ErrInvalidCredentials
	}
	return p.startSession(Identity{UserID: account.ID, Email: account.Email})
}

func (p *Provider) startSession(id Identity) (Session, error) {
	s, err := issueToken(p.secret, id, p.now(), p.ttl)
	if err != nil {
		return Session{}, err
	}
	p.emit(AuthEvent{Identity: id, SignedIn: true})
	return s, nil
}

// SignOut revokes the session for the rest of its lifetime.
func (p *Provider) SignOut(ctx context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(p.now())
	if err := p.sessions.Revoke(ctx, s.ID, ttl); err != nil {
		return err
	}
	p.emit(AuthEvent{Identity: s.Identity, SignedIn: false})
	return nil
}

// Authenticate validates a bearer token and rejects revoked sessions.
func (p *Provider) Authenticate(ctx context.Context, token string) (Session, error) {
	if strings.TrimSpace(token) == "" {
		return Session{}, models.ErrNoSession
	}
	s, err := parseToken(p.secret, token, p.now())
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", models.ErrNoSession, err)
	}
	revoked, err := p.sessions.IsRevoked(ctx, s.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, fmt.Errorf("%w: session signed out", models.ErrNoSession)
	}
	return s, nil
}

func (p *Provider) CurrentUser(ctx context.Context, token string) (Identity, error) {
	s, err := p.Authenticate(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return s.Identity, nil
}

// OnAuthStateChange registers fn for sign-in and sign-out events. The
// returned func removes it.
func (p *Provider) OnAuthStateChange(fn func(AuthEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) emit(ev AuthEvent) {
	p.mu.RLock()
	fns := make([]func(AuthEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
