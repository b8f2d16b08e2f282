package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"complaint-portal/pkg/models"
	"complaint-portal/pkg/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	return db
}

func setupProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(setupTestDB(t), NewMemorySessionStore(), "test-secret", time.Hour)
	require.NoError(t, err)
	return p
}

func TestCreateAccountAndSignIn(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	created, err := p.CreateAccount(ctx, "Officer@City.gov ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "officer@city.gov", created.Identity.Email)
	assert.NotEmpty(t, created.Token)

	s, err := p.SignIn(ctx, "officer@city.gov", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, created.Identity.UserID, s.Identity.UserID)

	_, err = p.SignIn(ctx, "officer@city.gov", "wrong-password")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "nobody@city.gov", "correct-horse")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = p.CreateAccount(ctx, "officer@city.gov", "another-pass")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestPasswordPolicy(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "not-an-email", "long-enough")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = p.CreateAccount(ctx, "a@b.org", "short")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSignOutRevokesSession(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	s, err := p.CreateAccount(ctx, "clerk@city.gov", "password123")
	require.NoError(t, err)

	id, err := p.CurrentUser(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.Identity, id)

	require.NoError(t, p.SignOut(ctx, s))
	_, err = p.CurrentUser(ctx, s.Token)
	assert.ErrorIs(t, err, models.ErrNoSession)

	_, err = p.CurrentUser(ctx, "garbage")
	assert.ErrorIs(t, err, models.ErrNoSession)
	_, err = p.CurrentUser(ctx, "")
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestExpiredToken(t *testing.T) {
	p := setupProvider(t)
	s, err := p.CreateAccount(context.Background(), "clerk@city.gov", "password123")
	require.NoError(t, err)

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = p.Authenticate(context.Background(), s.Token)
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestOnAuthStateChange(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	var events []AuthEvent
	stop := p.OnAuthStateChange(func(ev AuthEvent) { events = append(events, ev) })

	s, err := p.CreateAccount(ctx, "clerk@city.gov", "password123")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, s))
	stop()
	_, err = p.SignIn(ctx, "clerk@city.gov", "password123")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.True(t, events[0].SignedIn)
	assert.False(t, events[1].SignedIn)
	assert.Equal(t, s.Identity, events[1].Identity)
}

func TestGateAuthorize(t *testing.T) {
	p := setupProvider(t)
	st := store.NewMemoryStore()
	g := NewGate(p, st)
	ctx := context.Background()

	s, err := p.CreateAccount(ctx, "citizen@mail.org", "password123")
	require.NoError(t, err)

	_, err = g.Authorize(ctx, s)
	assert.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = p.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, models.ErrNoSession, "unauthorized session must be signed out")

	require.NoError(t, st.CreateAuthority(ctx, models.Authority{ID: s.Identity.UserID, Name: "Roads"}))
	s2, a, err := g.SignIn(ctx, "citizen@mail.org", "password123")
	require.NoError(t, err)
	assert.Equal(t, "Roads", a.Name)
	assert.NotEmpty(t, s2.Token)
}

func TestBootstrapOnlyOnce(t *testing.T) {
	p := setupProvider(t)
	st := store.NewMemoryStore()
	g := NewGate(p, st)
	g.now = func() time.Time { return time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	a, err := g.Bootstrap(ctx, AuthorityRequest{Name: "City Works", Email: "head@city.gov", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, AuthorityCode(a.ID, g.now()), a.AuthorityID)
	assert.Regexp(t, `^AUTH-2025-[0-9A-F]{4}$`, a.AuthorityID)
	assert.Equal(t, models.AuthorityActive, a.Status)

	_, err = g.Bootstrap(ctx, AuthorityRequest{Email: "second@city.gov", Password: "password123"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, got, err := g.SignIn(ctx, "head@city.gov", "password123")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestRegisterAuthorityAfterBootstrap(t *testing.T) {
	p := setupProvider(t)
	st := store.NewMemoryStore()
	g := NewGate(p, st)
	ctx := context.Background()

	_, err := g.Bootstrap(ctx, AuthorityRequest{Name: "City Works", Email: "head@city.gov", Password: "password123"})
	require.NoError(t, err)

	a, err := g.RegisterAuthority(ctx, AuthorityRequest{Email: "water@city.gov", Password: "password123", Category: " Water "})
	require.NoError(t, err)
	assert.Equal(t, "water@city.gov", a.Name)
	assert.Equal(t, "Water", a.Category)

	n, err := st.CountAuthorities(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, _, err = g.SignIn(ctx, "water@city.gov", "password123")
	assert.NoError(t, err)
}

type failingDirectory struct {
	*store.MemoryStore
}

func (failingDirectory) CreateAuthority(context.Context, models.Authority) error {
	return models.ErrStoreUnavailable
}

func TestBootstrapRollsBackAccount(t *testing.T) {
	p := setupProvider(t)
	g := NewGate(p, failingDirectory{store.NewMemoryStore()})
	ctx := context.Background()

	_, err := g.Bootstrap(ctx, AuthorityRequest{Email: "head@city.gov", Password: "password123"})
	require.True(t, errors.Is(err, models.ErrStoreUnavailable))

	_, err = p.SignIn(ctx, "head@city.gov", "password123")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthorityCode(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "AUTH-2024-9XYZ", AuthorityCode("abc9xyz", now))
	assert.Equal(t, "AUTH-2024-AB", AuthorityCode("ab", now))
}
