package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/cache"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/jwt"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/password"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	services "github.com/magabrotheeeer/quote-of-the-day/internal/services/auth"
	"github.com/magabrotheeeer/quote-of-the-day/internal/storage"
)

// Мок для UserRepository
type UserRepoMock struct {
	mock.Mock
}

func (m *UserRepoMock) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.Called(ctx)
	return fn(ctx)
}

func (m *UserRepoMock) CreateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *UserRepoMock) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *UserRepoMock) user(args mock.Arguments) (*models.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *UserRepoMock) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.user(m.Called(ctx, id))
}

func (m *UserRepoMock) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.user(m.Called(ctx, email))
}

func (m *UserRepoMock) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *UserRepoMock) SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return m.Called(ctx, id, token, expires).Error(0)
}

func (m *UserRepoMock) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	return m.user(m.Called(ctx, token, now))
}

func (m *UserRepoMock) SetPasswordResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return m.Called(ctx, id, token, expires).Error(0)
}

func (m *UserRepoMock) ConsumePasswordResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*models.User, error) {
	return m.user(m.Called(ctx, token, passwordHash, now))
}

func (m *UserRepoMock) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

func (m *UserRepoMock) UpdateProfile(ctx context.Context, id uuid.UUID, timezone string, settings models.NotificationSettings) (*models.User, error) {
	return m.user(m.Called(ctx, id, timezone, settings))
}

func (m *UserRepoMock) SetUserActive(ctx context.Context, id uuid.UUID, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

// Мок для Mailer
type MailerMock struct {
	mock.Mock
}

func (m *MailerMock) SendVerification(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

func (m *MailerMock) SendPasswordReset(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

func (m *MailerMock) SendWelcome(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, models.AnalyticsEvent) {}

const testSecret = "test_secret_key_1234567890"

type fixture struct {
	svc    *services.AuthService
	repo   *UserRepoMock
	mailer *MailerMock
	maker  *jwt.MakerImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &UserRepoMock{},
		mailer: &MailerMock{},
		maker:  jwt.NewJWTMaker(testSecret, 30*time.Minute),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = services.NewAuthService(f.repo, f.maker, f.mailer, cache.NewMemory(time.Minute), nopTracker{}, log, services.Options{})
	return f
}

func mustHash(t *testing.T, p string) string {
	t.Helper()
	h, err := password.GetHash(p)
	require.NoError(t, err)
	return h
}

func activeUser(t *testing.T, p string) *models.User {
	return &models.User{
		ID:               uuid.New(),
		Email:            "reader@example.com",
		PasswordHash:     mustHash(t, p),
		IsActive:         true,
		IsVerified:       true,
		Timezone:         "UTC",
		SubscriptionTier: models.TierFree,
	}
}

func TestAuthService_Register(t *testing.T) {
	f := newFixture(t)
	var sentToken string

	f.repo.On("WithTx", mock.Anything).Once()
	f.repo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
		return u.Email == "new@example.com" &&
			u.PasswordHash != "" && u.PasswordHash != "Str0ngPass" &&
			u.IsActive && !u.IsVerified &&
			u.Timezone == "Europe/Moscow" &&
			u.SubscriptionTier == models.TierFree &&
			u.EmailVerificationToken != nil &&
			u.EmailVerificationExpires != nil &&
			time.Until(*u.EmailVerificationExpires) > 23*time.Hour
	})).Return(nil).Once()
	f.repo.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s *models.Subscription) bool {
		return s.Tier == models.TierFree && s.Status == models.StatusActive
	})).Return(nil).Once()
	f.mailer.On("SendVerification", mock.Anything, "new@example.com", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { sentToken = args.String(2) }).
		Return(nil).Once()

	user, err := f.svc.Register(context.Background(), "new@example.com", "Str0ngPass", "Europe/Moscow")
	require.NoError(t, err)
	require.NotNil(t, user.EmailVerificationToken)
	assert.Equal(t, *user.EmailVerificationToken, sentToken)
	assert.NoError(t, password.CompareHash(user.PasswordHash, "Str0ngPass"))

	f.repo.AssertExpectations(t)
	f.mailer.AssertExpectations(t)
}

func TestAuthService_Register_Errors(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		timezone   string
		setupMocks func(r *UserRepoMock)
		wantErr    error
	}{
		{
			name:     "storage failure",
			password: "Str0ngPass",
			setupMocks: func(r *UserRepoMock) {
				r.On("WithTx", mock.Anything).Once()
				r.On("CreateUser", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
			},
		},
		{name: "too short", password: "Ab1", wantErr: services.ErrWeakPassword},
		{name: "no digit", password: "NoDigitsHere", wantErr: services.ErrWeakPassword},
		{name: "no uppercase", password: "lowercase1", wantErr: services.ErrWeakPassword},
		{name: "bad timezone", password: "Str0ngPass", timezone: "Mars/Olympus", wantErr: services.ErrInvalidTimezone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setupMocks != nil {
				tt.setupMocks(f.repo)
			}

			_, err := f.svc.Register(context.Background(), "new@example.com", tt.password, tt.timezone)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				f.repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
			}
			f.mailer.AssertNotCalled(t, "SendVerification", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.repo.On("WithTx", mock.Anything).Once()
	f.repo.On("CreateUser", mock.Anything, mock.Anything).Return(storage.ErrAlreadyExists).Once()

	_, err := f.svc.Register(context.Background(), "taken@example.com", "Str0ngPass", "")
	assert.ErrorIs(t, err, services.ErrEmailTaken)
	assert.Equal(t, apperr.KindConflict, apperr.From(err).Kind)
	f.repo.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
}

func TestAuthService_Login(t *testing.T) {
	const pass = "Str0ngPass"

	tests := []struct {
		name       string
		password   string
		setupMocks func(t *testing.T, r *UserRepoMock) *models.User
		wantErr    error
	}{
		{
			name:     "success",
			password: pass,
			setupMocks: func(t *testing.T, r *UserRepoMock) *models.User {
				u := activeUser(t, pass)
				r.On("GetUserByEmail", mock.Anything, u.Email).Return(u, nil).Once()
				r.On("UpdateLastLogin", mock.Anything, u.ID, mock.Anything).Return(nil).Once()
				return u
			},
		},
		{
			name:     "unknown email",
			password: pass,
			setupMocks: func(_ *testing.T, r *UserRepoMock) *models.User {
				r.On("GetUserByEmail", mock.Anything, "reader@example.com").Return(nil, storage.ErrNotFound).Once()
				return nil
			},
			wantErr: services.ErrInvalidCredentials,
		},
		{
			name:     "wrong password",
			password: "Wr0ngPass",
			setupMocks: func(t *testing.T, r *UserRepoMock) *models.User {
				u := activeUser(t, pass)
				r.On("GetUserByEmail", mock.Anything, u.Email).Return(u, nil).Once()
				return u
			},
			wantErr: services.ErrInvalidCredentials,
		},
		{
			name:     "deactivated",
			password: pass,
			setupMocks: func(t *testing.T, r *UserRepoMock) *models.User {
				u := activeUser(t, pass)
				u.IsActive = false
				r.On("GetUserByEmail", mock.Anything, u.Email).Return(u, nil).Once()
				return u
			},
			wantErr: services.ErrAccountDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			u := tt.setupMocks(t, f.repo)

			res, err := f.svc.Login(context.Background(), "reader@example.com", tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
				f.repo.AssertNotCalled(t, "UpdateLastLogin", mock.Anything, mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "bearer", res.TokenType)
			assert.Equal(t, 1800, res.ExpiresIn)
			assert.NotNil(t, res.User.LastLoginAt)

			claims, err := f.maker.ParseToken(res.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, u.ID.String(), claims.Subject)
			assert.Equal(t, "free", claims.SubscriptionTier)
			f.repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_AuthenticateAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := activeUser(t, "Str0ngPass")
	f.repo.On("GetUserByID", mock.Anything, u.ID).Return(u, nil)

	access, err := f.maker.GenerateToken(u.ID.String(), u.Email, "free")
	require.NoError(t, err)

	current, err := f.svc.Authenticate(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, models.CurrentUser{ID: u.ID, Email: u.Email, Tier: models.TierFree}, current)

	require.NoError(t, f.svc.Logout(ctx, access))

	_, err = f.svc.Authenticate(ctx, access)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthService_Authenticate_Rejections(t *testing.T) {
	f := newFixture(t)
	u := activeUser(t, "Str0ngPass")
	u.IsActive = false
	f.repo.On("GetUserByID", mock.Anything, u.ID).Return(u, nil)

	access, err := f.maker.GenerateToken(u.ID.String(), u.Email, "free")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), access)
	assert.ErrorIs(t, err, services.ErrAccountDisabled)

	_, err = f.svc.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	notUUID, err := f.maker.GenerateToken("not-a-uuid", u.Email, "free")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), notUUID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthService_VerifyEmail_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := activeUser(t, "Str0ngPass")

	f.repo.On("ConsumeVerificationToken", mock.Anything, "tok", mock.Anything).Return(u, nil).Once()
	f.repo.On("ConsumeVerificationToken", mock.Anything, "tok", mock.Anything).Return(nil, storage.ErrNotFound).Once()
	f.mailer.On("SendWelcome", mock.Anything, u.Email).Return(errors.New("smtp down")).Once()

	verified, err := f.svc.VerifyEmail(ctx, "tok")
	require.NoError(t, err, "mail failure does not fail verification")
	assert.Equal(t, u.ID, verified.ID)

	_, err = f.svc.VerifyEmail(ctx, "tok")
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	_, err = f.svc.VerifyEmail(ctx, "")
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	f.mailer.AssertNumberOfCalls(t, "SendWelcome", 1)
}

func TestAuthService_ResendVerification(t *testing.T) {
	t.Run("unverified user gets a new token", func(t *testing.T) {
		f := newFixture(t)
		u := activeUser(t, "Str0ngPass")
		u.IsVerified = false
		f.repo.On("GetUserByEmail", mock.Anything, u.Email).Return(u, nil).Once()
		f.repo.On("SetVerificationToken", mock.Anything, u.ID, mock.AnythingOfType("string"), mock.Anything).Return(nil).Once()
		f.mailer.On("SendVerification", mock.Anything, u.Email, mock.AnythingOfType("string")).Return(nil).Once()

		f.svc.ResendVerification(context.Background(), u.Email)
		f.mailer.AssertExpectations(t)
	})

	t.Run("verified user gets nothing", func(t *testing.T) {
		f := newFixture(t)
		u := activeUser(t, "Str0ngPass")
		f.repo.On("GetUserByEmail", mock.Anything, u.Email).Return(u, nil).Once()

		f.svc.ResendVerification(context.Background(), u.Email)
		f.mailer.AssertNotCalled(t, "SendVerification", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthService_ForgotPassword(t *testing.T) {
	t.Run("known user", func(t *testing.T) {
		f := newFixture(t)
		u := activeUser(t, "Str0ngPass")
		f.repo.On("GetUserByEmail", mock.Anything, u.Email).Return(u, nil).Once()
		f.repo.On("SetPasswordResetToken", mock.Anything, u.ID, mock.AnythingOfType("string"),
			mock.MatchedBy(func(exp time.Time) bool {
				return time.Until(exp) > 59*time.Minute && time.Until(exp) <= time.Hour
			})).Return(nil).Once()
		f.mailer.On("SendPasswordReset", mock.Anything, u.Email, mock.AnythingOfType("string")).Return(nil).Once()

		f.svc.ForgotPassword(context.Background(), u.Email)
		f.repo.AssertExpectations(t)
		f.mailer.AssertExpectations(t)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, storage.ErrNotFound).Once()

		f.svc.ForgotPassword(context.Background(), "ghost@example.com")
		f.repo.AssertNotCalled(t, "SetPasswordResetToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.mailer.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthService_ResetPassword(t *testing.T) {
	f := newFixture(t)
	u := activeUser(t, "Str0ngPass")

	f.repo.On("ConsumePasswordResetToken", mock.Anything, "good", mock.MatchedBy(func(hash string) bool {
		return password.CompareHash(hash, "N3wPassword") == nil
	}), mock.Anything).Return(u, nil).Once()
	f.repo.On("ConsumePasswordResetToken", mock.Anything, "expired", mock.Anything, mock.Anything).
		Return(nil, storage.ErrNotFound).Once()

	require.NoError(t, f.svc.ResetPassword(context.Background(), "good", "N3wPassword"))
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "expired", "N3wPassword"), services.ErrInvalidToken)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "good", "weak"), services.ErrWeakPassword)
	f.repo.AssertExpectations(t)
}

func TestAuthService_ChangePassword(t *testing.T) {
	f := newFixture(t)
	u := activeUser(t, "Str0ngPass")
	current := models.CurrentUser{ID: u.ID, Email: u.Email, Tier: models.TierFree}
	f.repo.On("GetUserByID", mock.Anything, u.ID).Return(u, nil)
	f.repo.On("UpdatePassword", mock.Anything, u.ID, mock.AnythingOfType("string")).Return(nil).Once()

	err := f.svc.ChangePassword(context.Background(), current, "WrongOld1", "N3wPassword")
	assert.ErrorIs(t, err, services.ErrWrongPassword)

	err = f.svc.ChangePassword(context.Background(), current, "Str0ngPass", "N3wPassword")
	require.NoError(t, err)
	f.repo.AssertNumberOfCalls(t, "UpdatePassword", 1)
}

func TestAuthService_UpdateProfile(t *testing.T) {
	u := activeUser(t, "Str0ngPass")
	current := models.CurrentUser{ID: u.ID, Email: u.Email, Tier: models.TierFree}
	tz := "America/New_York"
	badTZ := "Nowhere/City"

	tests := []struct {
		name    string
		upd     services.ProfileUpdate
		wantErr error
	}{
		{name: "timezone", upd: services.ProfileUpdate{Timezone: &tz}},
		{name: "unknown timezone", upd: services.ProfileUpdate{Timezone: &badTZ}, wantErr: services.ErrInvalidTimezone},
		{name: "delivery time", upd: services.ProfileUpdate{NotificationSettings: &models.NotificationSettings{
			Enabled: true, DeliveryTime: "07:30",
		}}},
		{name: "bad delivery time", upd: services.ProfileUpdate{NotificationSettings: &models.NotificationSettings{
			Enabled: true, DeliveryTime: "25:00",
		}}, wantErr: services.ErrInvalidDeliveryTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.repo.On("GetUserByID", mock.Anything, u.ID).Return(u, nil).Once()
			if tt.wantErr == nil {
				f.repo.On("UpdateProfile", mock.Anything, u.ID, mock.Anything, mock.Anything).Return(u, nil).Once()
			}

			_, err := f.svc.UpdateProfile(context.Background(), current, tt.upd)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				f.repo.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			f.repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_Deactivate(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.repo.On("SetUserActive", mock.Anything, id, false).Return(nil).Once()

	require.NoError(t, f.svc.Deactivate(context.Background(), models.CurrentUser{ID: id}))
	f.repo.AssertExpectations(t)
}
