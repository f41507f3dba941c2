package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/selffetch-portal/auth/internal/domain"
	"github.com/selffetch-portal/auth/internal/logger"
	"github.com/selffetch-portal/auth/internal/token"
)

// rotateRetries bounds internal retries on transient storage conflicts.
// Conflicts are never surfaced to the client as anything but a generic
// failure.
const rotateRetries = 3

// AuthUsecase orchestrates login, refresh and logout over the credential
// store, the refresh-token ledger and the access-token issuer.
type AuthUsecase struct {
	userRepo domain.UserRepository
	ledger   domain.RefreshTokenLedger
	issuer   *token.Issuer
	log      *logger.Logger
}

func NewAuthUsecase(userRepo domain.UserRepository, ledger domain.RefreshTokenLedger, issuer *token.Issuer, log *logger.Logger) *AuthUsecase {
	return &AuthUsecase{
		userRepo: userRepo,
		ledger:   ledger,
		issuer:   issuer,
		log:      log,
	}
}

// TokenPair is what a successful login or refresh hands back: a short-lived
// access token for the Authorization header and a raw refresh token destined
// for the cookie.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (u *AuthUsecase) Register(ctx context.Context, email, password string) (*domain.User, error) {
	existing, err := u.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: string(hashed),
	}
	if err := u.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates the principal, opens a new refresh session for a fresh
// device id and mints an access token.
func (u *AuthUsecase) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := u.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	deviceID, err := domain.NewDeviceID()
	if err != nil {
		return nil, err
	}

	rawRefresh, err := u.ledger.Issue(ctx, user.ID, deviceID)
	if err != nil {
		return nil, err
	}

	access, exp, err := u.issuer.Mint(user.ID, time.Now())
	if err != nil {
		return nil, err
	}

	u.log.Info("session opened", "user_id", user.ID, "device_id", deviceID)

	return &TokenPair{AccessToken: access, RefreshToken: rawRefresh, ExpiresAt: exp}, nil
}

// Refresh exchanges a valid refresh token for a new pair, consuming the old
// token. A token that hashes to nothing is either a stale client retry or a
// stolen, already-rotated credential; it is denied and logged as a possible
// reuse event.
func (u *AuthUsecase) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	var (
		rotated *domain.Rotated
		err     error
	)
	for attempt := 0; attempt < rotateRetries; attempt++ {
		rotated, err = u.ledger.ValidateAndRotate(ctx, rawRefresh)
		if !errors.Is(err, domain.ErrStorageConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrRefreshTokenNotFound) {
			u.log.Warn("refresh token reuse or unknown token", "token_hash", domain.HashRawToken(rawRefresh))
		}
		return nil, err
	}

	access, exp, err := u.issuer.Mint(rotated.UserID, time.Now())
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: rotated.RawToken, ExpiresAt: exp}, nil
}

// Logout revokes the presented refresh token. Idempotent; an unknown token
// is not an error.
func (u *AuthUsecase) Logout(ctx context.Context, rawRefresh string) error {
	return u.ledger.Revoke(ctx, rawRefresh)
}

// LogoutAll revokes every session of the user ("log out everywhere").
func (u *AuthUsecase) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return u.ledger.RevokeAll(ctx, userID)
}

// ValidateAccessToken verifies signature and expiry and resolves the subject.
func (u *AuthUsecase) ValidateAccessToken(tokenString string) (uuid.UUID, error) {
	return u.issuer.Verify(tokenString, time.Now())
}

func (u *AuthUsecase) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return u.userRepo.GetByID(ctx, id)
}
