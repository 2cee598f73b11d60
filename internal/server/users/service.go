package users

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/cryptox"
	"github.com/avolkovs/termvault/internal/server/auth"
	"github.com/avolkovs/termvault/internal/server/config"
	"github.com/avolkovs/termvault/internal/server/keyvault"
	"github.com/avolkovs/termvault/internal/server/refreshtokens"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Vault is the slice of the key vault the account service drives: verified
// keys are installed on login and locked again on logout. The service never
// hands the vault an unverified key, so a failed attempt cannot disturb a
// session that is already unlocked.
type Vault interface {
	UnlockWithKey(userID string, key []byte) keyvault.KeyHandle
	Lock(userID string)
	CanAccess(userID string) bool
}

type Service struct {
	repo                         Repository
	refreshTokenRepo             refreshtokens.Repository
	vault                        Vault
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

func NewService(repo Repository, refreshTokenRepo refreshtokens.Repository, vault Vault, cfg *config.Config) *Service {
	return &Service{
		repo:                         repo,
		refreshTokenRepo:             refreshTokenRepo,
		vault:                        vault,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// Register creates an account. The stored verifier is a one-way hash of the
// derived key; neither the password nor the key itself is persisted.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	salt := common.GenerateRandByteArray(32)

	key := cryptox.DeriveUserKey([]byte(password), salt)
	verifier := cryptox.MakeVerifier(key)
	common.WipeByteArray(key)

	user := &User{
		UserName: username,
		Salt:     salt,
		Verifier: verifier,
	}

	user, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return user, nil
}

// GetSalt returns the salt to derive a client-side key from. Unknown users
// get a random salt of the same shape, so the endpoint cannot be used to
// enumerate accounts.
func (s *Service) GetSalt(ctx context.Context, username string) ([]byte, error) {
	user, err := s.repo.GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.GenerateRandByteArray(32), nil
		}
		return nil, common.ErrorInternal
	}
	return user.Salt, nil
}

// Login verifies the credential and unlocks the user's key for the session.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.repo.GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	// The candidate key stays local until the verifier matches: the vault
	// only ever holds keys that decrypt the user's data.
	key := cryptox.DeriveUserKey([]byte(password), user.Salt)

	if subtle.ConstantTimeCompare(user.Verifier, cryptox.MakeVerifier(key)) != 1 {
		common.WipeByteArray(key)
		return nil, common.ErrorUnauthorized
	}

	s.vault.UnlockWithKey(user.ID, key)

	pair, err := s.generateTokenPair(ctx, user.ID)
	if err != nil {
		s.vault.Lock(user.ID)
		return nil, common.ErrorInternal
	}

	return pair, nil
}

// Logout discards the refresh token and locks the user's key.
func (s *Service) Logout(ctx context.Context, userID string, refreshToken string) error {
	if refreshToken != "" {
		if err := s.refreshTokenRepo.Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
	}

	s.vault.Lock(userID)
	return nil
}

// RefreshToken rotates the token pair. It does not unlock the vault: only a
// credential can re-derive the key, so a process restart leaves sessions
// renewable but their data locked until the next login.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.refreshTokenRepo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}

	if token.Expires.Before(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	if err := s.refreshTokenRepo.Delete(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("error deleting refresh token: %w", err)
	}

	return s.generateTokenPair(ctx, token.UserID)
}

// VerifyAccessToken resolves the user behind an access token.
func (s *Service) VerifyAccessToken(tokenString string) (string, error) {
	return auth.GetUserIDFromToken(tokenString, s.jwtSecret)
}

func (s *Service) generateTokenPair(ctx context.Context, userID string) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}

	if err := s.refreshTokenRepo.Create(ctx, userID, refreshToken, s.refreshTokenValidityDuration); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
