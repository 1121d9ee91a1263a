package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or passphrase.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassphrase signals the passphrase doesn't meet requirements.
	ErrWeakPassphrase = errors.New("auth: passphrase must be at least 8 characters")
	// ErrUnauthenticated signals the call carries no verifiable origin.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)

// Service is the transaction-origin authentication for the public operation
// surface: it verifies who submitted a call and yields the account identity
// the state machine authorizes against.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

// Register creates a login identity with a fresh on-ledger account id.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Passphrase) < 8 {
		return nil, ErrWeakPassphrase
	}
	if req.Email == "" {
		return nil, fmt.Errorf("auth: email is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Passphrase), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash passphrase: %w", err)
	}

	user := User{
		AccountID:      uuid.NewString(),
		Email:          req.Email,
		PassphraseHash: string(hash),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates a user and returns a session token bound to the
// user's account id.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PassphraseHash), []byte(req.Passphrase)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.AccountID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, User: user}, nil
}

// EnsureSigned validates a session token and returns the verified account id.
// Every public operation resolves its caller through this before touching the
// state machine; a failure rejects the whole call.
func (s *Service) EnsureSigned(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrUnauthenticated
	}
	accountID, ok := claims["account_id"].(string)
	if !ok || accountID == "" {
		return "", ErrUnauthenticated
	}
	return accountID, nil
}

func (s *Service) generateToken(accountID string) (string, error) {
	claims := jwt.MapClaims{
		"account_id": accountID,
		"exp":        time.Now().Add(s.tokenTTL).Unix(),
		"iat":        time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
