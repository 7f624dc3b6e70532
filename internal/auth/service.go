package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	// ErrSessionRevoked means the refresh token is well-formed but no longer
	// stored: it was revoked at logout or never issued by us.
	ErrSessionRevoked = errors.New("session revoked")
)

// Store is the persistence needed by the service. The SQL implementation is
// Repository; tests substitute in-memory fakes.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpsertAdmin(ctx context.Context, user User) error
	CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error
	RefreshTokenExists(ctx context.Context, userID, rawToken string) (bool, error)
	DeleteRefreshToken(ctx context.Context, rawToken string) error
}

type Service struct {
	store      Store
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
}

func (s *Service) WithTokenTTLs(accessTTL, refreshTTL time.Duration) {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

func (s *Service) Signup(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(strings.ToLower(username))

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Login verifies the credentials and issues a fresh session. Unknown username
// and wrong password both surface as ErrInvalidCredentials so the response
// does not reveal which usernames exist.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(strings.ToLower(username))

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user.ID, user.Role)
}

func (s *Service) issueSession(ctx context.Context, userID, role string) (Session, error) {
	access, err := s.issueAccessToken(userID, role)
	if err != nil {
		return Session{}, err
	}

	// jti keeps concurrent sessions distinct: without it, two logins in the
	// same second would mint byte-identical refresh tokens.
	jti, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token id: %w", err)
	}

	now := time.Now().UTC()
	refresh, err := s.signToken(jwt.MapClaims{
		"sub": userID,
		"jti": jti.String(),
		"typ": tokenTypeRefresh,
		"iat": now.Unix(),
		"exp": now.Add(s.refreshTTL).Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.store.CreateRefreshToken(ctx, userID, refresh, now.Add(s.refreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Role:         role,
	}, nil
}

func (s *Service) issueAccessToken(userID, role string) (string, error) {
	now := time.Now().UTC()
	token, err := s.signToken(jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"typ":  tokenTypeAccess,
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return token, nil
}

func (s *Service) signToken(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// VerifyAccess checks signature and expiry only. There is no store lookup:
// an access token stays usable until its expiry instant even if the session
// was revoked in the meantime, which is why access lifetimes are kept short.
func (s *Service) VerifyAccess(tokenString string) (Principal, error) {
	claims, err := s.parseToken(tokenString, tokenTypeAccess)
	if err != nil {
		return Principal{}, err
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role == "" {
		return Principal{}, ErrInvalidToken
	}

	return Principal{UserID: sub, Role: role}, nil
}

// Refresh trades a valid, still-stored refresh token for a new access token.
// The refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return "", err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}

	stored, err := s.store.RefreshTokenExists(ctx, sub, refreshToken)
	if err != nil {
		return "", err
	}
	if !stored {
		return "", ErrSessionRevoked
	}

	user, err := s.store.GetUserByID(ctx, sub)
	if err != nil {
		return "", err
	}

	return s.issueAccessToken(user.ID, user.Role)
}

// Logout revokes the refresh token. Revoking an unknown token succeeds.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.store.DeleteRefreshToken(ctx, refreshToken)
}

func (s *Service) parseToken(tokenString, wantType string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// BootstrapAdmin provisions the admin account from the environment. Admins
// are never created through signup.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	return s.store.UpsertAdmin(ctx, User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	})
}
