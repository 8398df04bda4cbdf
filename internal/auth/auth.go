// Package auth handles user accounts and bearer-token authentication.
//
// Passwords are stored as bcrypt hashes. Tokens are HS256 JWTs whose subject
// is the user's email; verification is stateless, so issued tokens remain
// valid until expiry even if the account is deleted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for authentication. Check with errors.Is().
var (
	// ErrEmailTaken indicates signup with an already-registered email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials covers both unknown email and wrong password,
	// deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates a malformed, mis-signed, or expired token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// User is a registered account. HashedPassword never leaves this package
// through the API layer.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`

	hashedPassword string
}

// Service manages user registration and token issuance.
type Service struct {
	pool     *pgxpool.Pool
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
}

// New creates a Service. secret signs and verifies tokens; tokenTTL bounds
// their lifetime.
func New(pool *pgxpool.Pool, secret []byte, tokenTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, secret: secret, tokenTTL: tokenTTL, logger: logger}
}

// Register creates an account with a bcrypt-hashed password.
// Returns ErrEmailTaken when the email is already registered.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{Email: email}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (email, hashed_password) VALUES ($1, $2) RETURNING id, created_at`,
		email, string(hash),
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("email %q: %w", email, ErrEmailTaken)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("registered user", "id", user.ID, "email", email)
	return user, nil
}

// Authenticate verifies an email/password pair.
// Returns ErrInvalidCredentials for unknown email and wrong password alike.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.hashedPassword), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken signs a bearer token for the user.
func (s *Service) IssueToken(user *User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and resolves its user.
// Returns ErrInvalidToken for malformed, mis-signed, or expired tokens.
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*User, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.userByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, hashed_password, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.hashedPassword, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", email, ErrUserNotFound)
		}
		return nil, fmt.Errorf("getting user %q: %w", email, err)
	}
	return user, nil
}
