// Package auth resolves identity claims into player identities: guests,
// password accounts, and signed tokens issued to returning accounts. It
// also writes match outcomes back to the account store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"primeduel/internal/game"
	"primeduel/internal/player"
	"primeduel/internal/protocol"
	"primeduel/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("username must be 3-32 characters")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const (
	minUsername = 3
	maxUsername = 32
	minPassword = 6
	maxName     = 32
	issuer      = "primeduel"
)

// Identity is an authenticated claim.
type Identity struct {
	Name     string
	Username string
	Pronoun  string
	Rating   int
	Guest    bool
	Token    string
}

// Side is one participant of a settled match.
type Side struct {
	Username string // empty for guests
	Name     string
	Rating   int // after settlement
	Delta    int
}

// MatchRecord is what settlement persists.
type MatchRecord struct {
	SessionID  string
	Difficulty string
	Custom     bool
	Sides      [2]Side
	Winner     int
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Service authenticates claims against a Store.
type Service struct {
	store  *storage.Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock overrides the token clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service signing tokens with secret.
func NewService(store *storage.Store, secret []byte, ttl time.Duration, opts ...Option) *Service {
	s := &Service{store: store, secret: secret, ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate resolves a join claim. A token wins over a username, and a
// username over a bare guest name.
func (s *Service) Authenticate(ctx context.Context, claim protocol.Join) (Identity, error) {
	switch {
	case claim.Token != "":
		username, err := s.ParseToken(claim.Token)
		if err != nil {
			return Identity{}, err
		}
		acct, err := s.store.GetAccount(ctx, username)
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		if err != nil {
			return Identity{}, fmt.Errorf("load account: %w", err)
		}
		return s.accountIdentity(acct)
	case claim.Username != "":
		if claim.Register {
			return s.register(ctx, claim.Username, claim.Password)
		}
		return s.login(ctx, claim.Username, claim.Password)
	default:
		return Identity{
			Name:    trimName(claim.Name),
			Pronoun: randomPronoun(),
			Rating:  game.InitialRating,
			Guest:   true,
		}, nil
	}
}

func (s *Service) register(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if n := len([]rune(username)); n < minUsername || n > maxUsername {
		return Identity{}, ErrInvalidUsername
	}
	if len(password) < minPassword {
		return Identity{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	acct := storage.AccountRow{
		Username:     username,
		PasswordHash: string(hash),
		Pronoun:      randomPronoun(),
		Rating:       game.InitialRating,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return Identity{}, ErrUsernameTaken
		}
		return Identity{}, err
	}
	return s.accountIdentity(&acct)
}

func (s *Service) login(ctx context.Context, username, password string) (Identity, error) {
	acct, err := s.store.GetAccount(ctx, strings.TrimSpace(username))
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return s.accountIdentity(acct)
}

func (s *Service) accountIdentity(acct *storage.AccountRow) (Identity, error) {
	token, err := s.IssueToken(acct.Username)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Name:     acct.Username,
		Username: acct.Username,
		Pronoun:  acct.Pronoun,
		Rating:   game.ClampRating(acct.Rating),
		Guest:    acct.Guest,
		Token:    token,
	}, nil
}

// IssueToken signs an identity token for username.
func (s *Service) IssueToken(username string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates a token and returns its username.
func (s *Service) ParseToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// RecordMatch persists ranked ratings for account holders and appends the
// match to the history.
func (s *Service) RecordMatch(ctx context.Context, rec MatchRecord) error {
	var errs []error
	if !rec.Custom {
		for i, side := range rec.Sides {
			if side.Username == "" {
				continue
			}
			if err := s.store.UpdateRating(ctx, side.Username, side.Rating, i == rec.Winner); err != nil {
				errs = append(errs, err)
			}
		}
	}
	row := storage.MatchRow{
		ID:         rec.SessionID,
		Difficulty: rec.Difficulty,
		Custom:     rec.Custom,
		PlayerA:    label(rec.Sides[0]),
		PlayerB:    label(rec.Sides[1]),
		Winner:     label(rec.Sides[rec.Winner]),
		DeltaA:     rec.Sides[0].Delta,
		DeltaB:     rec.Sides[1].Delta,
		Reason:     rec.Reason,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if err := s.store.RecordMatch(ctx, row); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func label(s Side) string {
	if s.Username != "" {
		return s.Username
	}
	return "guest:" + s.Name
}

func trimName(name string) string {
	r := []rune(strings.TrimSpace(name))
	if len(r) > maxName {
		r = r[:maxName]
	}
	return string(r)
}

func randomPronoun() string {
	return player.Pronouns[rand.IntN(len(player.Pronouns))]
}
