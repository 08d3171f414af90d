// Package token signs and verifies resume credentials.
//
// A credential is a signed, time-boxed bearer string binding a session to a
// user and game. Verification is a pure function of the token and the key
// material: it never consults mutable state, so it can run before any
// session lookup.
package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/gammon.space/internal/platform/errors"
)

// Claims captures the validated contents of a resume credential.
type Claims struct {
	SessionID string
	GameID    string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// resumeClaims is the internal claims type used for JWT parsing.
type resumeClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	GameID    string `json:"gid"`
	UserID    string `json:"uid"`
}

// codecEnv holds raw env values before post-parse validation.
type codecEnv struct {
	Issuer     string `env:"GAMMON_SPACE_RESUME_TOKEN_ISSUER"`
	Audience   string `env:"GAMMON_SPACE_RESUME_TOKEN_AUDIENCE"`
	PrivateKey string `env:"GAMMON_SPACE_RESUME_TOKEN_PRIVATE_KEY"`
}

// Config defines how resume credentials are signed and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	Now      func() time.Time
}

// Codec issues and verifies resume credentials. It is stateless and safe for
// concurrent use.
type Codec struct {
	issuer   string
	audience string
	private  ed25519.PrivateKey
	public   ed25519.PublicKey
	now      func() time.Time
}

// LoadConfigFromEnv reads credential signing configuration. The private key
// is a base64-encoded Ed25519 private key (64 bytes) or seed (32 bytes).
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw codecEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse resume token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("GAMMON_SPACE_RESUME_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("GAMMON_SPACE_RESUME_TOKEN_AUDIENCE is required")
	}
	if privateKey == "" {
		return Config{}, fmt.Errorf("GAMMON_SPACE_RESUME_TOKEN_PRIVATE_KEY is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode resume token private key: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(keyBytes)
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(keyBytes)
	default:
		return Config{}, fmt.Errorf("resume token private key must be %d or %d bytes", ed25519.PrivateKeySize, ed25519.SeedSize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      key,
		Now:      now,
	}, nil
}

// New creates a Codec from the given configuration.
func New(cfg Config) (*Codec, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("audience is required")
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		private:  cfg.Key,
		public:   cfg.Key.Public().(ed25519.PublicKey),
		now:      now,
	}, nil
}

// Issue produces a signed credential binding the session to a user and game.
// A zero or negative ttl produces an already-expired credential; callers
// control expiry policy, the codec only records it.
func (c *Codec) Issue(sessionID, gameID, userID string, ttl time.Duration) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	gameID = strings.TrimSpace(gameID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	if gameID == "" {
		return "", errors.New("game id is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}

	issuedAt := c.now().UTC()
	claims := resumeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		SessionID: sessionID,
		GameID:    gameID,
		UserID:    userID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(c.private)
	if err != nil {
		return "", fmt.Errorf("sign resume credential: %w", err)
	}
	return signed, nil
}

// Verify checks a credential's encoding, signature, and expiry. Failures are
// reported as distinguished domain errors so telemetry can separate
// malformed, forged, and expired credentials; callers handle all three
// identically as "must rejoin".
func (c *Codec) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential is required")
	}

	var parsed resumeClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return c.public, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != c.issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeCredentialInvalid,
			"resume credential issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, c.audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeCredentialInvalid,
			"resume credential audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if strings.TrimSpace(parsed.SessionID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential sid is required")
	}
	if strings.TrimSpace(parsed.GameID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential gid is required")
	}
	if strings.TrimSpace(parsed.UserID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential uid is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential exp is required")
	}

	now := c.now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeCredentialExpired, "resume credential is expired")
	}

	claims := Claims{
		SessionID: parsed.SessionID,
		GameID:    parsed.GameID,
		UserID:    parsed.UserID,
		ExpiresAt: exp,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// HashCredential returns the hex SHA-256 digest of a credential. Stores keep
// this hash instead of the raw bearer string.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// mapJWTError translates jwt library errors to domain errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeCredentialInvalid, "resume credential signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeCredentialInvalid, "resume credential alg is invalid")
	}
	return apperrors.New(apperrors.CodeCredentialInvalid, "resume credential is malformed")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
