package apikey

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/see4tech/oauth-service/internal/domain"
	"github.com/see4tech/oauth-service/internal/repository"
)

const (
	hashTime    uint32 = 3
	hashMemory  uint32 = 64 * 1024
	hashThreads uint8  = 2
	hashKeyLen  uint32 = 32
	hashSaltLen        = 16

	keyPrefix = "osk_"
	keyBytes  = 24
)

var errInvalidHash = errors.New("invalid api key hash")

// Service issues per-(user, platform) API keys and validates presented
// keys against their stored argon2id hashes. Plaintext keys are returned
// exactly once, at issue time.
type Service struct {
	repo   repository.APIKeyRepository
	logger *zap.Logger
}

func NewService(repo repository.APIKeyRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{repo: repo, logger: logger}
}

// Issue generates a fresh key, stores its hash, and returns the plaintext.
// Re-issuing replaces the previous key for the pair.
func (s *Service) Issue(ctx context.Context, userID string, p domain.Platform) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user_id required: %w", domain.ErrInvalidRequest)
	}

	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	key := keyPrefix + base64.RawURLEncoding.EncodeToString(buf)

	hash, err := Hash(key)
	if err != nil {
		return "", err
	}
	if err := s.repo.Upsert(ctx, userID, p, hash); err != nil {
		return "", err
	}

	s.logger.Info("api key issued",
		zap.String("user_id", userID),
		zap.String("platform", string(p)))
	return key, nil
}

// Validate checks a presented key for the pair. A missing row and a
// mismatched key are reported as distinct sentinels; callers map both to
// the same unauthorized response.
func (s *Service) Validate(ctx context.Context, userID string, p domain.Platform, key string) error {
	hash, err := s.repo.GetHash(ctx, userID, p)
	if err != nil {
		return err
	}
	ok, err := Verify(key, hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s platform %s: %w", userID, p, domain.ErrAPIKeyInvalid)
	}
	return nil
}

// Hash returns an argon2id hash string including parameters and salt.
func Hash(key string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(sum)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hashMemory,
		hashTime,
		hashThreads,
		encodedSalt,
		encodedHash,
	), nil
}

// Verify checks a key against the encoded argon2id hash.
func Verify(key, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errInvalidHash
	}

	version, err := parseVersion(parts[2])
	if err != nil || version != argon2.Version {
		return false, errInvalidHash
	}

	mem, timeCost, threads, err := parseParams(parts[3])
	if err != nil {
		return false, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errInvalidHash
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errInvalidHash
	}

	actual := argon2.IDKey([]byte(key), salt, timeCost, mem, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

func parseVersion(value string) (int, error) {
	if !strings.HasPrefix(value, "v=") {
		return 0, errInvalidHash
	}
	return strconv.Atoi(strings.TrimPrefix(value, "v="))
}

func parseParams(value string) (uint32, uint32, uint8, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return 0, 0, 0, errInvalidHash
	}

	mem, err := parseUint32Param(parts[0], "m=")
	if err != nil {
		return 0, 0, 0, errInvalidHash
	}
	timeCost, err := parseUint32Param(parts[1], "t=")
	if err != nil {
		return 0, 0, 0, errInvalidHash
	}
	threadsVal, err := parseUint32Param(parts[2], "p=")
	if err != nil || threadsVal > 255 {
		return 0, 0, 0, errInvalidHash
	}
	return mem, timeCost, uint8(threadsVal), nil
}

func parseUint32Param(value, prefix string) (uint32, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, errInvalidHash
	}
	parsed, err := strconv.ParseUint(strings.TrimPrefix(value, prefix), 10, 32)
	if err != nil {
		return 0, errInvalidHash
	}
	return uint32(parsed), nil
}
