package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params tunes the Argon2id password hash.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

var errEmptyPassword = errors.New("password must not be empty")

// Argon2HashService implements ports.HashService using Argon2id.
type Argon2HashService struct {
	params Argon2Params
}

// NewArgon2HashService creates a hash service with DefaultArgon2Params.
func NewArgon2HashService() *Argon2HashService {
	return &Argon2HashService{params: DefaultArgon2Params}
}

// NewArgon2HashServiceWithParams is used by tests to keep hashing cheap.
func NewArgon2HashServiceWithParams(p Argon2Params) *Argon2HashService {
	return &Argon2HashService{params: p}
}

// Hash returns the PHC string form: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func (s *Argon2HashService) Hash(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}

	salt := make([]byte, s.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	p := s.params
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded.
func (s *Argon2HashService) Verify(password string, encoded string) (bool, error) {
	ph, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), ph.salt, ph.params.Time, ph.params.Memory, ph.params.Threads, ph.params.KeyLen)
	return subtle.ConstantTimeCompare(ph.key, key) == 1, nil
}

type phcHash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func parsePHC(encoded string) (*phcHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return nil, fmt.Errorf("invalid hash format: expected 6 fields, got %d", len(fields))
	}
	if fields[1] != "argon2id" {
		return nil, fmt.Errorf("unsupported algorithm: %s", fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	ph := &phcHash{}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &ph.params.Memory, &ph.params.Time, &ph.params.Threads); err != nil {
		return nil, fmt.Errorf("parsing params: %w", err)
	}

	var err error
	if ph.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	if ph.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return nil, fmt.Errorf("decoding hash: %w", err)
	}
	ph.params.KeyLen = uint32(len(ph.key))
	ph.params.SaltLen = uint32(len(ph.salt))

	return ph, nil
}
