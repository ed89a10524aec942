package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32 // 256 bits
	saltLen      = 16

	sessionLabel = "depot/session/v1"
)

// Params are the argon2id cost parameters recorded alongside each hash.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultParams is used for stored passwords.
var DefaultParams = Params{Time: argonTime, Memory: argonMemory, Threads: argonThreads}

var b64 = base64.RawStdEncoding

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// SessionKey derives the token signing key from the server secret. The
// derivation is deterministic so tokens survive a server restart.
func SessionKey(secret string) []byte {
	return argon2.IDKey([]byte(secret), []byte(sessionLabel), argonTime, argonMemory, argonThreads, keyLen)
}

func generateSalt() []byte {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return salt
}

// HashPassword hashes password with DefaultParams.
func HashPassword(password string) string {
	return HashPasswordWith(password, DefaultParams)
}

// HashPasswordWith hashes password under a fresh random salt and returns
// the self-describing form
//
//	argon2id$t=3,m=65536,p=4$<salt>$<hash>
func HashPasswordWith(password string, p Params) string {
	salt := generateSalt()
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, keyLen)
	return fmt.Sprintf("argon2id$t=%d,m=%d,p=%d$%s$%s",
		p.Time, p.Memory, p.Threads, b64.EncodeToString(salt), b64.EncodeToString(hash))
}

// VerifyPassword reports whether password matches the stored hash. The
// parameters embedded in the hash are used, not DefaultParams.
func VerifyPassword(password, stored string) bool {
	p, salt, want, err := parseHash(stored)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func parseHash(stored string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}
	if _, err := fmt.Sscanf(parts[1], "t=%d,m=%d,p=%d", &p.Time, &p.Memory, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return p, nil, nil, ErrMalformedHash
	}
	salt, err := b64.DecodeString(parts[2])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	hash, err := b64.DecodeString(parts[3])
	if err != nil || len(hash) == 0 {
		return p, nil, nil, fmt.Errorf("%w: hash", ErrMalformedHash)
	}
	return p, salt, hash, nil
}
