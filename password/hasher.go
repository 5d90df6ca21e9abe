package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	schemeArgon2id = "argon2id"
)

// ErrMalformedHash is returned when a stored hash matches neither the Argon2id PHC
// layout nor a bcrypt prefix.
var ErrMalformedHash = errors.New("malformed password hash")

// Config holds the Argon2id cost parameters new hashes are produced with. Memory is
// in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes new passwords with Argon2id and checks candidates against either
// Argon2id or legacy bcrypt hashes. It holds no mutable state.
type Argon2 struct {
	config Config
}

// storedHash is a decoded password hash of any supported scheme.
type storedHash interface {
	matches(password []byte) (bool, error)
	// weakerThan reports whether the hash should be replaced under cfg.
	weakerThan(cfg Config) bool
}

type argon2idHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h argon2idHash) matches(password []byte) (bool, error) {
	computed := argon2.IDKey(password, h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(computed, h.key) == 1, nil
}

func (h argon2idHash) weakerThan(cfg Config) bool {
	return cfg.Memory > h.memory ||
		cfg.Time > h.time ||
		cfg.Parallelism > h.parallelism ||
		cfg.KeyLength != uint32(len(h.key))
}

// bcryptHash is left over from deployments that predate Argon2id. It always counts
// as weaker than the configured parameters.
type bcryptHash []byte

func (h bcryptHash) matches(password []byte) (bool, error) {
	err := bcrypt.CompareHashAndPassword(h, password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

func (bcryptHash) weakerThan(Config) bool { return true }

func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return &Argon2{config: cfg}, nil
}

// Hash returns a PHC-encoded Argon2id hash of password. The bytes are hashed exactly
// as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	var b strings.Builder
	b.WriteString("$" + schemeArgon2id)
	b.WriteString("$v=" + strconv.Itoa(argon2.Version))
	fmt.Fprintf(&b, "$m=%d,t=%d,p=%d", a.config.Memory, a.config.Time, a.config.Parallelism)
	b.WriteString("$" + base64.RawStdEncoding.EncodeToString(salt))
	b.WriteString("$" + base64.RawStdEncoding.EncodeToString(key))
	return b.String(), nil
}

// Check compares password with encodedHash. needsRehash is only meaningful when ok is
// true: it is set for bcrypt hashes and for Argon2id hashes produced with weaker
// parameters than the current Config.
func (a *Argon2) Check(password, encodedHash string) (ok bool, needsRehash bool, err error) {
	h, err := decodeHash(encodedHash)
	if err != nil {
		return false, false, err
	}
	ok, err = h.matches([]byte(password))
	if err != nil || !ok {
		return false, false, err
	}
	return true, h.weakerThan(a.config), nil
}

// Verify is Check without the rehash decision.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	ok, _, err := a.Check(password, encodedHash)
	return ok, err
}

// IsLegacy reports whether encodedHash is a bcrypt hash.
func IsLegacy(encodedHash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encodedHash, prefix) {
			return true
		}
	}
	return false
}

func decodeHash(encoded string) (storedHash, error) {
	if IsLegacy(encoded) {
		return bcryptHash(encoded), nil
	}

	// $argon2id$v=19$m=..,t=..,p=..$salt$key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return nil, fmt.Errorf("%w: expected 5 PHC fields", ErrMalformedHash)
	}
	if fields[1] != schemeArgon2id {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedHash, fields[1])
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	h, err := decodeArgonParams(fields[3])
	if err != nil {
		return nil, err
	}
	if h.salt, err = decodeB64(fields[4]); err != nil || uint32(len(h.salt)) < minSaltLength {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if h.key, err = decodeB64(fields[5]); err != nil || len(h.key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return h, nil
}

func decodeArgonParams(field string) (argon2idHash, error) {
	var (
		h    argon2idHash
		seen = map[string]bool{}
	)
	for _, pair := range strings.Split(field, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return h, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		seen[name] = true

		var bits int
		switch name {
		case "m", "t":
			bits = 32
		case "p":
			bits = 8
		default:
			return h, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return h, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}

		switch name {
		case "m":
			h.memory = uint32(v)
		case "t":
			h.time = uint32(v)
		case "p":
			h.parallelism = uint8(v)
		}
	}

	if len(seen) != 3 || h.memory < minMemoryKB || h.time < minTimeCost || h.parallelism < minParallelism {
		return h, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}
	return h, nil
}

// decodeB64 accepts padded and unpadded standard base64; older hashes were padded.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
