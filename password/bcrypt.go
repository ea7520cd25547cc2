package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt work factor used when Config.Cost is zero.
	DefaultCost = 10
	// MinCost is the lowest work factor accepted by NewBcrypt.
	MinCost = 10
	// MaxCost is the highest work factor accepted by NewBcrypt.
	MaxCost = 14
)

// ErrCorruptCredential reports a stored hash that cannot be parsed.
var ErrCorruptCredential = errors.New("corrupt credential hash")

// Config defines the bcrypt work factor.
type Config struct {
	Cost int
}

// Bcrypt hashes and verifies passwords with a salted adaptive-cost hash.
//
// Bcrypt instances are immutable after construction and safe for concurrent use.
type Bcrypt struct {
	config Config
}

// NewBcrypt validates cfg and returns a hasher.
func NewBcrypt(cfg Config) (*Bcrypt, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if cfg.Cost < MinCost || cfg.Cost > MaxCost {
		return nil, fmt.Errorf("password cost must be within [%d, %d]", MinCost, MaxCost)
	}
	return &Bcrypt{config: cfg}, nil
}

// Hash returns the encoded bcrypt hash of password.
//
// Password processing uses raw string bytes exactly as provided (no Unicode normalization).
func (b *Bcrypt) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.config.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches encodedHash.
//
// A mismatch is (false, nil). A hash that is not a bcrypt hash yields
// ErrCorruptCredential.
func (b *Bcrypt) Verify(password string, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}
}

// NeedsUpgrade reports whether encodedHash was produced with a lower cost than
// the configured one.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}
	return cost < b.config.Cost, nil
}
