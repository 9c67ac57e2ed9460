package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher wraps adaptive one-way password hashing with a tunable work factor.
type Hasher struct {
	cost int
}

// NewHasher constructs a Hasher. Costs outside bcrypt's supported range fall
// back to the library default so verification stays tractable under load.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash derives a salted hash from the plaintext. The salt and cost are
// embedded in the output string.
func (h *Hasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. A mismatch is
// (false, nil); a non-nil error means the stored hash itself is malformed,
// which is an integrity fault rather than a credential failure.
func (h *Hasher) Verify(plaintext, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("auth: stored hash unreadable: %w", err)
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}
