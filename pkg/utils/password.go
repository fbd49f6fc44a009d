package utils

import (
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

var passwordCost atomic.Int32

func init() { passwordCost.Store(int32(bcrypt.DefaultCost)) }

// SetPasswordCost sets the bcrypt work factor for new hashes, clamped to the range bcrypt accepts.
// It returns the cost actually applied.
func SetPasswordCost(cost int) int {
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	passwordCost.Store(int32(cost))
	return cost
}

// PasswordCost reports the work factor used by HashPassword.
func PasswordCost() int { return int(passwordCost.Load()) }

// HashPassword hashes a plaintext password at the configured cost.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost())
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func ComparePasswords(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// PasswordNeedsRehash is true when a stored hash was made at a lower cost than the current one,
// or is not a bcrypt hash at all.
func PasswordNeedsRehash(hashedPassword string) bool {
	cost, err := bcrypt.Cost([]byte(hashedPassword))
	return err != nil || cost < PasswordCost()
}
