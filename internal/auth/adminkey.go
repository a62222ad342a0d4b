package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// AdminKeyChecker compares X-Admin-Key values against a bcrypt hash. With no
// hash configured it rejects every key.
type AdminKeyChecker struct {
	hash []byte
}

func NewAdminKeyChecker(hash string) *AdminKeyChecker {
	return &AdminKeyChecker{hash: []byte(hash)}
}

func (c *AdminKeyChecker) VerifyAdminKey(key string) bool {
	if len(c.hash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.hash, []byte(key)) == nil
}

// HashAdminKey produces the value to store in ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	if len(key) < 16 {
		return "", errors.New("admin key must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
