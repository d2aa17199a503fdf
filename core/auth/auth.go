package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hlsgate/model"
	"hlsgate/repository"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a password with a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// EnsureAdmin creates username as an admin, or promotes it and resets its
// password when it already exists.
func EnsureAdmin(ctx context.Context, users repository.UserRepository, username, password string) (created bool, err error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, fmt.Errorf("admin username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	err = users.CreateUser(ctx, &model.User{Username: username, PasswordHash: hash, Role: model.RoleAdmin})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, repository.ErrDuplicateUser) {
		return false, err
	}
	if err := users.UpdateCredentials(ctx, username, hash, model.RoleAdmin); err != nil {
		return false, err
	}
	return false, nil
}
