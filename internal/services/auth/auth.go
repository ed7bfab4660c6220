// Package auth stores hypervisor API tokens in the OS keychain.
package auth

import (
	"errors"
	"os"
	"strings"

	"nathanbeddoewebdev/vpsd/internal/util"
)

const ServiceName = "vpsd"

var ErrTokenNotFound = errors.New("auth token not found")

type Store interface {
	SetToken(provider string, token string) error
	GetToken(provider string) (string, error)
	DeleteToken(provider string) error
}

// DefaultStore returns the standard auth store backed by the OS keychain.
func DefaultStore() Store {
	return NewKeyringStore(ServiceName)
}

// NormalizeProvider normalizes a provider name for consistent key lookup.
func NormalizeProvider(provider string) string {
	return util.NormalizeKey(provider)
}

// EnvVar returns the environment variable consulted before the keychain,
// e.g. VPSD_HETZNER_TOKEN. Headless workers usually have no keychain.
func EnvVar(provider string) string {
	return "VPSD_" + strings.ToUpper(NormalizeProvider(provider)) + "_TOKEN"
}

// ResolveToken returns the token for provider from the environment if set,
// otherwise from store.
func ResolveToken(store Store, provider string) (string, error) {
	if token := strings.TrimSpace(os.Getenv(EnvVar(provider))); token != "" {
		return token, nil
	}
	if store == nil {
		return "", ErrTokenNotFound
	}
	return store.GetToken(provider)
}

// Token sources reported by Source.
const (
	SourceEnv     = "environment"
	SourceKeyring = "keychain"
)

// Source reports where ResolveToken would find provider's token. It returns
// ErrTokenNotFound when neither has one.
func Source(store Store, provider string) (string, error) {
	if strings.TrimSpace(os.Getenv(EnvVar(provider))) != "" {
		return SourceEnv, nil
	}
	if store == nil {
		return "", ErrTokenNotFound
	}
	if _, err := store.GetToken(provider); err != nil {
		return "", err
	}
	return SourceKeyring, nil
}
