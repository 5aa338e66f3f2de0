// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package secrets produces random credentials. All randomness comes from
// crypto/rand.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Preset lengths.
const (
	JWTSecretLength  = 64
	APIKeyLength     = 32
	DBPasswordLength = 24
	DefaultLength    = 32
)

// Generator produces one secret value.
type Generator func() (string, error)

// Alphanumeric returns n characters drawn uniformly from [A-Za-z0-9].
func Alphanumeric(n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("invalid length %d", n)
	}
	max := big.NewInt(int64(len(alphanumeric)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b.WriteByte(alphanumeric[idx.Int64()])
	}
	return b.String(), nil
}

// Hex returns n random bytes, hex encoded (2n characters).
func Hex(n int) (string, error) {
	buf, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Base64 returns n random bytes, standard base64 encoded.
func Base64(n int) (string, error) {
	buf, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func JWTSecret() (string, error)  { return Alphanumeric(JWTSecretLength) }
func APIKey() (string, error)     { return Alphanumeric(APIKeyLength) }
func DBPassword() (string, error) { return Alphanumeric(DBPasswordLength) }

// UUID returns a random RFC 4122 version 4 UUID.
func UUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

func randomBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid length %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random source: %w", err)
	}
	return buf, nil
}

type suffixRule struct {
	suffix string
	gen    Generator
}

// Longer suffixes must precede shorter ones they end with.
var suffixRules = []suffixRule{
	{"_JWT_SECRET", JWTSecret},
	{"_SECRET_KEY", JWTSecret},
	{"_JWT", JWTSecret},
	{"_API_KEY", APIKey},
	{"_APIKEY", APIKey},
	{"_PASSWORD", DBPassword},
	{"_PASS", DBPassword},
	{"_PWD", DBPassword},
	{"_UUID", UUID},
	{"_TOKEN", func() (string, error) { return Hex(32) }},
}

// ForKey picks a generator for an environment variable name by suffix.
// Names that match no rule get a 32 character alphanumeric string.
func ForKey(key string) Generator {
	upper := strings.ToUpper(key)
	for _, rule := range suffixRules {
		if strings.HasSuffix(upper, rule.suffix) || upper == strings.TrimPrefix(rule.suffix, "_") {
			return rule.gen
		}
	}
	return func() (string, error) { return Alphanumeric(DefaultLength) }
}
