package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const (
	apiKeyPrefix      = "fk_live_"
	apiKeySecretBytes = 32
)

// generateAPIKey returns the raw key shown once and the digest that is stored.
func generateAPIKey() (plain, digest string, err error) {
	buf := make([]byte, apiKeySecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	plain = apiKeyPrefix + hex.EncodeToString(buf)
	return plain, hashKey(plain), nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
