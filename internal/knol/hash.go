// Package knol derives stable identities for imported cards from their content.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conorfennell/dailyreview/internal/domain"
)

// Namespace is the UUIDv5 namespace for imported card IDs.
var Namespace = uuid.MustParse("6f1c2d9e-3b7a-5c41-9e2f-8a0d4b6c7e13")

// Normalize concatenates the draft's front and context after cleaning each
// part. It trims whitespace, lowercases, and normalizes line endings.
func Normalize(d domain.Draft) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	ctx := ""
	if d.Context != nil {
		ctx = *d.Context
	}
	// The newline keeps "ab" + "c" distinct from "a" + "bc".
	return strings.Join([]string{normalizePart(d.Front), normalizePart(ctx)}, "\n")
}

// Hash returns the SHA-256 of the normalized draft as a hex string.
func Hash(d domain.Draft) string {
	hashBytes := sha256.Sum256([]byte(Normalize(d)))
	return fmt.Sprintf("%x", hashBytes)
}

// ID is the deterministic card ID for a draft imported by owner. Tags and
// source are not part of the identity, so retagging a note does not create a
// new card.
func ID(owner string, d domain.Draft) string {
	return uuid.NewSHA1(Namespace, []byte(owner+"\n"+Hash(d))).String()
}
