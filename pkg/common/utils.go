package common

import (
	"math/rand"
	"strings"
	"time"
)

// GenerateReference produces a short alphanumeric reference for
// internally-originated records, e.g. the bill ref of a simulated
// payment.
func GenerateReference() string {
	const characters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	result := make([]byte, 10)
	for i := range result {
		result[i] = characters[r.Intn(len(characters))]
	}
	return string(result)
}

// JoinName concatenates the network's split name fields, skipping the
// empty ones.
func JoinName(parts ...string) string {
	var kept []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
