package vault

import (
	"encoding/base64"
	"fmt"
	"time"
)

// storagePathFor derives the deterministic ciphertext location:
// <tenant>/<yyyy>/<mm>/<hash prefix>/<hash>.bin
func storagePathFor(tenantID string, at time.Time, contentHash string) string {
	return fmt.Sprintf("%s/%04d/%02d/%s/%s.bin",
		tenantID, at.Year(), int(at.Month()), contentHash[:2], contentHash)
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range incoming {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
