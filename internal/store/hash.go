package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// ComputeOptionsHash computes a deterministic hash of the pass options that
// affect output. Custom options are hashed in key order.
func ComputeOptionsHash(policy, precedence string, validate bool, custom map[string]string) string {
	h := sha256.New()

	fmt.Fprintf(h, "policy:%s\n", policy)
	fmt.Fprintf(h, "precedence:%s\n", precedence)
	fmt.Fprintf(h, "validate:%v\n", validate)

	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "opt:%s=%s\n", k, custom[k])
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
