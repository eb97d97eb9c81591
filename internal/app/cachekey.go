package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	gateway "github.com/eugener/predictgw/internal"
)

// cacheKey returns "<capability>:<sha256 of payload JSON>". Struct fields
// marshal in declaration order and map keys sorted, so equal payloads give
// equal keys. A nil payload keys on the capability alone.
func cacheKey(capability string, payload any) string {
	if payload == nil {
		return capability
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Unhashable payloads are not cached.
		return ""
	}
	h := sha256.Sum256(data)
	return capability + ":" + hex.EncodeToString(h[:])
}

// normalizeAdvanced sorts the model list so its order does not split the cache.
func normalizeAdvanced(p gateway.AdvancedPayload) gateway.AdvancedPayload {
	p.Models = slices.Clone(p.Models)
	slices.Sort(p.Models)
	p.Models = slices.Compact(p.Models)
	return p
}
