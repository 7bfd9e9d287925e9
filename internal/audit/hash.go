package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// hashJSON hashes the canonical JSON encoding of v. encoding/json writes
// map keys in sorted order, which keeps the digest deterministic.
func hashJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(err.Error())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// hashHex hashes a raw string (used when combining merkle siblings).
func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// entryHash is the canonical transaction hash of a ledger entry.
func entryHash(e *Entry) string {
	return hashJSON(map[string]any{
		"event_type":     e.EventType,
		"entity_type":    e.EntityType,
		"entity_id":      e.EntityID,
		"occurred_at":    e.OccurredAtUnix,
		"data_hash":      e.DataHash,
		"new_state_hash": e.NewStateHash,
	})
}

// merkleRoot folds entry hashes pairwise, duplicating the last hash at odd
// levels.
func merkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return hashHex("")
	}
	level := append([]string(nil), hashes...)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashHex(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0]
}

// blockHash computes a block's proof-of-work hash over its header and the
// entry hashes it commits to.
func blockHash(index int, minedAtUnix int64, txHashes []string, previousHash, root string, nonce int64) string {
	return hashJSON(map[string]any{
		"index":         index,
		"timestamp":     minedAtUnix,
		"transactions":  txHashes,
		"previous_hash": previousHash,
		"merkle_root":   root,
		"nonce":         nonce,
	})
}

// hasDifficulty reports whether hash carries the required leading zeros.
func hasDifficulty(hash string, difficulty int) bool {
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}
