package provenance

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// AuditChain is a per-match, append-only hash chain over tick payloads. It
// is a tamper-evidence aid surfaced by the verify(match_id) endpoint — it
// never gates settlement and plays no part in the commit/reveal protocol
// itself.
type AuditChain struct {
	prev string
}

// NewAuditChain starts a chain rooted at the match's commit hash.
func NewAuditChain(rootHash string) *AuditChain {
	return &AuditChain{prev: rootHash}
}

// Append folds the next tick's payload into the chain and returns the new
// head hash.
func (c *AuditChain) Append(tickPayload []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(c.prev))
	h.Write(tickPayload)
	sum := h.Sum(nil)
	c.prev = hex.EncodeToString(sum)
	return c.prev
}

// Head returns the current chain head without mutating it.
func (c *AuditChain) Head() string { return c.prev }
