package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
)

// computeIdempotencyKey generates a deterministic hash identifying one
// committed checkpoint of a thread.
//
// The key is computed from:
//  1. Thread ID.
//  2. Cumulative step number (8-byte big-endian).
//  3. The node the checkpoint resumes at (next node or suspended node).
//  4. The JSON encoding of the committed state.
//
// Identical commits therefore produce identical keys, which lets callers
// detect a duplicate write after a crash between store calls.
//
// Returns error if state JSON marshaling fails.
func computeIdempotencyKey[S any](threadID string, step int, node string, state S) (string, error) {
	h := sha256.New()

	h.Write([]byte(threadID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(step))
	h.Write(stepBytes)

	h.Write([]byte(node))

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
