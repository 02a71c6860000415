package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/upb/tenantguard/models"
)

// GenesisHash is the PrevHash of the first record of every chain
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalRecord fixes field order and encodings so the hash survives a database round trip
type canonicalRecord struct {
	ID         string          `json:"id"`
	ChainID    string          `json:"chain_id"`
	Sequence   int64           `json:"sequence"`
	PrevHash   string          `json:"prev_hash"`
	ActorID    string          `json:"actor_id"`
	TenantID   string          `json:"tenant_id"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Outcome    string          `json:"outcome"`
	Reason     string          `json:"reason"`
	Stage      string          `json:"stage"`
	Metadata   json.RawMessage `json:"metadata"`
	SourceIP   string          `json:"source_ip"`
	UserAgent  string          `json:"user_agent"`
	RequestID  string          `json:"request_id"`
	Timestamp  string          `json:"timestamp"`
}

func canonical(l *models.AuditLog) ([]byte, error) {
	rec := canonicalRecord{
		ID:         l.ID,
		ChainID:    l.ChainID,
		Sequence:   l.Sequence,
		PrevHash:   l.PrevHash,
		Action:     string(l.Action),
		TargetType: l.TargetType,
		TargetID:   l.TargetID,
		Outcome:    string(l.Outcome),
		Reason:     l.Reason,
		Stage:      l.Stage,
		SourceIP:   l.SourceIP,
		UserAgent:  l.UserAgent,
		RequestID:  l.RequestID,
		Timestamp:  l.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:   json.RawMessage("null"),
	}
	if l.ActorID != nil {
		rec.ActorID = l.ActorID.String()
	}
	if l.TenantID != nil {
		rec.TenantID = l.TenantID.String()
	}

	// JSONB reorders keys and drops whitespace; decoding then re-encoding sorts map keys
	if len(bytes.TrimSpace(l.Metadata)) > 0 {
		var v interface{}
		if err := json.Unmarshal(l.Metadata, &v); err != nil {
			return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
		}
		norm, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		rec.Metadata = norm
	}

	return json.Marshal(rec)
}

// ComputeHash returns sha256(prevHash || canonical(record)) in hex
func ComputeHash(prevHash string, l *models.AuditLog) (string, error) {
	body, err := canonical(l)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChainError describes the first broken link found by VerifyChain
type ChainError struct {
	Sequence int64
	ID       string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d (%s): %s", e.Sequence, e.ID, e.Reason)
}

// VerifyChain checks the records of one chain. Records may be passed in any order; they
// are verified in sequence order. A chain that starts past sequence 1 is verified from
// its first record's PrevHash, so a retention window can be checked on its own.
func VerifyChain(records []*models.AuditLog) error {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]*models.AuditLog, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	chainID := sorted[0].ChainID
	prev := sorted[0].PrevHash
	if sorted[0].Sequence == 1 && prev != GenesisHash {
		return &ChainError{Sequence: 1, ID: sorted[0].ID, Reason: "first record does not start from genesis"}
	}

	for i, rec := range sorted {
		if rec.ChainID != chainID {
			return &ChainError{Sequence: rec.Sequence, ID: rec.ID, Reason: "record belongs to another chain"}
		}
		if i > 0 && rec.Sequence != sorted[i-1].Sequence+1 {
			return &ChainError{Sequence: rec.Sequence, ID: rec.ID, Reason: fmt.Sprintf("missing sequence %d", sorted[i-1].Sequence+1)}
		}
		if rec.PrevHash != prev {
			return &ChainError{Sequence: rec.Sequence, ID: rec.ID, Reason: "prev_hash does not match predecessor"}
		}
		want, err := ComputeHash(rec.PrevHash, rec)
		if err != nil {
			return &ChainError{Sequence: rec.Sequence, ID: rec.ID, Reason: err.Error()}
		}
		if rec.Hash != want {
			return &ChainError{Sequence: rec.Sequence, ID: rec.ID, Reason: "content hash mismatch"}
		}
		prev = rec.Hash
	}
	return nil
}
