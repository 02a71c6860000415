package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tenantguard/models"
)

func buildChain(t *testing.T, n int) []*models.AuditLog {
	t.Helper()
	chainID := ulid.Make().String()
	prev := GenesisHash
	ts := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	var out []*models.AuditLog
	for i := 1; i <= n; i++ {
		rec := models.NewAuditLog(models.AuditActionAccessDenied, models.OutcomeDenied, "insufficient_role").
			WithActor(uuid.New()).
			WithTenant(uuid.New()).
			WithTarget("billing_settings", uuid.NewString()).
			WithStage("authorize").
			WithMetadata(map[string]interface{}{"method": "PUT", "attempt": i})
		rec.ID = ulid.Make().String()
		rec.ChainID = chainID
		rec.Sequence = int64(i)
		rec.PrevHash = prev
		rec.Timestamp = ts.Add(time.Duration(i) * time.Microsecond)

		hash, err := ComputeHash(prev, rec)
		require.NoError(t, err)
		rec.Hash = hash
		prev = hash
		out = append(out, rec)
	}
	return out
}

func TestComputeHash_Deterministic(t *testing.T) {
	chain := buildChain(t, 1)
	a, err := ComputeHash(GenesisHash, chain[0])
	require.NoError(t, err)
	b, err := ComputeHash(GenesisHash, chain[0])
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other, err := ComputeHash(a, chain[0])
	require.NoError(t, err)
	assert.NotEqual(t, a, other, "predecessor is part of the hash")
}

func TestComputeHash_SurvivesDatabaseRoundTrip(t *testing.T) {
	rec := buildChain(t, 1)[0]
	want := rec.Hash

	// JSONB rewrites key order and whitespace; timestamptz comes back in the session zone
	rec.Metadata = json.RawMessage(`{ "method" : "PUT",   "attempt":1 }`)
	rec.Timestamp = rec.Timestamp.In(time.FixedZone("COT", -5*3600))

	got, err := ComputeHash(rec.PrevHash, rec)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestComputeHash_InvalidMetadata(t *testing.T) {
	rec := buildChain(t, 1)[0]
	rec.Metadata = json.RawMessage(`{not json`)
	_, err := ComputeHash(GenesisHash, rec)
	assert.Error(t, err)
}

func TestVerifyChain(t *testing.T) {
	t.Run("valid chain", func(t *testing.T) {
		assert.NoError(t, VerifyChain(buildChain(t, 5)))
	})

	t.Run("empty chain", func(t *testing.T) {
		assert.NoError(t, VerifyChain(nil))
	})

	t.Run("any input order", func(t *testing.T) {
		chain := buildChain(t, 4)
		shuffled := []*models.AuditLog{chain[2], chain[0], chain[3], chain[1]}
		assert.NoError(t, VerifyChain(shuffled))
	})

	t.Run("retention window suffix", func(t *testing.T) {
		chain := buildChain(t, 6)
		assert.NoError(t, VerifyChain(chain[3:]))
	})

	tests := []struct {
		name    string
		mutate  func(chain []*models.AuditLog) []*models.AuditLog
		wantSeq int64
		reason  string
	}{
		{
			name: "edited content",
			mutate: func(chain []*models.AuditLog) []*models.AuditLog {
				chain[2].Outcome = models.OutcomeAllowed
				return chain
			},
			wantSeq: 3,
			reason:  "content hash mismatch",
		},
		{
			name: "deleted record",
			mutate: func(chain []*models.AuditLog) []*models.AuditLog {
				return append(chain[:1], chain[2:]...)
			},
			wantSeq: 3,
			reason:  "missing sequence 2",
		},
		{
			name: "relinked record",
			mutate: func(chain []*models.AuditLog) []*models.AuditLog {
				chain[3].PrevHash = chain[1].Hash
				return chain
			},
			wantSeq: 4,
			reason:  "prev_hash does not match predecessor",
		},
		{
			name: "forged genesis",
			mutate: func(chain []*models.AuditLog) []*models.AuditLog {
				chain[0].PrevHash = chain[0].Hash
				return chain
			},
			wantSeq: 1,
			reason:  "first record does not start from genesis",
		},
		{
			name: "foreign record",
			mutate: func(chain []*models.AuditLog) []*models.AuditLog {
				chain[4].ChainID = ulid.Make().String()
				return chain
			},
			wantSeq: 5,
			reason:  "record belongs to another chain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyChain(tt.mutate(buildChain(t, 5)))
			var chainErr *ChainError
			require.ErrorAs(t, err, &chainErr)
			assert.Equal(t, tt.wantSeq, chainErr.Sequence)
			assert.Equal(t, tt.reason, chainErr.Reason)
		})
	}
}
