package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/napsa-zm/erm-platform/internal/config"
)

func newTestLedger(t *testing.T, blockSize int) *Ledger {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	enc, err := NewEncryptor("test-secret")
	require.NoError(t, err)

	l, err := NewLedger(db, config.AuditConfig{
		Difficulty:    2, // keep mining fast in tests
		BlockSize:     blockSize,
		FlushInterval: time.Hour,
	}, enc, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func record(t *testing.T, l *Ledger, eventType, entityID string) string {
	t.Helper()
	hash, err := l.Record(context.Background(), Event{
		EventType:  eventType,
		EntityType: "risk",
		EntityID:   entityID,
		Actor:      "tester",
		Data:       map[string]any{"field": entityID},
	})
	require.NoError(t, err)
	return hash
}

func TestGenesisBlockCreated(t *testing.T) {
	l := newTestLedger(t, 10)

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalBlocks)
	assert.EqualValues(t, 1, stats.TotalEntries)
	assert.True(t, strings.HasPrefix(stats.LastBlockHash, "00"))
}

func TestBlockMinedWhenBatchFull(t *testing.T) {
	l := newTestLedger(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record(t, l, "risk_updated", fmt.Sprintf("RISK-2026-%04d", i+1))
	}

	require.Eventually(t, func() bool {
		stats, err := l.Stats(ctx)
		return err == nil && stats.TotalBlocks == 2
	}, 5*time.Second, 20*time.Millisecond)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalEntries)
	assert.Equal(t, 0, stats.PendingCount)
}

func TestFlushMinesPartialBatch(t *testing.T) {
	l := newTestLedger(t, 100)
	ctx := context.Background()

	record(t, l, "risk_created", "RISK-2026-0001")
	// let the writer pick the entry up before forcing the flush
	require.Eventually(t, func() bool {
		stats, _ := l.Stats(ctx)
		return stats != nil && stats.PendingCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	l.Flush()

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalBlocks)
}

func TestStateHashChainsPerEntity(t *testing.T) {
	l := newTestLedger(t, 2)
	ctx := context.Background()

	record(t, l, "risk_created", "RISK-2026-0001")
	record(t, l, "risk_updated", "RISK-2026-0001")

	require.Eventually(t, func() bool {
		entries, err := l.Trail(ctx, TrailFilter{EntityID: "RISK-2026-0001"})
		return err == nil && len(entries) == 2
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := l.Trail(ctx, TrailFilter{EntityID: "RISK-2026-0001"})
	require.NoError(t, err)
	// newest first: the update's previous state is the create's new state
	assert.Equal(t, entries[1].NewStateHash, entries[0].PreviousStateHash)
	assert.Empty(t, entries[1].PreviousStateHash)
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	l := newTestLedger(t, 2)
	ctx := context.Background()

	record(t, l, "risk_created", "RISK-2026-0001")
	record(t, l, "risk_updated", "RISK-2026-0001")
	require.Eventually(t, func() bool {
		stats, _ := l.Stats(ctx)
		return stats != nil && stats.TotalBlocks == 2
	}, 5*time.Second, 20*time.Millisecond)

	report, err := l.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)

	// tamper with a mined entry
	require.NoError(t, l.db.Model(&Entry{}).
		Where("event_type = ?", "risk_created").
		Update("data_hash", strings.Repeat("ab", 32)).Error)

	report, err = l.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func TestTrailFilters(t *testing.T) {
	l := newTestLedger(t, 2)
	ctx := context.Background()

	record(t, l, "risk_created", "RISK-2026-0001")
	record(t, l, "control_tested", "CTL-001")
	require.Eventually(t, func() bool {
		stats, _ := l.Stats(ctx)
		return stats != nil && stats.TotalBlocks == 2
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := l.Trail(ctx, TrailFilter{EventType: "control_tested"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CTL-001", entries[0].EntityID)

	// payloads round-trip through encryption
	event, err := l.OpenPayload(&entries[0])
	require.NoError(t, err)
	assert.Equal(t, "control_tested", event.EventType)
	assert.Equal(t, "tester", event.Actor)
}

func TestMerkleRootOddDuplication(t *testing.T) {
	a, b, c := hashHex("a"), hashHex("b"), hashHex("c")

	// odd level duplicates the last hash
	left := hashHex(a + b)
	right := hashHex(c + c)
	assert.Equal(t, hashHex(left+right), merkleRoot([]string{a, b, c}))

	// singleton is its own root
	assert.Equal(t, a, merkleRoot([]string{a}))
	assert.Equal(t, hashHex(""), merkleRoot(nil))
}

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("secret-one")
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte(`{"sensitive":"value"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sensitive")

	plain, err := enc.Open(sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sensitive":"value"}`, string(plain))

	// a different secret cannot open the payload
	other, err := NewEncryptor("secret-two")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)

	_, err = NewEncryptor("")
	assert.Error(t, err)
}
