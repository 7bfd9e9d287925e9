package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/napsa-zm/erm-platform/internal/config"
	"github.com/napsa-zm/erm-platform/pkg/metrics"
)

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is what callers record on the ledger.
type Event struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// TrailFilter narrows Trail queries.
type TrailFilter struct {
	EntityType string
	EntityID   string
	EventType  string
	From       time.Time
	To         time.Time
	Limit      int
}

// VerifyReport is the result of a full-chain verification.
type VerifyReport struct {
	Valid       bool     `json:"valid"`
	TotalBlocks int      `json:"total_blocks"`
	Errors      []string `json:"errors"`
}

// LedgerStats summarises the chain.
type LedgerStats struct {
	TotalBlocks   int64  `json:"total_blocks"`
	TotalEntries  int64  `json:"total_entries"`
	PendingCount  int    `json:"pending_count"`
	LastBlockHash string `json:"last_block_hash"`
	Difficulty    int    `json:"difficulty"`
	BlockSize     int    `json:"block_size"`
}

// Ledger is the proof-of-work audit chain. Entries are queued to a single
// writer goroutine that batches them into blocks of blockSize, or on the
// flush interval, whichever comes first.
type Ledger struct {
	db         *gorm.DB
	enc        *Encryptor
	logger     *zap.Logger
	difficulty int
	blockSize  int
	flushEvery time.Duration

	mu          sync.Mutex
	pending     []*Entry
	lastIndex   int
	lastHash    string
	stateHashes map[string]string // entityType:entityID -> latest state hash

	entries chan *Entry
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewLedger opens the chain on db, creating the genesis block on first run,
// and starts the writer goroutine. enc may be nil for plaintext payloads.
func NewLedger(db *gorm.DB, cfg config.AuditConfig, enc *Encryptor, logger *zap.Logger) (*Ledger, error) {
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}

	l := &Ledger{
		db:          db,
		enc:         enc,
		logger:      logger,
		difficulty:  cfg.Difficulty,
		blockSize:   cfg.BlockSize,
		flushEvery:  cfg.FlushInterval,
		stateHashes: make(map[string]string),
		entries:     make(chan *Entry, 1024),
		done:        make(chan struct{}),
	}
	if l.difficulty <= 0 {
		l.difficulty = 4
	}
	if l.blockSize <= 0 {
		l.blockSize = 10
	}
	if l.flushEvery <= 0 {
		l.flushEvery = 30 * time.Second
	}

	if err := l.loadChainHead(); err != nil {
		return nil, err
	}

	l.wg.Add(1)
	go l.writer()
	return l, nil
}

func (l *Ledger) loadChainHead() error {
	var head Block
	err := l.db.Order("`index` DESC").First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return l.createGenesis()
	}
	if err != nil {
		return fmt.Errorf("failed to load chain head: %w", err)
	}
	l.lastIndex = head.Index
	l.lastHash = head.Hash
	l.logger.Info("audit ledger loaded",
		zap.Int("head_index", head.Index), zap.String("head_hash", head.Hash))
	return nil
}

func (l *Ledger) createGenesis() error {
	now := time.Now().UTC()
	entry := l.buildEntry(&Event{
		EventType:  "genesis",
		EntityType: "system",
		EntityID:   "genesis",
		OccurredAt: now,
		Data:       map[string]any{"message": "audit ledger initialised"},
	})
	if err := l.mine([]*Entry{entry}, 0, genesisHash); err != nil {
		return fmt.Errorf("failed to mine genesis block: %w", err)
	}
	l.logger.Info("genesis block created", zap.String("hash", l.lastHash))
	return nil
}

// Record computes the entry's hashes synchronously, returns its transaction
// hash, and hands the entry to the writer. The ledger write itself is
// asynchronous.
func (l *Ledger) Record(ctx context.Context, event Event) (string, error) {
	if event.EventType == "" {
		return "", errors.New("event_type is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	entry := l.buildEntry(&event)

	select {
	case l.entries <- entry:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", errors.New("ledger is closed")
	}

	metrics.LedgerEntriesRecorded.WithLabelValues(event.EventType).Inc()
	return entry.TxHash, nil
}

// buildEntry derives the data hash and chains the per-entity state hash.
func (l *Ledger) buildEntry(event *Event) *Entry {
	dataHash := hashJSON(event.Data)

	l.mu.Lock()
	prevState := l.lastStateHashLocked(event.EntityType, event.EntityID)
	newState := hashJSON(map[string]any{
		"data":      event.Data,
		"previous":  prevState,
		"timestamp": event.OccurredAt.UnixNano(),
	})
	l.stateHashes[event.EntityType+":"+event.EntityID] = newState
	l.mu.Unlock()

	entry := &Entry{
		EventType:         event.EventType,
		EntityType:        event.EntityType,
		EntityID:          event.EntityID,
		Actor:             event.Actor,
		DataHash:          dataHash,
		PreviousStateHash: prevState,
		NewStateHash:      newState,
		OccurredAtUnix:    event.OccurredAt.UnixNano(),
	}
	entry.TxHash = entryHash(entry)

	payload, err := json.Marshal(event)
	if err == nil {
		if l.enc != nil {
			if sealed, err := l.enc.Seal(payload); err == nil {
				entry.Payload = sealed
			}
		} else {
			entry.Payload = string(payload)
		}
	}
	return entry
}

// lastStateHashLocked checks the in-memory map first, then the database.
func (l *Ledger) lastStateHashLocked(entityType, entityID string) string {
	key := entityType + ":" + entityID
	if h, ok := l.stateHashes[key]; ok {
		return h
	}
	var last Entry
	err := l.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("occurred_at_unix DESC").First(&last).Error
	if err != nil {
		return ""
	}
	return last.NewStateHash
}

func (l *Ledger) writer() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.entries:
			l.mu.Lock()
			l.pending = append(l.pending, entry)
			full := len(l.pending) >= l.blockSize
			l.mu.Unlock()
			if full {
				l.flushPending()
			}
		case <-ticker.C:
			l.flushPending()
		case <-l.done:
			// drain whatever is queued, then mine the remainder
			for {
				select {
				case entry := <-l.entries:
					l.mu.Lock()
					l.pending = append(l.pending, entry)
					l.mu.Unlock()
				default:
					l.flushPending()
					return
				}
			}
		}
	}
}

// Flush forces the pending entries into a block.
func (l *Ledger) Flush() {
	l.flushPending()
}

func (l *Ledger) flushPending() {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.pending
	l.pending = nil
	index := l.lastIndex + 1
	prevHash := l.lastHash
	l.mu.Unlock()

	if err := l.mine(batch, index, prevHash); err != nil {
		l.logger.Error("failed to mine block", zap.Error(err))
		// put the batch back so the entries are not lost
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
	}
}

// mine performs the proof of work and persists the block and its entries in
// one transaction.
func (l *Ledger) mine(batch []*Entry, index int, prevHash string) error {
	minedAt := time.Now().UTC().UnixNano()
	txHashes := make([]string, len(batch))
	for i, e := range batch {
		txHashes[i] = e.TxHash
	}
	root := merkleRoot(txHashes)

	var nonce int64
	var hash string
	for {
		hash = blockHash(index, minedAt, txHashes, prevHash, root, nonce)
		if hasDifficulty(hash, l.difficulty) {
			break
		}
		nonce++
	}

	block := &Block{
		Index:        index,
		Hash:         hash,
		PreviousHash: prevHash,
		MerkleRoot:   root,
		Nonce:        nonce,
		Difficulty:   l.difficulty,
		TxCount:      len(batch),
		MinedAtUnix:  minedAt,
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(block).Error; err != nil {
			return err
		}
		for _, e := range batch {
			e.BlockHash = hash
			if err := tx.Create(e).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist block %d: %w", index, err)
	}

	l.mu.Lock()
	l.lastIndex = index
	l.lastHash = hash
	l.mu.Unlock()

	metrics.LedgerBlocksMined.Inc()
	l.logger.Info("block mined",
		zap.Int("index", index),
		zap.String("hash", hash),
		zap.Int64("nonce", nonce),
		zap.Int("entries", len(batch)))
	return nil
}

// VerifyIntegrity recomputes every block hash, previous-hash link and
// merkle root from the persisted entries.
func (l *Ledger) VerifyIntegrity(ctx context.Context) (*VerifyReport, error) {
	var blocks []Block
	if err := l.db.WithContext(ctx).Order("`index`").Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}

	report := &VerifyReport{Valid: true, TotalBlocks: len(blocks), Errors: []string{}}
	for i, b := range blocks {
		var entries []Entry
		if err := l.db.WithContext(ctx).Where("block_hash = ?", b.Hash).
			Order("id").Find(&entries).Error; err != nil {
			return nil, fmt.Errorf("failed to load entries for block %d: %w", b.Index, err)
		}

		txHashes := make([]string, len(entries))
		for j := range entries {
			txHashes[j] = entries[j].TxHash
			if recomputed := entryHash(&entries[j]); recomputed != entries[j].TxHash {
				report.Valid = false
				report.Errors = append(report.Errors,
					fmt.Sprintf("block %d: entry %s hash mismatch", b.Index, entries[j].TxHash))
			}
		}

		if root := merkleRoot(txHashes); root != b.MerkleRoot {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("block %d: invalid merkle root", b.Index))
		}
		if recomputed := blockHash(b.Index, b.MinedAtUnix, txHashes, b.PreviousHash, b.MerkleRoot, b.Nonce); recomputed != b.Hash {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("block %d: invalid hash", b.Index))
		}
		if !hasDifficulty(b.Hash, b.Difficulty) {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("block %d: difficulty not met", b.Index))
		}
		if i > 0 && b.PreviousHash != blocks[i-1].Hash {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("block %d: broken previous-hash link", b.Index))
		}
	}
	return report, nil
}

// Trail returns mined entries matching the filter, newest first.
func (l *Ledger) Trail(ctx context.Context, f TrailFilter) ([]Entry, error) {
	q := l.db.WithContext(ctx).Model(&Entry{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if !f.From.IsZero() {
		q = q.Where("occurred_at_unix >= ?", f.From.UnixNano())
	}
	if !f.To.IsZero() {
		q = q.Where("occurred_at_unix <= ?", f.To.UnixNano())
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []Entry
	if err := q.Order("occurred_at_unix DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	return out, nil
}

// OpenPayload decrypts an entry's sealed payload back into the event.
func (l *Ledger) OpenPayload(entry *Entry) (*Event, error) {
	raw := []byte(entry.Payload)
	if l.enc != nil {
		plain, err := l.enc.Open(entry.Payload)
		if err != nil {
			return nil, err
		}
		raw = plain
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &event, nil
}

// Stats summarises the chain.
func (l *Ledger) Stats(ctx context.Context) (*LedgerStats, error) {
	var stats LedgerStats
	if err := l.db.WithContext(ctx).Model(&Block{}).Count(&stats.TotalBlocks).Error; err != nil {
		return nil, fmt.Errorf("failed to count blocks: %w", err)
	}
	if err := l.db.WithContext(ctx).Model(&Entry{}).Count(&stats.TotalEntries).Error; err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	l.mu.Lock()
	stats.PendingCount = len(l.pending)
	stats.LastBlockHash = l.lastHash
	l.mu.Unlock()
	stats.Difficulty = l.difficulty
	stats.BlockSize = l.blockSize
	return &stats, nil
}

// Close stops the writer, mining any pending entries first.
func (l *Ledger) Close() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}
