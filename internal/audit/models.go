package audit

import "time"

// Block is a mined ledger block. Blocks are append only and live in the
// dedicated ledger database.
type Block struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Index        int       `gorm:"uniqueIndex;not null" json:"index"`
	Hash         string    `gorm:"uniqueIndex;size:64;not null" json:"hash"`
	PreviousHash string    `gorm:"size:64;not null" json:"previous_hash"`
	MerkleRoot   string    `gorm:"size:64;not null" json:"merkle_root"`
	Nonce        int64     `gorm:"not null" json:"nonce"`
	Difficulty   int       `gorm:"not null" json:"difficulty"`
	TxCount      int       `gorm:"not null" json:"tx_count"`
	MinedAtUnix  int64     `gorm:"not null" json:"mined_at_unix"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entry is one audit record inside a block. State hashes chain per entity
// so any historic mutation of an entity's audit trail is detectable.
type Entry struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TxHash            string    `gorm:"uniqueIndex;size:64;not null" json:"tx_hash"`
	BlockHash         string    `gorm:"index;size:64" json:"block_hash"`
	EventType         string    `gorm:"size:50;index;not null" json:"event_type"`
	EntityType        string    `gorm:"size:50;index" json:"entity_type"`
	EntityID          string    `gorm:"size:64;index" json:"entity_id"`
	Actor             string    `gorm:"size:100" json:"actor"`
	DataHash          string    `gorm:"size:64;not null" json:"data_hash"`
	PreviousStateHash string    `gorm:"size:64" json:"previous_state_hash"`
	NewStateHash      string    `gorm:"size:64;not null" json:"new_state_hash"`
	OccurredAtUnix    int64     `gorm:"index;not null" json:"occurred_at_unix"`
	Payload           string    `gorm:"type:text" json:"payload"` // AES-GCM sealed event JSON
	CreatedAt         time.Time `json:"created_at"`
}

// Models returns the ledger models, for migration.
func Models() []any {
	return []any{&Block{}, &Entry{}}
}
