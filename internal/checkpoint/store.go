package checkpoint

import (
	"time"
)

// ItemStatus represents the journaled state of one item
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
	StatusCancelled  ItemStatus = "cancelled"
)

// ItemRecord is the latest journaled state of an item at a destination
type ItemRecord struct {
	Destination string     `json:"destination"`
	Name        string     `json:"name"`
	BatchID     string     `json:"batch_id"`
	Size        int64      `json:"size"`
	Status      ItemStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store defines the interface for journal persistence
type Store interface {
	GetItem(destination, name string) (*ItemRecord, error)
	SaveItem(record *ItemRecord) error
	SucceededNames(destination string) (map[string]struct{}, error)
	ListFailedItems(destination string) ([]*ItemRecord, error)

	Close() error
}
