package checkpoint

import (
	"go.uber.org/zap"

	"batchupload/internal/transfer"
)

var _ transfer.Observer = (*Journal)(nil)

// Journal records engine events for one destination in a Store. Write
// failures are logged and never fail the transfer.
type Journal struct {
	store       Store
	destination string
	logger      *zap.Logger
}

// NewJournal creates a journal observer
func NewJournal(store Store, destination string, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		store:       store,
		destination: destination,
		logger:      logger,
	}
}

// Destination returns the destination the journal records for
func (j *Journal) Destination() string {
	return j.destination
}

// OnItemStart implements transfer.Observer
func (j *Journal) OnItemStart(batchID, name string) {
	j.save(&ItemRecord{
		Destination: j.destination,
		Name:        name,
		BatchID:     batchID,
		Status:      StatusInProgress,
	})
}

// OnRetry implements transfer.Observer
func (j *Journal) OnRetry(batchID string, event transfer.RetryEvent) {
	record := &ItemRecord{
		Destination: j.destination,
		Name:        event.Name,
		BatchID:     batchID,
		Status:      StatusInProgress,
		Attempts:    event.Attempt,
	}
	if event.Err != nil {
		record.LastError = event.Err.Error()
	}
	j.save(record)
}

// OnOutcome implements transfer.Observer
func (j *Journal) OnOutcome(batchID string, outcome transfer.Outcome) {
	record := &ItemRecord{
		Destination: j.destination,
		Name:        outcome.Name,
		BatchID:     batchID,
		Size:        outcome.Size,
		Status:      statusOf(outcome.Status),
		Attempts:    outcome.Attempts,
	}
	if outcome.Err != nil {
		record.LastError = outcome.Err.Error()
	}
	j.save(record)
}

// SucceededNames returns the names already completed at the destination
func (j *Journal) SucceededNames() (map[string]struct{}, error) {
	return j.store.SucceededNames(j.destination)
}

func (j *Journal) save(record *ItemRecord) {
	if err := j.store.SaveItem(record); err != nil {
		j.logger.Warn("Failed to journal item",
			zap.String("name", record.Name),
			zap.String("status", string(record.Status)),
			zap.Error(err),
		)
	}
}

func statusOf(s transfer.Status) ItemStatus {
	switch s {
	case transfer.StatusSuccess:
		return StatusCompleted
	case transfer.StatusFailed:
		return StatusFailed
	default:
		return StatusCancelled
	}
}
