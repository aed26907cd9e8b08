package types

import "time"

// SyncStatus describes the outcome of one sync invocation.
type SyncStatus string

const (
	SyncStatusUpToDate SyncStatus = "up_to_date"
	SyncStatusUpdated  SyncStatus = "updated"
	SyncStatusFailed   SyncStatus = "failed"
)

// FetchWindow describes the scope of one sync request. It is created per
// invocation and discarded after use.
type FetchWindow struct {
	Symbol   string
	Interval Interval
	Start    time.Time
	End      time.Time
}

// SyncReport summarizes one sync invocation for observability.
// RowsAdded counts rows that were not present before the sync; a refreshed
// revision of an already-stored bar does not count as added.
type SyncReport struct {
	Symbol       string     `json:"symbol"`
	Interval     Interval   `json:"interval"`
	Status       SyncStatus `json:"status"`
	ExistingRows int        `json:"existing_rows"`
	FetchedRows  int        `json:"fetched_rows"`
	RowsAdded    int        `json:"rows_added"`
	FinalRows    int        `json:"final_rows"`
	RangeStart   time.Time  `json:"range_start,omitzero"`
	RangeEnd     time.Time  `json:"range_end,omitzero"`
	Warning      string     `json:"warning,omitempty"`
	Error        string     `json:"error,omitempty"`
}
