package model

import "time"

// ChangeEvent only says that something changed; consumers refetch.
type ChangeEvent struct {
	Table    ChangeTable `json:"table"`
	Op       ChangeOp    `json:"op"`
	ID       string      `json:"id,omitempty"`
	FamilyID string      `json:"familyId"`
	At       time.Time   `json:"at"`
}
