package model

import "time"

// CopyStatus is the lifecycle state of a physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyReserved  CopyStatus = "RESERVED"
	CopyLoaned    CopyStatus = "LOANED"
	CopyWithdrawn CopyStatus = "WITHDRAWN"
)

// Copy represents one physical copy of a book. Copies are never deleted;
// retired copies are marked Withdrawn and stop being allocation targets.
type Copy struct {
	ID        int64      `gorm:"primaryKey"`
	BookID    int64      `gorm:"index;not null"`
	Barcode   string     `gorm:"uniqueIndex;size:64;not null"`
	Seq       int        `gorm:"not null"`
	Status    CopyStatus `gorm:"size:16;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Book Book `gorm:"constraint:OnDelete:CASCADE"`
}
