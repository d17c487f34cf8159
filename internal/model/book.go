package model

import "time"

// Book represents one catalog title. Catalog metadata lives in an external
// system; only what the scheduler needs (a title owning physical copies) is
// modeled here.
type Book struct {
	ID        int64  `gorm:"primaryKey"`
	Title     string `gorm:"size:256;not null"`
	Section   string `gorm:"size:32;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Copies []Copy `gorm:"foreignKey:BookID"`
}
