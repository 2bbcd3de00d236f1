package watchlist

import "time"

// WatchlistItem is one tracked symbol on a user's charting watchlist.
type WatchlistItem struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"type:uuid;not null;index:idx_watchlist_user_symbol,unique,priority:1"`
	Symbol    string `gorm:"type:varchar(20);not null;index:idx_watchlist_user_symbol,unique,priority:2"`
	Note      string
	SortIndex int `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
