package feed

import "time"

// Post is a feed entry in a territory. Hidden posts stay stored but are
// excluded from listings; only moderation flips visibility.
type Post struct {
	ID          int64
	TerritoryID int64
	AuthorID    int64
	Body        string
	Hidden      bool
	CreatedAt   time.Time
}
