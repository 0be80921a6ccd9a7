package assets

import "time"

// AssetStatus is the curation lifecycle of a suggested asset.
type AssetStatus string

const (
	AssetSuggested AssetStatus = "SUGGESTED"
	AssetApproved  AssetStatus = "APPROVED"
	AssetRejected  AssetStatus = "REJECTED"
)

// Asset is a place or resource suggested for a territory's map. It
// stays SUGGESTED until a curator decides the curation work item.
type Asset struct {
	ID            int64
	TerritoryID   int64
	Name          string
	Description   string
	SuggestedBy   int64
	Status        AssetStatus
	CuratedBy     *int64
	CuratedAt     *time.Time
	CurationNotes *string
	CreatedAt     time.Time
}

// Pending reports whether the asset still awaits curation.
func (a Asset) Pending() bool {
	return a.Status == AssetSuggested
}
