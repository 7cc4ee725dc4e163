package adapters

import (
	"context"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// IndexReputation reads the external rating attached to the freshest index
// record for a candidate.
type IndexReputation struct {
	index ports.SearchIndex
}

// NewIndexReputation creates a reputation source backed by the search index.
func NewIndexReputation(index ports.SearchIndex) *IndexReputation {
	return &IndexReputation{index: index}
}

// Lookup returns the external rating, or ports.ErrNotFound when none is recorded.
func (r *IndexReputation) Lookup(ctx context.Context, c ports.Candidate) (ports.Reputation, error) {
	fresh, err := r.index.Get(ctx, c.ID)
	if err != nil {
		return ports.Reputation{}, err
	}
	if fresh.ExternalRating <= 0 {
		return ports.Reputation{}, ports.ErrNotFound
	}
	return ports.Reputation{
		Rating:      fresh.ExternalRating,
		ReviewCount: fresh.ReviewCount,
		Sources:     1,
	}, nil
}

var _ ports.ReputationSource = (*IndexReputation)(nil)
