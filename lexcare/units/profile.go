package units

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/profile"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// ProfileUnit loads the user's durable profile.
type ProfileUnit struct {
	store ports.ProfileStore
}

// NewProfileUnit creates a profile loader.
func NewProfileUnit(store ports.ProfileStore) *ProfileUnit {
	return &ProfileUnit{store: store}
}

func (u *ProfileUnit) Name() string { return turn.UnitProfile }

// Process returns the stored profile, or an empty one for a new user.
func (u *ProfileUnit) Process(ctx context.Context, st *turn.State) (turn.Update, error) {
	p, err := u.store.GetProfile(ctx, st.UserID)
	if errors.Is(err, ports.ErrNotFound) {
		return turn.Update{Profile: profile.New(st.UserID)}, nil
	}
	if err != nil {
		return turn.Update{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return turn.Update{Profile: p}, nil
}
