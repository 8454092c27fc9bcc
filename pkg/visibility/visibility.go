package visibility

import (
	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
)

// TallyViewer describes who is looking at a battle. A nil ViewerID is an
// anonymous caller.
type TallyViewer struct {
	ViewerID *uuid.UUID
	HasVoted bool
}

// CountsVisible reports whether vote tallies may be shown. Closed battles
// always show them; otherwise only a caller who has already voted sees them.
func CountsVisible(battle *models.Battle, viewer TallyViewer) bool {
	if battle == nil {
		return false
	}
	if battle.Status == enums.BattleStatusClosed {
		return true
	}
	if viewer.ViewerID == nil {
		return false
	}
	return viewer.HasVoted
}

// NeedsVoteLookup reports whether CountsVisible depends on a vote lookup for
// this caller, letting handlers skip the query.
func NeedsVoteLookup(battle *models.Battle, viewerID *uuid.UUID) bool {
	if battle == nil || viewerID == nil {
		return false
	}
	return battle.Status != enums.BattleStatusClosed
}
