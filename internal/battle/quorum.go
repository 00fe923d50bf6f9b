package battle

import "github.com/liveloop/backend/internal/models"

// QuorumPolicy decides how many acceptances a battle invite needs before
// the session transitions to an active battle.
type QuorumPolicy interface {
	PendingAccepts(session models.LiveSession) int
}

// AllPartiesQuorum requires every invited party to accept. A two-host
// session has a single invited opponent, so the threshold is one; multi-host
// variants plug in a different policy without touching the state machine.
type AllPartiesQuorum struct{}

// PendingAccepts returns the number of outstanding acceptances required.
func (AllPartiesQuorum) PendingAccepts(models.LiveSession) int {
	return 1
}
