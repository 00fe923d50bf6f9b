package battle

import (
	"time"

	"github.com/liveloop/backend/internal/models"
)

// Battle and cooldown timers per session mode.
const (
	standardBattleDuration   = 180 * time.Second
	standardCooldownDuration = 30 * time.Second
	speedBattleDuration      = 60 * time.Second
	speedCooldownDuration    = 15 * time.Second
)

func battleDuration(mode string) time.Duration {
	if mode == models.SessionModeSpeed {
		return speedBattleDuration
	}
	return standardBattleDuration
}

func cooldownDuration(mode string) time.Duration {
	if mode == models.SessionModeSpeed {
		return speedCooldownDuration
	}
	return standardCooldownDuration
}
