/*
Package rewards turns screen and achievement state flips into XP and events.

PURPOSE:
  The Orchestrator is the ledger's public API. A screen calls EnterScreen
  when it mounts and CompleteScreen when the user succeeds on it; named
  milestones call GrantAchievement. Each call decides, through the state
  flips in progress and achievements, whether this is a reward-worthy
  transition, and only then credits XP and appends an event.

STATE MACHINE (per user, per screen):
  Unseen --EnterScreen--> Seen --CompleteScreen--> Succeeded
  Unseen --CompleteScreen--> Succeeded   (record back-filled)

  Repeat entries keep the screen Seen (visits grows).
  Succeeded is terminal; later completes are no-ops.

AT MOST ONCE:
  A reward is paid only by the single caller that won the CreateIfAbsent
  for the flip. Retries, double taps and re-renders lose that race and pay
  nothing.

BEST EFFORT AFTER THE FLIP:
  Once the flip is committed it is the durable fact. XP credit and event
  log failures after it do not fail the call: they are returned in
  Result.Warnings as *generic.AuditError.

TWO CHANNELS:
  An entry achievement (EnterConfig.AchievementID) is always granted with
  0 XP; entry XP is paid through the screen channel (XPOnEnter). Completion
  achievements carry their own XP (CompleteConfig.AchievementXP).

SEE ALSO:
  - orchestrator.go: The four operations
  - mount.go: Once-per-mount entry for UI lifecycles
  - factory/awards.go: Builds configs from the award table
*/
package rewards

import (
	"errors"

	"github.com/warp/progress-ledger/generic"
)

// =============================================================================
// CONFIGS
// =============================================================================

// EnterConfig describes the rewards of opening a screen.
type EnterConfig struct {
	XPOnEnter      int64          `json:"xp_on_enter,omitempty"`
	RepeatXP       int64          `json:"repeat_xp,omitempty"`
	AchievementID  string         `json:"achievement_id,omitempty"`
	AchievementSub string         `json:"achievement_sub,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// CompleteConfig describes the rewards of succeeding on a screen.
type CompleteConfig struct {
	XPOnSuccess    int64          `json:"xp_on_success,omitempty"`
	AchievementID  string         `json:"achievement_id,omitempty"`
	AchievementSub string         `json:"achievement_sub,omitempty"`
	AchievementXP  int64          `json:"achievement_xp,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// AchievementConfig describes a standalone unlock.
type AchievementConfig struct {
	XP   int64          `json:"xp,omitempty"`
	Sub  string         `json:"sub,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// =============================================================================
// RESULT
// =============================================================================

// AchievementResult reports the achievement part of a call.
type AchievementResult struct {
	ID         string `json:"id"`
	FirstGrant bool   `json:"first_grant"`
	XPCredited int64  `json:"xp_credited"`
}

// Result reports what a call changed.
//
// FirstTime is the first open for EnterScreen, the first success for
// CompleteScreen and the first grant for GrantAchievement. XPCredited
// counts only credits that were committed.
type Result struct {
	FirstTime   bool               `json:"first_time"`
	Visits      int64              `json:"visits,omitempty"`
	XPCredited  int64              `json:"xp_credited"`
	Achievement *AchievementResult `json:"achievement,omitempty"`
	Warnings    []error            `json:"-"`
}

// AuditFailed reports whether an XP credit or event append failed after
// the state flip was committed.
func (r Result) AuditFailed() bool {
	for _, w := range r.Warnings {
		var audit *generic.AuditError
		if errors.As(w, &audit) {
			return true
		}
	}
	return false
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}
