/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Screens:
    EnterRequest, CompleteRequest, ProgressDTO

  Achievements:
    GrantRequest, AchievementDTO

  Results:
    ResultDTO (every write returns one)

  Me:
    StatsDTO, EventDTO

  Scenarios:
    ScenarioDTO, ScenarioRunDTO, ScenarioStepDTO

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - rewards/types.go: Configs the requests map to
*/
package api

import (
	"time"

	"github.com/warp/progress-ledger/achievements"
	"github.com/warp/progress-ledger/eventlog"
	"github.com/warp/progress-ledger/factory"
	"github.com/warp/progress-ledger/progress"
	"github.com/warp/progress-ledger/rewards"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// EnterRequest is the optional body of POST /api/screens/{screenKey}/enter.
// An empty body, or use_table, takes the config from the award table.
type EnterRequest struct {
	XPOnEnter      int64          `json:"xp_on_enter"`
	RepeatXP       int64          `json:"repeat_xp"`
	AchievementID  string         `json:"achievement_id"`
	AchievementSub string         `json:"achievement_sub"`
	Meta           map[string]any `json:"meta"`
	UseTable       bool           `json:"use_table"`
}

func (r EnterRequest) Config() rewards.EnterConfig {
	return rewards.EnterConfig{
		XPOnEnter:      r.XPOnEnter,
		RepeatXP:       r.RepeatXP,
		AchievementID:  r.AchievementID,
		AchievementSub: r.AchievementSub,
		Meta:           r.Meta,
	}
}

// CompleteRequest is the optional body of POST /api/screens/{screenKey}/complete.
type CompleteRequest struct {
	XPOnSuccess    int64          `json:"xp_on_success"`
	AchievementID  string         `json:"achievement_id"`
	AchievementSub string         `json:"achievement_sub"`
	AchievementXP  int64          `json:"achievement_xp"`
	Meta           map[string]any `json:"meta"`
	UseTable       bool           `json:"use_table"`
}

func (r CompleteRequest) Config() rewards.CompleteConfig {
	return rewards.CompleteConfig{
		XPOnSuccess:    r.XPOnSuccess,
		AchievementID:  r.AchievementID,
		AchievementSub: r.AchievementSub,
		AchievementXP:  r.AchievementXP,
		Meta:           r.Meta,
	}
}

// GrantRequest is the body of POST /api/achievements/{id}.
type GrantRequest struct {
	XP   int64          `json:"xp"`
	Sub  string         `json:"sub"`
	Meta map[string]any `json:"meta"`
}

// RunScenarioRequest is the optional body of POST /api/scenarios/{id}/run.
type RunScenarioRequest struct {
	// UserID overrides the generated demo user.
	UserID string `json:"user_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ResultDTO reports what a write changed.
type ResultDTO struct {
	FirstTime   bool                       `json:"first_time"`
	Visits      int64                      `json:"visits,omitempty"`
	XPCredited  int64                      `json:"xp_credited"`
	Achievement *rewards.AchievementResult `json:"achievement,omitempty"`
	AuditFailed bool                       `json:"audit_failed"`
	Warnings    []string                   `json:"warnings,omitempty"`
	Award       *factory.Award             `json:"award,omitempty"`
}

func toResultDTO(res rewards.Result, award *factory.Award) ResultDTO {
	dto := ResultDTO{
		FirstTime:   res.FirstTime,
		Visits:      res.Visits,
		XPCredited:  res.XPCredited,
		Achievement: res.Achievement,
		AuditFailed: res.AuditFailed(),
		Award:       award,
	}
	for _, w := range res.Warnings {
		dto.Warnings = append(dto.Warnings, w.Error())
	}
	return dto
}

// ProgressDTO is a screen's progress.
type ProgressDTO struct {
	ScreenKey   string     `json:"screen_key"`
	FirstOpenAt time.Time  `json:"first_open_at"`
	Visits      int64      `json:"visits"`
	LastOpenAt  time.Time  `json:"last_open_at"`
	SuccessAt   *time.Time `json:"success_at,omitempty"`
	Succeeded   bool       `json:"succeeded"`
}

func toProgressDTO(rec progress.Record) ProgressDTO {
	return ProgressDTO{
		ScreenKey:   rec.ScreenKey,
		FirstOpenAt: rec.FirstOpenAt,
		Visits:      rec.Visits,
		LastOpenAt:  rec.LastOpenAt,
		SuccessAt:   rec.SuccessAt,
		Succeeded:   rec.Succeeded(),
	}
}

// AchievementDTO is an unlocked achievement.
type AchievementDTO struct {
	ID         string    `json:"id"`
	UnlockedAt time.Time `json:"unlocked_at"`
	Sub        string    `json:"sub,omitempty"`
	XP         int64     `json:"xp"`
}

func toAchievementDTO(rec *achievements.Record) AchievementDTO {
	return AchievementDTO{ID: rec.ID, UnlockedAt: rec.UnlockedAt, Sub: rec.Sub, XP: rec.XP}
}

// StatsDTO is the caller's XP summary.
type StatsDTO struct {
	Points         int64      `json:"points"`
	PeriodProgress int64      `json:"period_progress"`
	WeeklyGoal     int64      `json:"weekly_goal"`
	GoalPercent    string     `json:"goal_percent"`
	Week           string     `json:"week"`
	WeekStart      time.Time  `json:"week_start"`
	WeekEnd        time.Time  `json:"week_end"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
}

// EventDTO is one event log entry.
type EventDTO struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Amount     int64          `json:"amount"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func toEventDTOs(entries []eventlog.Entry) []EventDTO {
	out := make([]EventDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, EventDTO{ID: e.ID, Type: string(e.Type), Amount: e.Amount, Meta: e.Meta, OccurredAt: e.OccurredAt})
	}
	return out
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioStepDTO is one call made by a scenario run.
type ScenarioStepDTO struct {
	Call   string    `json:"call"`
	Result ResultDTO `json:"result"`
}

// ScenarioRunDTO reports a scenario run and whether its expectation held.
type ScenarioRunDTO struct {
	ScenarioID  string            `json:"scenario_id"`
	UserID      string            `json:"user_id"`
	Steps       []ScenarioStepDTO `json:"steps"`
	XPTotal     int64             `json:"xp_total"`
	EventsTotal int64             `json:"events_total"`
	Expected    int64             `json:"expected_xp"`
	Passed      bool              `json:"passed"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
