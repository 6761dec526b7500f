/*
scenarios.go - Demo scenarios for testing and demonstrations

PURPOSE:
  Runs the ledger's reference scenarios end to end against the live store
  and reports whether the at-most-once guarantee held. Useful to smoke test
  a deployment against a real backend.

AVAILABLE SCENARIOS:
  enter-twice:       Enter a 10 XP screen twice; only the first pays
  complete-twice:    Complete a screen with a 10 XP achievement twice
  concurrent-grant:  Two simultaneous grants of a 10 XP achievement

HOW SCENARIOS WORK:
  1. Pick a user (a fresh demo-<uuid>, or the body's user_id when it is
     the caller or another demo- user)
  2. Run the scenario's calls through the orchestrator
  3. Compare the XP total and event log sum with the expected XP

USAGE VIA API:
  POST /api/scenarios/concurrent-grant/run
  {"user_id": "optional, caller or demo-*"}

  The caller must be authenticated even though the run writes elsewhere.

NOTE:
  Scenarios write real records. Only enable in development/demo environments.

SEE ALSO:
  - handlers.go: Error mapping
  - rewards/orchestrator.go: The calls being exercised
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/progress-ledger/eventlog"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoPrefix = "demo-"

var scenarios = []ScenarioDTO{
	{
		ID:          "enter-twice",
		Name:        "Enter Twice",
		Description: "Enter B4_De (10 XP on first entry) twice; expect 10 XP and visits=2",
	},
	{
		ID:          "complete-twice",
		Name:        "Complete Twice",
		Description: "Complete B4_De with a 10 XP achievement twice; expect 10 XP",
	},
	{
		ID:          "concurrent-grant",
		Name:        "Concurrent Grant",
		Description: "Grant adj_i_na_basico (10 XP) twice at once; expect 10 XP, not 20",
	},
}

// ListScenarios returns the demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if !h.DemoScenarios {
		writeError(w, http.StatusNotFound, "Demo scenarios are disabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, scenarios)
}

// RunScenario runs one demo scenario.
// POST /api/scenarios/{id}/run
func (h *Handler) RunScenario(w http.ResponseWriter, r *http.Request) {
	if !h.DemoScenarios {
		writeError(w, http.StatusNotFound, "Demo scenarios are disabled", nil)
		return
	}
	caller := UserFromContext(r.Context())
	if !caller.Valid() {
		writeError(w, http.StatusUnauthorized, "Unauthenticated", generic.ErrUnauthenticated)
		return
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	var req RunScenarioRequest
	if _, err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	uid, err := scenarioUser(caller, req.UserID)
	if err != nil {
		writeError(w, http.StatusForbidden, "Scenario user not allowed", err)
		return
	}

	run, err := RunScenario(r.Context(), h.Rewards, id, uid)
	if err != nil {
		if _, known := findScenario(id); !known {
			writeError(w, http.StatusNotFound, "Scenario not found", err)
			return
		}
		h.writeLedgerError(w, "Scenario failed", err)
		return
	}
	h.Logger.Info("scenario run", "scenario", id, "user_id", uid, "passed", run.Passed)
	writeJSON(w, http.StatusOK, run)
}

// scenarioUser picks who a run writes to: a fresh demo user by default,
// or the requested id when it is the caller or another demo user.
func scenarioUser(caller generic.UserID, requested string) (generic.UserID, error) {
	requested = strings.TrimSpace(requested)
	switch {
	case requested == "":
		return generic.UserID(demoPrefix + uuid.NewString()), nil
	case requested == caller.String(), strings.HasPrefix(requested, demoPrefix):
		return generic.UserID(requested), nil
	default:
		return "", fmt.Errorf("user_id must be the caller or start with %q", demoPrefix)
	}
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

// =============================================================================
// SCENARIO RUNNERS
// =============================================================================

// RunScenario executes a scenario for uid and checks its expectation.
func RunScenario(ctx context.Context, o *rewards.Orchestrator, id string, uid generic.UserID) (ScenarioRunDTO, error) {
	run := ScenarioRunDTO{ScenarioID: id, UserID: uid.String()}

	var err error
	switch id {
	case "enter-twice":
		err = runEnterTwice(ctx, o, uid, &run)
	case "complete-twice":
		err = runCompleteTwice(ctx, o, uid, &run)
	case "concurrent-grant":
		err = runConcurrentGrant(ctx, o, uid, &run)
	default:
		return ScenarioRunDTO{}, fmt.Errorf("unknown scenario: %s", id)
	}
	if err != nil {
		return ScenarioRunDTO{}, err
	}

	acct, err := o.XP.Get(ctx, uid)
	if err != nil {
		return ScenarioRunDTO{}, err
	}
	entries, err := o.Events.List(ctx, uid)
	if err != nil {
		return ScenarioRunDTO{}, err
	}
	run.XPTotal = acct.Points
	run.EventsTotal = eventlog.Total(entries)
	run.Passed = run.XPTotal == run.Expected && run.EventsTotal == run.Expected
	return run, nil
}

func runEnterTwice(ctx context.Context, o *rewards.Orchestrator, uid generic.UserID, run *ScenarioRunDTO) error {
	cfg := rewards.EnterConfig{XPOnEnter: 10, RepeatXP: 0}
	for i := 0; i < 2; i++ {
		res, err := o.EnterScreen(ctx, uid, "B4_De", cfg)
		if err != nil {
			return err
		}
		run.Steps = append(run.Steps, ScenarioStepDTO{Call: "EnterScreen(B4_De)", Result: toResultDTO(res, nil)})
	}
	run.Expected = 10
	return nil
}

func runCompleteTwice(ctx context.Context, o *rewards.Orchestrator, uid generic.UserID, run *ScenarioRunDTO) error {
	cfg := rewards.CompleteConfig{
		XPOnSuccess:    0,
		AchievementID:  "particle_de_place_means",
		AchievementSub: "Particle de marks the place of an action",
		AchievementXP:  10,
	}
	for i := 0; i < 2; i++ {
		res, err := o.CompleteScreen(ctx, uid, "B4_De", cfg)
		if err != nil {
			return err
		}
		run.Steps = append(run.Steps, ScenarioStepDTO{Call: "CompleteScreen(B4_De)", Result: toResultDTO(res, nil)})
	}
	run.Expected = 10
	return nil
}

func runConcurrentGrant(ctx context.Context, o *rewards.Orchestrator, uid generic.UserID, run *ScenarioRunDTO) error {
	results := make([]rewards.Result, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			res, err := o.GrantAchievement(gctx, uid, "adj_i_na_basico", rewards.AchievementConfig{XP: 10})
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, res := range results {
		run.Steps = append(run.Steps, ScenarioStepDTO{Call: "GrantAchievement(adj_i_na_basico)", Result: toResultDTO(res, nil)})
	}
	run.Expected = 10
	return nil
}
