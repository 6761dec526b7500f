package api_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-ledger/api"
	"github.com/warp/progress-ledger/generic"
	"github.com/warp/progress-ledger/generic/store"
	"github.com/warp/progress-ledger/rewards"
)

func TestListScenarios(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/scenarios", "u-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]api.ScenarioDTO](t, w)
	require.Len(t, list, 3)
	assert.Equal(t, "enter-twice", list[0].ID)
}

func TestRunScenario_AllPass(t *testing.T) {
	// GIVEN: A fresh ledger
	// WHEN: Each reference scenario runs
	// THEN: Each pays exactly 10 XP and the event log agrees

	s := newTestServer(t)

	for _, id := range []string{"enter-twice", "complete-twice", "concurrent-grant"} {
		t.Run(id, func(t *testing.T) {
			w := s.do(t, "POST", "/api/scenarios/"+id+"/run", "u-1", nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			run := decode[api.ScenarioRunDTO](t, w)

			assert.True(t, run.Passed)
			assert.Equal(t, int64(10), run.XPTotal)
			assert.Equal(t, int64(10), run.EventsTotal)
			assert.Len(t, run.Steps, 2)
			assert.True(t, strings.HasPrefix(run.UserID, "demo-"))
		})
	}
}

func TestRunScenario_ConcurrentGrantHasOneWinner(t *testing.T) {
	o := rewards.New(store.NewMemory(), nil, nil)

	run, err := api.RunScenario(t.Context(), o, "concurrent-grant", generic.UserID("u-7"))
	require.NoError(t, err)

	firsts := 0
	for _, step := range run.Steps {
		if step.Result.FirstTime {
			firsts++
		}
	}
	assert.Equal(t, 1, firsts)
	assert.Equal(t, "u-7", run.UserID)
}

func TestRunScenario_GivenUser(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/api/scenarios/enter-twice/run", "u-1", map[string]any{"user_id": "demo-fixed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "demo-fixed", decode[api.ScenarioRunDTO](t, w).UserID)
}

func TestRunScenario_WithoutUserIs401(t *testing.T) {
	// GIVEN: Token auth is on and the request carries no credentials
	// WHEN: A scenario run names another user
	// THEN: 401 and nothing is written for anyone

	mem := store.NewMemory()
	h := api.NewHandler(rewards.New(mem, nil, nil), nil, nil)
	h.DemoScenarios = true
	router := api.NewRouter(h, api.Authenticator{Secret: testSecret}, nil)
	s := &testServer{router: router, mem: mem}

	w := s.do(t, "POST", "/api/scenarios/enter-twice/run", "", map[string]any{"user_id": "victim"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, mem.Len())

	acct, err := h.Rewards.XP.Get(t.Context(), "victim")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Points)
}

func TestRunScenario_RejectsOtherUsers(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/api/scenarios/enter-twice/run", "u-1", map[string]any{"user_id": "u-2"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, s.mem.Len())

	w = s.do(t, "POST", "/api/scenarios/enter-twice/run", "u-1", map[string]any{"user_id": "u-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", decode[api.ScenarioRunDTO](t, w).UserID)
}

func TestRunScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/api/scenarios/nope/run", "u-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScenarios_Disabled(t *testing.T) {
	h := api.NewHandler(rewards.New(store.NewMemory(), nil, nil), nil, nil)
	router := api.NewRouter(h, api.Authenticator{Disabled: true}, nil)
	s := &testServer{router: router}

	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/scenarios", "u-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/scenarios/enter-twice/run", "u-1", nil).Code)
}
