/*
scenarios_test.go - Tests for the demo scenario loader

Each scenario runs against a fresh engine and must leave the ledger
consistent.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lead-engine/ledger"
)

func loadScenario(t *testing.T, ts *testServer, id string) ScenarioResult {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[ScenarioResult](t, rec)
}

func requireLedgerConsistent(t *testing.T, ts *testServer) {
	t.Helper()
	ctx := context.Background()
	ids, err := ts.store.AccountIDs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	for _, id := range ids {
		v, err := ts.engine.Ledger().Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, v.Consistent(), "ledger for %s", id)
	}
}

func TestListScenarios(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]ScenarioDTO](t, rec)
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Description)
	}
	assert.ElementsMatch(t, []string{"busy-marketplace", "cancel-refund", "low-balance"}, ids)
}

func TestLoadScenario_BusyMarketplace(t *testing.T) {
	ts := setupTestServer(t)

	res := loadScenario(t, ts, "busy-marketplace")

	require.Len(t, res.Leads, 1)
	assert.Equal(t, "full", res.Leads[0].Status)
	assert.Equal(t, 5, res.Leads[0].ClaimCount)
	assert.Contains(t, res.Events, "pro-fay rejected: capacity_exceeded")
	assert.EqualValues(t, 90, ts.balance(t, "pro-ana"))
	assert.EqualValues(t, 100, ts.balance(t, "pro-fay"))
	requireLedgerConsistent(t, ts)
}

func TestLoadScenario_CancelRefund(t *testing.T) {
	ts := setupTestServer(t)

	res := loadScenario(t, ts, "cancel-refund")

	require.Len(t, res.Leads, 1)
	assert.Equal(t, "cancelled", res.Leads[0].Status)
	for _, id := range []string{"pro-gus", "pro-hal", "pro-ivy"} {
		assert.EqualValues(t, 50, ts.balance(t, id))
		txs, err := ts.engine.Ledger().History(context.Background(), ledger.ProfessionalID(id))
		require.NoError(t, err)
		require.Len(t, txs, 3)
		assert.Equal(t, ledger.TxRefund, txs[2].Type)
		assert.EqualValues(t, 15, txs[2].Delta)
	}
	requireLedgerConsistent(t, ts)
}

func TestLoadScenario_LowBalance(t *testing.T) {
	ts := setupTestServer(t)

	res := loadScenario(t, ts, "low-balance")

	require.Len(t, res.Leads, 1)
	assert.Equal(t, "open", res.Leads[0].Status)
	assert.Equal(t, 0, res.Leads[0].ClaimCount)
	assert.EqualValues(t, 7, ts.balance(t, "pro-jo"))
}

func TestLoadScenario_RerunDoesNotRefund(t *testing.T) {
	// Funding is keyed per scenario, so a second load does not top anyone up.
	ts := setupTestServer(t)

	loadScenario(t, ts, "busy-marketplace")
	res := loadScenario(t, ts, "busy-marketplace")

	for _, e := range res.Events {
		assert.NotContains(t, e, "funded")
	}
	assert.EqualValues(t, 80, ts.balance(t, "pro-ana"))
	requireLedgerConsistent(t, ts)
}

func TestLoadScenario_Unknown(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	requireError(t, rec, http.StatusNotFound, "not_found")
}
