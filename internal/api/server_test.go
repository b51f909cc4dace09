// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/config"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/tree"
)

func newAPIFixture(t *testing.T) (*Server, *db.Store, *events.Hub) {
	t.Helper()

	store, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.DB().Exec(`INSERT INTO fwcloud (id, name) VALUES (1, 'cloud')`)
	require.NoError(t, err)
	_, err = store.DB().Exec(`INSERT INTO firewall (id, fwcloud, name, status) VALUES (1, 1, 'fw1', 0)`)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	hub := events.NewHub()
	srv, err := NewServer(Options{
		Config: cfg,
		Store:  store,
		Logger: logging.New(logging.Config{Output: io.Discard}),
		Hub:    hub,
	})
	require.NoError(t, err)
	return srv, store, hub
}

func addPolicyRule(t *testing.T, store *db.Store, order int) int64 {
	t.Helper()
	res, err := store.DB().Exec(
		`INSERT INTO policy_r (firewall, rule_order, type) VALUES (1, ?, ?)`,
		order, models.PolicyTypeInput)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func ruleOrders(t *testing.T, store *db.Store) map[int64]int {
	t.Helper()
	rows, err := store.DB().Query(`SELECT id, rule_order FROM policy_r ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	orders := make(map[int64]int)
	for rows.Next() {
		var id int64
		var order int
		require.NoError(t, rows.Scan(&id, &order))
		orders[id] = order
	}
	require.NoError(t, rows.Err())
	return orders
}

func TestMoveRulesEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)
	b := addPolicyRule(t, store, 2)
	c := addPolicyRule(t, store, 3)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/rules/policy/move",
		moveRequest{Rules: []int64{a}, To: c, Offset: "below"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	orders := ruleOrders(t, store)
	assert.Equal(t, 1, orders[b])
	assert.Equal(t, 2, orders[c])
	assert.Equal(t, 3, orders[a])

	// Moving a rule flags the firewall for recompilation.
	var status int
	require.NoError(t, store.DB().QueryRow(`SELECT status FROM firewall WHERE id = 1`).Scan(&status))
	assert.NotZero(t, status&models.FwStatusNeedsCompile)
}

func TestMoveRulesUnknownFamily(t *testing.T) {
	srv, _, _ := newAPIFixture(t)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/rules/nosuch/move",
		moveRequest{Rules: []int64{1}, To: 2, Offset: "above"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveRulesInvalidOffset(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/rules/policy/move",
		moveRequest{Rules: []int64{a}, To: a, Offset: "sideways"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCopyRulesEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)
	addPolicyRule(t, store, 2)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/rules/policy/copy",
		moveRequest{Rules: []int64{a}, To: a, Offset: "below"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var count int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM policy_r`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestCreateRuleEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	addPolicyRule(t, store, 1)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/rules/policy",
		createRequest{Firewall: 1, Data: map[string]any{"type": models.PolicyTypeInput, "comment": "new"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.RuleRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 2, created.RuleOrder, "new rule appends at the end of its scope")
}

func TestCreateRuleWithReposition(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)
	addPolicyRule(t, store, 2)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/rules/policy",
		createRequest{
			Firewall: 1,
			Data:     map[string]any{"type": models.PolicyTypeInput, "comment": "new"},
			To:       a,
			Offset:   "above",
		})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.RuleRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 1, created.RuleOrder)

	orders := ruleOrders(t, store)
	assert.Equal(t, 2, orders[a])
}

func TestCreateRuleRejectsOrderingColumn(t *testing.T) {
	srv, _, _ := newAPIFixture(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/rules/policy",
		createRequest{Firewall: 1, Data: map[string]any{"rule_order": 5}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRuleEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/rules/policy/"+strconv.FormatInt(a, 10),
		map[string]any{"comment": "edited"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var comment string
	require.NoError(t, store.DB().QueryRow(
		`SELECT comment FROM policy_r WHERE id = ?`, a).Scan(&comment))
	assert.Equal(t, "edited", comment)
}

func TestBulkUpdateRulesEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)
	b := addPolicyRule(t, store, 2)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/rules/policy",
		bulkUpdateRequest{Rules: []int64{a, b}, Data: map[string]any{"active": 0}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var inactive int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM policy_r WHERE active = 0`).Scan(&inactive))
	assert.Equal(t, 2, inactive)
}

func TestBulkRemoveRulesEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)
	b := addPolicyRule(t, store, 2)
	c := addPolicyRule(t, store, 3)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/rules/policy",
		bulkRemoveRequest{Rules: []int64{a, c}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	orders := ruleOrders(t, store)
	require.Len(t, orders, 1)
	assert.Equal(t, 1, orders[b])
}

func TestRemoveRuleEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	a := addPolicyRule(t, store, 1)
	b := addPolicyRule(t, store, 2)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/rules/policy/"+strconv.FormatInt(a, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	orders := ruleOrders(t, store)
	_, exists := orders[a]
	assert.False(t, exists)
	assert.Equal(t, 1, orders[b])
}

func TestLastRuleEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	addPolicyRule(t, store, 1)
	b := addPolicyRule(t, store, 2)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/rules/policy/last?firewall=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var last models.RuleRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	assert.Equal(t, b, last.ID)
}

func TestRuleDataEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	addPolicyRule(t, store, 1)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/fwcloud/1/firewall/1/policy/data/grid", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Len(t, data, 1)
}

func TestCompilePreviewEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)
	ruleID := addPolicyRule(t, store, 1)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/fwcloud/1/firewall/1/policy/compile/preview",
		previewRequest{Rules: []int64{ruleID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
}

func TestServiceCompileEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)

	res, err := store.DB().Exec(
		`INSERT INTO ipobj (fwcloud, type, name, address, netmask) VALUES (1, ?, 'lan', '10.1.0.0', '255.255.0.0')`,
		models.TypeNetwork)
	require.NoError(t, err)
	netID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = store.DB().Exec(
		`INSERT INTO dhcp_r (firewall, rule_order, rule_type, active, network, max_lease) VALUES (1, 1, 1, 1, ?, 3600)`,
		netID)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/fwcloud/1/firewall/1/service/dhcp/compile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, err := os.ReadFile(resp["path"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "subnet 10.1.0.0 netmask 255.255.0.0")
}

func TestServiceCompileUnknownKind(t *testing.T) {
	srv, _, _ := newAPIFixture(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/fwcloud/1/firewall/1/service/bind9/compile", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceInstallWithoutArtifact(t *testing.T) {
	srv, _, _ := newAPIFixture(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/fwcloud/1/firewall/1/service/dhcp/install", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepairEndpoint(t *testing.T) {
	srv, store, hub := newAPIFixture(t)

	logger := logging.New(logging.Config{Output: io.Discard})
	treeSvc := tree.NewService(store, logger)
	require.NoError(t, treeSvc.CreateRootNodes(context.Background(), 1))

	done := hub.Subscribe(16, events.EventRepairDone)

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/fwcloud/1/tree/repair", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])

	select {
	case ev := <-done:
		assert.Equal(t, resp["job_id"], ev.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("repair job did not finish")
	}
}

func TestTreeExportEndpoint(t *testing.T) {
	srv, store, _ := newAPIFixture(t)

	logger := logging.New(logging.Config{Output: io.Discard})
	treeSvc := tree.NewService(store, logger)
	require.NoError(t, treeSvc.CreateRootNodes(context.Background(), 1))

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/fwcloud/1/tree/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))

	var doc struct {
		Tree []struct {
			Name     string `yaml:"name"`
			NodeType string `yaml:"type"`
		} `yaml:"tree"`
	}
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Tree, 4)
	assert.Equal(t, "FIREWALLS", doc.Tree[0].Name)
}

