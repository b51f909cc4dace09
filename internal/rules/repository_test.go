// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/policy"
)

type fixture struct {
	store *db.Store
	repo  *Repository
	fwID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.DB().Exec(`INSERT INTO fwcloud (id, name) VALUES (1, 'test cloud')`)
	require.NoError(t, err)
	_, err = store.DB().Exec(`INSERT INTO firewall (id, fwcloud, name) VALUES (1, 1, 'fw1')`)
	require.NoError(t, err)

	logger := logging.New(logging.Config{Output: io.Discard})
	return &fixture{
		store: store,
		repo:  NewRepository(store, PolicyFamily, logger),
		fwID:  1,
	}
}

// addRule inserts a policy rule at the given order and returns its id.
func (f *fixture) addRule(t *testing.T, group sql.NullInt64, order int, comment string) int64 {
	t.Helper()
	res, err := f.store.DB().Exec(
		`INSERT INTO policy_r (firewall, idgroup, rule_order, type, comment)
		 VALUES (?, ?, ?, ?, ?)`,
		f.fwID, group, order, models.PolicyTypeInput, comment)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (f *fixture) addGroup(t *testing.T, name string) int64 {
	t.Helper()
	res, err := f.store.DB().Exec(
		`INSERT INTO policy_g (firewall, name) VALUES (?, ?)`, f.fwID, name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// scopeComments returns the scope's rule comments sorted by rule_order, and
// asserts the orders are dense from 1.
func (f *fixture) scopeComments(t *testing.T, group sql.NullInt64) []string {
	t.Helper()
	cond, args := (Scope{FirewallID: f.fwID, GroupID: group}).cond()
	rows, err := f.store.DB().Query(
		`SELECT rule_order, comment FROM policy_r WHERE `+cond+` ORDER BY rule_order ASC`, args...)
	require.NoError(t, err)
	defer rows.Close()

	var comments []string
	for rows.Next() {
		var order int
		var comment string
		require.NoError(t, rows.Scan(&order, &comment))
		require.Equal(t, len(comments)+1, order, "rule orders must be dense from 1")
		comments = append(comments, comment)
	}
	require.NoError(t, rows.Err())
	return comments
}

func noGroup() sql.NullInt64 {
	return sql.NullInt64{}
}

func inGroup(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

func TestMoveBelow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")
	c := f.addRule(t, noGroup(), 3, "C")
	f.addRule(t, noGroup(), 4, "D")

	moved, err := f.repo.Move(ctx, []int64{a}, c, policy.OffsetBelow)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, 3, moved[0].RuleOrder)

	assert.Equal(t, []string{"B", "C", "A", "D"}, f.scopeComments(t, noGroup()))
}

func TestMoveAbove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")
	c := f.addRule(t, noGroup(), 3, "C")
	d := f.addRule(t, noGroup(), 4, "D")

	_, err := f.repo.Move(ctx, []int64{d}, c, policy.OffsetAbove)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "D", "C"}, f.scopeComments(t, noGroup()))
}

func TestMoveMultiple(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")
	f.addRule(t, noGroup(), 3, "C")
	d := f.addRule(t, noGroup(), 4, "D")

	// The moving set keeps its relative order at the destination.
	_, err := f.repo.Move(ctx, []int64{b, a}, d, policy.OffsetBelow)
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "D", "A", "B"}, f.scopeComments(t, noGroup()))
}

func TestMoveNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Moving a rule below its own predecessor leaves the order unchanged.
	a := f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")
	f.addRule(t, noGroup(), 3, "C")

	_, err := f.repo.Move(ctx, []int64{b}, a, policy.OffsetBelow)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, f.scopeComments(t, noGroup()))
}

func TestMoveEmptySet(t *testing.T) {
	f := newFixture(t)

	moved, err := f.repo.Move(context.Background(), nil, 1, policy.OffsetBelow)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestMoveDestinationNotFound(t *testing.T) {
	f := newFixture(t)
	a := f.addRule(t, noGroup(), 1, "A")

	_, err := f.repo.Move(context.Background(), []int64{a}, 999, policy.OffsetBelow)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestMoveInvalidOffset(t *testing.T) {
	f := newFixture(t)
	a := f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")

	_, err := f.repo.Move(context.Background(), []int64{a}, b, policy.Offset("sideways"))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestMoveAcrossGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGroup(t, "grouped")

	a := f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")
	x := f.addRule(t, inGroup(g), 1, "X")
	f.addRule(t, inGroup(g), 2, "Y")

	moved, err := f.repo.Move(ctx, []int64{a}, x, policy.OffsetBelow)
	require.NoError(t, err)
	require.Len(t, moved, 1)

	// The moved rule now belongs to the destination group.
	require.True(t, moved[0].GroupID.Valid)
	assert.Equal(t, g, moved[0].GroupID.Int64)

	assert.Equal(t, []string{"X", "A", "Y"}, f.scopeComments(t, inGroup(g)))
	// The vacated source scope renumbers densely.
	assert.Equal(t, []string{"B"}, f.scopeComments(t, noGroup()))
}

func TestMoveOutOfGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGroup(t, "grouped")

	f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")
	x := f.addRule(t, inGroup(g), 1, "X")

	_, err := f.repo.Move(ctx, []int64{x}, b, policy.OffsetAbove)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "X", "B"}, f.scopeComments(t, noGroup()))
	assert.Empty(t, f.scopeComments(t, inGroup(g)))
}

func TestCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")
	c := f.addRule(t, noGroup(), 3, "C")

	// Positioned item on the source rule, must be duplicated onto the copy.
	_, err := f.store.DB().Exec(
		`INSERT INTO policy_r__ipobj (rule, ipobj, position, position_order) VALUES (?, 10, ?, 1)`,
		a, policy.PositionSource)
	require.NoError(t, err)

	copies, err := f.repo.Copy(ctx, []int64{a}, c, policy.OffsetBelow)
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.NotEqual(t, a, copies[0].ID)

	// Original stays, copy lands below C.
	assert.Equal(t, []string{"A", "B", "C", "A"}, f.scopeComments(t, noGroup()))

	var n int
	require.NoError(t, f.store.DB().QueryRow(
		`SELECT COUNT(*) FROM policy_r__ipobj WHERE rule = ?`, copies[0].ID).Scan(&n))
	assert.Equal(t, 1, n, "positioned items must follow the copy")
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")
	f.addRule(t, noGroup(), 3, "C")

	removed, err := f.repo.Remove(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b, removed.ID)

	assert.Equal(t, []string{"A", "C"}, f.scopeComments(t, noGroup()))

	_, err = f.repo.Remove(ctx, b)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestRefreshOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a scope with gaps, as left behind by a crashed import.
	f.addRule(t, noGroup(), 3, "A")
	f.addRule(t, noGroup(), 7, "B")
	f.addRule(t, noGroup(), 20, "C")

	err := f.repo.RefreshOrders(ctx, Scope{FirewallID: f.fwID})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, f.scopeComments(t, noGroup()))
}

func TestGetLastRuleInScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	last, err := f.repo.GetLastRuleInScope(ctx, Scope{FirewallID: f.fwID})
	require.NoError(t, err)
	assert.Nil(t, last, "empty scope has no last rule")

	f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")

	last, err = f.repo.GetLastRuleInScope(ctx, Scope{FirewallID: f.fwID})
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, b, last.ID)
	assert.Equal(t, 2, last.RuleOrder)
}

func TestCreateAppendsToScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")

	created, err := f.repo.Create(ctx, Scope{FirewallID: f.fwID},
		map[string]any{"type": models.PolicyTypeInput, "comment": "C"})
	require.NoError(t, err)
	assert.Equal(t, 3, created.RuleOrder)

	assert.Equal(t, []string{"A", "B", "C"}, f.scopeComments(t, noGroup()))
}

func TestCreateIntoEmptyScope(t *testing.T) {
	f := newFixture(t)

	created, err := f.repo.Create(context.Background(), Scope{FirewallID: f.fwID},
		map[string]any{"type": models.PolicyTypeInput, "comment": "first"})
	require.NoError(t, err)
	assert.Equal(t, 1, created.RuleOrder)
}

func TestCreateRejectsUnknownColumn(t *testing.T) {
	f := newFixture(t)

	_, err := f.repo.Create(context.Background(), Scope{FirewallID: f.fwID},
		map[string]any{"rule_order": 1})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")

	updated, err := f.repo.Update(ctx, a, map[string]any{"comment": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, a, updated.ID)
	assert.Equal(t, 1, updated.RuleOrder, "update must not touch ordering")

	assert.Equal(t, []string{"renamed", "B"}, f.scopeComments(t, noGroup()))
}

func TestUpdateUnknownRule(t *testing.T) {
	f := newFixture(t)

	_, err := f.repo.Update(context.Background(), 999, map[string]any{"comment": "x"})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestUpdateEmptyValues(t *testing.T) {
	f := newFixture(t)
	a := f.addRule(t, noGroup(), 1, "A")

	_, err := f.repo.Update(context.Background(), a, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestBulkUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")
	f.addRule(t, noGroup(), 3, "C")

	updated, err := f.repo.BulkUpdate(ctx, []int64{a, b}, map[string]any{"active": 0})
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	var inactive int
	require.NoError(t, f.store.DB().QueryRow(
		`SELECT COUNT(*) FROM policy_r WHERE active = 0`).Scan(&inactive))
	assert.Equal(t, 2, inactive)

	// Ordering is untouched.
	assert.Equal(t, []string{"A", "B", "C"}, f.scopeComments(t, noGroup()))
}

func TestBulkUpdateMissingRule(t *testing.T) {
	f := newFixture(t)
	a := f.addRule(t, noGroup(), 1, "A")

	_, err := f.repo.BulkUpdate(context.Background(), []int64{a, 999}, map[string]any{"active": 0})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestBulkRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := f.addGroup(t, "grouped")

	a := f.addRule(t, noGroup(), 1, "A")
	f.addRule(t, noGroup(), 2, "B")
	f.addRule(t, noGroup(), 3, "C")
	x := f.addRule(t, inGroup(g), 1, "X")
	f.addRule(t, inGroup(g), 2, "Y")

	removed, err := f.repo.BulkRemove(ctx, []int64{a, x})
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	// Both touched scopes renumber densely.
	assert.Equal(t, []string{"B", "C"}, f.scopeComments(t, noGroup()))
	assert.Equal(t, []string{"Y"}, f.scopeComments(t, inGroup(g)))
}

func TestBulkRemoveMissingRule(t *testing.T) {
	f := newFixture(t)
	a := f.addRule(t, noGroup(), 1, "A")

	_, err := f.repo.BulkRemove(context.Background(), []int64{a, 999})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	// The transaction rolled back; A survives.
	assert.Equal(t, []string{"A"}, f.scopeComments(t, noGroup()))
}

func TestScopeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.DB().Exec(`INSERT INTO firewall (id, fwcloud, name) VALUES (2, 1, 'fw2')`)
	require.NoError(t, err)

	a := f.addRule(t, noGroup(), 1, "A")
	b := f.addRule(t, noGroup(), 2, "B")

	res, err := f.store.DB().Exec(
		`INSERT INTO policy_r (firewall, idgroup, rule_order, type, comment) VALUES (2, NULL, 1, ?, 'Z')`,
		models.PolicyTypeInput)
	require.NoError(t, err)
	zID, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = f.repo.Move(ctx, []int64{b}, a, policy.OffsetAbove)
	require.NoError(t, err)

	// The other firewall's scope is untouched.
	var order int
	require.NoError(t, f.store.DB().QueryRow(
		`SELECT rule_order FROM policy_r WHERE id = ?`, zID).Scan(&order))
	assert.Equal(t, 1, order)
}
