// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/policy"
)

// Repository is the ordering engine for one rule family. Every mutation runs
// inside a single immediate transaction so concurrent reorders on the same
// scope serialize instead of interleaving.
type Repository struct {
	store  *db.Store
	family Family
	logger *logging.Logger
}

// NewRepository creates an ordering repository for a rule family.
func NewRepository(store *db.Store, family Family, logger *logging.Logger) *Repository {
	return &Repository{
		store:  store,
		family: family,
		logger: logger.WithComponent(family.Name + "-rules"),
	}
}

// Family returns the rule family this repository operates on.
func (r *Repository) Family() Family {
	return r.family
}

// Move repositions the rules with the given ids immediately above or below
// the destination rule. Rules moving into a different group are reparented to
// the destination's group. The affected scopes end up densely renumbered
// from 1.
func (r *Repository) Move(ctx context.Context, ids []int64, destID int64, offset policy.Offset) ([]models.RuleRow, error) {
	if len(ids) == 0 {
		return []models.RuleRow{}, nil
	}
	if !offset.Valid() {
		return nil, errors.Errorf(errors.KindValidation, "invalid offset %q", offset)
	}

	var moved []models.RuleRow
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		moved, err = r.move(tx, ids, destID, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Copy duplicates the rules with the given ids and repositions the copies at
// the destination. The originals are untouched; copy ordering mirrors the
// order of ids as given.
func (r *Repository) Copy(ctx context.Context, ids []int64, destID int64, offset policy.Offset) ([]models.RuleRow, error) {
	if len(ids) == 0 {
		return []models.RuleRow{}, nil
	}
	if !offset.Valid() {
		return nil, errors.Errorf(errors.KindValidation, "invalid offset %q", offset)
	}

	var copies []models.RuleRow
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		copyIDs := make([]int64, 0, len(ids))

		for _, id := range ids {
			src, err := r.loadRule(tx, id)
			if err != nil {
				return err
			}

			// The copy is appended after the current last rule of its own
			// scope; the move below puts it in its final place.
			next, err := r.nextOrder(tx, Scope{FirewallID: src.FirewallID, GroupID: src.GroupID})
			if err != nil {
				return err
			}

			cols := r.family.columnList()
			res, err := tx.Exec(fmt.Sprintf(
				`INSERT INTO %s (firewall, idgroup, rule_order, %s)
				 SELECT firewall, idgroup, ?, %s FROM %s WHERE id = ?`,
				r.family.Table, cols, cols, r.family.Table), next, id)
			if err != nil {
				return err
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return err
			}

			if r.family.AfterCopy != nil {
				if err := r.family.AfterCopy(tx, id, newID); err != nil {
					return err
				}
			}
			copyIDs = append(copyIDs, newID)
		}

		var err error
		copies, err = r.move(tx, copyIDs, destID, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return copies, nil
}

// Create inserts a new rule appended at the end of its scope (last order
// plus one) and returns the stored row. Column names outside the family's
// writable set are rejected.
func (r *Repository) Create(ctx context.Context, scope Scope, values map[string]any) (models.RuleRow, error) {
	cols, args, err := r.family.writableValues(values)
	if err != nil {
		return models.RuleRow{}, err
	}

	var created models.RuleRow
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		next, err := r.nextOrder(tx, scope)
		if err != nil {
			return err
		}

		insertCols := []string{"firewall", "idgroup", "rule_order"}
		insertArgs := []any{scope.FirewallID, scope.GroupID, next}
		insertCols = append(insertCols, cols...)
		insertArgs = append(insertArgs, args...)

		res, err := tx.Exec(fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			r.family.Table, strings.Join(insertCols, ", "),
			strings.TrimSuffix(strings.Repeat("?,", len(insertArgs)), ",")), insertArgs...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		created, err = r.loadRule(tx, id)
		return err
	})
	if err != nil {
		return models.RuleRow{}, err
	}
	return created, nil
}

// Update sets family-specific columns on a rule and returns the stored row.
// Ordering fields are not updatable through this path.
func (r *Repository) Update(ctx context.Context, id int64, values map[string]any) (models.RuleRow, error) {
	cols, args, err := r.family.writableValues(values)
	if err != nil {
		return models.RuleRow{}, err
	}
	if len(cols) == 0 {
		return models.RuleRow{}, errors.Errorf(errors.KindValidation, "no columns to update")
	}

	var updated models.RuleRow
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.loadRule(tx, id); err != nil {
			return err
		}

		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = ?"
		}
		if _, err := tx.Exec(fmt.Sprintf(
			"UPDATE %s SET %s WHERE id = ?", r.family.Table, strings.Join(sets, ", ")),
			append(args, id)...); err != nil {
			return err
		}

		var err error
		updated, err = r.loadRule(tx, id)
		return err
	})
	if err != nil {
		return models.RuleRow{}, err
	}
	return updated, nil
}

// BulkUpdate applies the same column values to a set of rules in one
// transaction. All rules must exist or nothing changes.
func (r *Repository) BulkUpdate(ctx context.Context, ids []int64, values map[string]any) ([]models.RuleRow, error) {
	if len(ids) == 0 {
		return []models.RuleRow{}, nil
	}
	cols, args, err := r.family.writableValues(values)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Errorf(errors.KindValidation, "no columns to update")
	}

	var updated []models.RuleRow
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := r.loadRules(tx, ids)
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return errors.Errorf(errors.KindNotFound,
				"%s rules not found: expected %d, found %d", r.family.Name, len(ids), len(rows))
		}

		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = ?"
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		stmtArgs := append([]any{}, args...)
		for _, id := range ids {
			stmtArgs = append(stmtArgs, id)
		}
		if _, err := tx.Exec(fmt.Sprintf(
			"UPDATE %s SET %s WHERE id IN (%s)",
			r.family.Table, strings.Join(sets, ", "), placeholders), stmtArgs...); err != nil {
			return err
		}

		updated, err = r.loadRules(tx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// BulkRemove deletes a set of rules in one transaction and renumbers every
// scope the deletions touched.
func (r *Repository) BulkRemove(ctx context.Context, ids []int64) ([]models.RuleRow, error) {
	if len(ids) == 0 {
		return []models.RuleRow{}, nil
	}

	var removed []models.RuleRow
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := r.loadRules(tx, ids)
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return errors.Errorf(errors.KindNotFound,
				"%s rules not found: expected %d, found %d", r.family.Name, len(ids), len(rows))
		}
		removed = rows

		scopes := []Scope{}
		for _, row := range rows {
			sc := Scope{FirewallID: row.FirewallID, GroupID: row.GroupID}
			known := false
			for _, s := range scopes {
				if s.Equal(sc) {
					known = true
					break
				}
			}
			if !known {
				scopes = append(scopes, sc)
			}

			if _, err := tx.Exec(fmt.Sprintf(
				"DELETE FROM %s WHERE id = ?", r.family.Table), row.ID); err != nil {
				return err
			}
		}

		for _, sc := range scopes {
			if err := r.refreshOrders(tx, sc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Remove deletes a rule and renumbers the vacated scope.
func (r *Repository) Remove(ctx context.Context, id int64) (models.RuleRow, error) {
	var removed models.RuleRow
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := r.loadRule(tx, id)
		if err != nil {
			return err
		}
		removed = row

		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.family.Table), id); err != nil {
			return err
		}
		return r.refreshOrders(tx, Scope{FirewallID: row.FirewallID, GroupID: row.GroupID})
	})
	if err != nil {
		return models.RuleRow{}, err
	}
	return removed, nil
}

// RefreshOrders renumbers a scope densely from 1, ordered by the current
// rule_order with id as a deterministic tie break.
func (r *Repository) RefreshOrders(ctx context.Context, scope Scope) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return r.refreshOrders(tx, scope)
	})
}

// GetLastRuleInScope returns the rule with the highest order in a scope, or
// nil if the scope is empty. Used to compute the append position for create.
func (r *Repository) GetLastRuleInScope(ctx context.Context, scope Scope) (*models.RuleRow, error) {
	cond, args := scope.cond()
	row := r.store.DB().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, firewall, idgroup, rule_order FROM %s WHERE %s
		 ORDER BY rule_order DESC, id DESC LIMIT 1`, r.family.Table, cond), args...)

	var rr models.RuleRow
	if err := row.Scan(&rr.ID, &rr.FirewallID, &rr.GroupID, &rr.RuleOrder); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rr, nil
}

// NextOrder returns the append position (last order + 1) for a scope within
// an existing transaction. Used by the create path of the family services.
func (r *Repository) NextOrder(tx *sql.Tx, scope Scope) (int, error) {
	return r.nextOrder(tx, scope)
}

// Store exposes the backing store for family services sharing a transaction.
func (r *Repository) Store() *db.Store {
	return r.store
}

// move is the core reorder algorithm, shared by Move and Copy. It expects to
// run inside a transaction.
//
// The moving set is loaded in current order, the destination scope is
// shifted to vacate the landing interval, the moving rules are assigned
// consecutive orders at the destination and reparented to its group, and
// finally every touched scope is renumbered densely.
func (r *Repository) move(tx *sql.Tx, ids []int64, destID int64, offset policy.Offset) ([]models.RuleRow, error) {
	moving, err := r.loadRules(tx, ids)
	if err != nil {
		return nil, err
	}
	if len(moving) != len(ids) {
		return nil, errors.Errorf(errors.KindNotFound,
			"%s rules not found: expected %d, found %d", r.family.Name, len(ids), len(moving))
	}

	dest, err := r.loadRule(tx, destID)
	if err != nil {
		return nil, err
	}

	srcScope := Scope{FirewallID: moving[0].FirewallID, GroupID: moving[0].GroupID}
	destScope := Scope{FirewallID: dest.FirewallID, GroupID: dest.GroupID}
	sameScope := srcScope.Equal(destScope)

	movingSet := make(map[int64]bool, len(moving))
	for _, m := range moving {
		movingSet[m.ID] = true
	}

	destPos := dest.RuleOrder
	n := len(moving)

	// forward means the set travels down (towards higher orders). For a
	// cross-scope move every destination rule at or past the landing point
	// must make room, which is the backward case with an unbounded interval.
	forward := sameScope && moving[0].RuleOrder < destPos
	upperBound := moving[0].RuleOrder
	if !sameScope {
		upperBound = int(^uint(0) >> 1)
	}

	scopeRules, err := r.loadScope(tx, destScope)
	if err != nil {
		return nil, err
	}

	for _, sr := range scopeRules {
		if movingSet[sr.ID] {
			continue
		}
		var shift bool
		if offset == policy.OffsetAbove {
			if forward {
				shift = sr.RuleOrder >= destPos
			} else {
				shift = sr.RuleOrder >= destPos && sr.RuleOrder < upperBound
			}
		} else {
			if forward {
				shift = sr.RuleOrder > destPos
			} else {
				shift = sr.RuleOrder > destPos && sr.RuleOrder < upperBound
			}
		}
		if shift {
			if _, err := tx.Exec(fmt.Sprintf(
				"UPDATE %s SET rule_order = ? WHERE id = ?", r.family.Table),
				sr.RuleOrder+n, sr.ID); err != nil {
				return nil, err
			}
		}
	}

	base := destPos
	if offset == policy.OffsetBelow {
		base = destPos + 1
	}
	for i, m := range moving {
		if _, err := tx.Exec(fmt.Sprintf(
			"UPDATE %s SET rule_order = ?, idgroup = ? WHERE id = ?", r.family.Table),
			base+i, dest.GroupID, m.ID); err != nil {
			return nil, err
		}
	}

	if err := r.refreshOrders(tx, destScope); err != nil {
		return nil, err
	}
	if !sameScope {
		if err := r.refreshOrders(tx, srcScope); err != nil {
			return nil, err
		}
	}

	return r.loadRules(tx, ids)
}

func (r *Repository) refreshOrders(tx *sql.Tx, scope Scope) error {
	cond, args := scope.cond()
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT id FROM %s WHERE %s ORDER BY rule_order ASC, id ASC`,
		r.family.Table, cond), args...)
	if err != nil {
		return err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for i, id := range ids {
		if _, err := tx.Exec(fmt.Sprintf(
			"UPDATE %s SET rule_order = ? WHERE id = ?", r.family.Table), i+1, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) nextOrder(tx *sql.Tx, scope Scope) (int, error) {
	cond, args := scope.cond()
	var last sql.NullInt64
	err := tx.QueryRow(fmt.Sprintf(
		"SELECT MAX(rule_order) FROM %s WHERE %s", r.family.Table, cond), args...).Scan(&last)
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return 1, nil
	}
	return int(last.Int64) + 1, nil
}

func (r *Repository) loadRule(tx *sql.Tx, id int64) (models.RuleRow, error) {
	var rr models.RuleRow
	err := tx.QueryRow(fmt.Sprintf(
		"SELECT id, firewall, idgroup, rule_order FROM %s WHERE id = ?", r.family.Table), id).
		Scan(&rr.ID, &rr.FirewallID, &rr.GroupID, &rr.RuleOrder)
	if err == sql.ErrNoRows {
		return rr, errors.Errorf(errors.KindNotFound, "%s rule %d not found", r.family.Name, id)
	}
	if err != nil {
		return rr, err
	}
	return rr, nil
}

// loadRules loads the given ids sorted by current rule order ascending.
func (r *Repository) loadRules(tx *sql.Tx, ids []int64) ([]models.RuleRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := tx.Query(fmt.Sprintf(
		`SELECT id, firewall, idgroup, rule_order FROM %s WHERE id IN (%s)
		 ORDER BY rule_order ASC, id ASC`, r.family.Table, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RuleRow
	for rows.Next() {
		var rr models.RuleRow
		if err := rows.Scan(&rr.ID, &rr.FirewallID, &rr.GroupID, &rr.RuleOrder); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func (r *Repository) loadScope(tx *sql.Tx, scope Scope) ([]models.RuleRow, error) {
	cond, args := scope.cond()
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT id, firewall, idgroup, rule_order FROM %s WHERE %s
		 ORDER BY rule_order ASC, id ASC`, r.family.Table, cond), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RuleRow
	for rows.Next() {
		var rr models.RuleRow
		if err := rows.Scan(&rr.ID, &rr.FirewallID, &rr.GroupID, &rr.RuleOrder); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}
