// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tree

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

// maxAncestryDepth bounds the ancestor walk. A tree deeper than this is
// treated as corrupted.
const maxAncestryDepth = 100

// Repair restores the structural invariants of a cloud's node tree. All
// phases are idempotent: running them again on a repaired tree changes
// nothing. Individual inconsistencies are corrected and reported, never
// raised; only an unrecoverable precondition (missing canonical roots) fails
// a phase.
type Repair struct {
	store     *db.Store
	svc       *Service
	logger    *logging.Logger
	fwcloudID int64
}

// NewRepair creates a repair engine bound to one cloud.
func NewRepair(store *db.Store, svc *Service, logger *logging.Logger, fwcloudID int64) *Repair {
	return &Repair{
		store:     store,
		svc:       svc,
		logger:    logger.WithComponent("tree-repair"),
		fwcloudID: fwcloudID,
	}
}

// Run executes every repair phase in the documented order.
func (r *Repair) Run(ctx context.Context, sink events.Sink) error {
	roots, err := r.CheckRootNodes(ctx, sink)
	if err != nil {
		return err
	}
	if err := r.CheckNotRootNodes(ctx, roots, sink); err != nil {
		return err
	}

	var fdf, fdo, fds models.TreeNode
	for _, root := range roots {
		switch root.NodeType {
		case NodeFolderFirewalls:
			fdf = root
		case NodeFolderObjects:
			fdo = root
		case NodeFolderServices:
			fds = root
		}
	}

	if err := r.CheckFirewallsInTree(ctx, fdf, sink); err != nil {
		return err
	}
	if err := r.CheckClustersInTree(ctx, fdf, sink); err != nil {
		return err
	}
	if err := r.CheckFirewallsFoldersContent(ctx, fdf, sink); err != nil {
		return err
	}
	if err := r.CheckHostObjects(ctx, fdo, sink); err != nil {
		return err
	}

	objectRegens := []struct {
		nodeType string
		objType  int
	}{
		{NodeAddress, models.TypeAddress},
		{NodeAddressRange, models.TypeAddressRange},
		{NodeNetwork, models.TypeNetwork},
		{NodeMark, models.TypeMark},
	}
	for _, regen := range objectRegens {
		if err := r.CheckNonStdIPObj(ctx, fdo, regen.nodeType, regen.objType, sink); err != nil {
			return err
		}
	}
	if err := r.CheckNonStdIPObjGroup(ctx, fdo, NodeObjectGroup, models.TypeGroupObjects, sink); err != nil {
		return err
	}
	if err := r.CheckNonStdIPObjGroup(ctx, fds, NodeServiceGroup, models.TypeGroupServices, sink); err != nil {
		return err
	}

	return r.DeleteOrphanNodes(ctx, sink)
}

// CheckRootNodes verifies the four canonical roots. Unrecognized root nodes
// are deleted with their subtrees; stray object references on roots are
// nulled. A missing canonical root is unrecoverable and fails the phase.
func (r *Repair) CheckRootNodes(ctx context.Context, sink events.Sink) ([]models.TreeNode, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, name, node_type, id_obj, obj_type FROM fwc_tree
		 WHERE fwcloud = ? AND id_parent IS NULL`, r.fwcloudID)
	if err != nil {
		return nil, err
	}

	var nodes []models.TreeNode
	for rows.Next() {
		n := models.TreeNode{FwCloudID: r.fwcloudID}
		if err := rows.Scan(&n.ID, &n.Name, &n.NodeType, &n.ObjID, &n.ObjType); err != nil {
			rows.Close()
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	found := make(map[string]bool, len(RootSpecs))
	updateObjToNull := false
	var roots []models.TreeNode

	for _, n := range nodes {
		recognized := false
		for _, spec := range RootSpecs {
			if n.Name == spec.Name && n.NodeType == spec.NodeType {
				notice(sink, fmt.Sprintf("Root node found: %d \n", n.ID))
				found[spec.NodeType] = true
				recognized = true
				break
			}
		}
		if !recognized {
			notice(sink, fmt.Sprintf("Deleting invalid root node: %d\n", n.ID))
			if err := r.svc.DeleteSubtree(ctx, r.fwcloudID, n.ID); err != nil {
				return nil, err
			}
			continue
		}

		if n.ObjID.Valid || n.ObjType.Valid {
			n.ObjID, n.ObjType = sql.NullInt64{}, sql.NullInt64{}
			updateObjToNull = true
		}
		roots = append(roots, n)
	}

	for _, spec := range RootSpecs {
		if !found[spec.NodeType] {
			return nil, errors.Errorf(errors.KindInternal,
				"root node %s (%s) not found in fwcloud %d", spec.Name, spec.NodeType, r.fwcloudID)
		}
	}

	if updateObjToNull {
		notice(sink, "Repairing root nodes (setting id_obj and obj_type to null).\n")
		if _, err := r.store.DB().ExecContext(ctx,
			`UPDATE fwc_tree SET id_obj = NULL, obj_type = NULL
			 WHERE fwcloud = ? AND id_parent IS NULL`, r.fwcloudID); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// CheckNotRootNodes walks every non-root node's ancestor chain and deletes
// nodes whose chain is cyclic, too deep, dangling, or does not end at one of
// the canonical roots.
func (r *Repair) CheckNotRootNodes(ctx context.Context, roots []models.TreeNode, sink events.Sink) error {
	rootSet := make(map[int64]bool, len(roots))
	for _, root := range roots {
		rootSet[root.ID] = true
	}

	parents, err := r.loadParentMap(ctx)
	if err != nil {
		return err
	}

	for id, parent := range parents {
		if !parent.Valid {
			continue
		}

		lastAncestor := id
		ancestor := id
		depth := 0
		doomedReason := ""

		for {
			p, exists := parents[ancestor]
			if !exists {
				doomedReason = fmt.Sprintf("Ancestor not found, deleting node: %d\n", id)
				break
			}
			if !p.Valid {
				// Reached a root.
				lastAncestor = ancestor
				break
			}
			lastAncestor = ancestor
			ancestor = p.Int64

			if ancestor == id {
				doomedReason = fmt.Sprintf("Deleting node in a loop: %d\n", id)
				break
			}
			if depth++; depth > maxAncestryDepth {
				doomedReason = fmt.Sprintf("Deleting a too much deep node: %d\n", id)
				break
			}
		}

		if doomedReason == "" && !rootSet[lastAncestor] && !rootSet[ancestor] {
			doomedReason = fmt.Sprintf("Root node for this node is not correct. Deleting node: %d\n", id)
		}
		if doomedReason != "" {
			notice(sink, doomedReason)
			if err := r.svc.DeleteSubtree(ctx, r.fwcloudID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckFirewallsInTree regenerates the tree node of every standalone
// firewall and repairs the special rules its options imply.
func (r *Repair) CheckFirewallsInTree(ctx context.Context, rootNode models.TreeNode, sink events.Sink) error {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, name, options FROM firewall WHERE cluster IS NULL AND fwcloud = ?`, r.fwcloudID)
	if err != nil {
		return err
	}

	type fwRow struct {
		id      int64
		name    string
		options int
	}
	var firewalls []fwRow
	for rows.Next() {
		var fw fwRow
		if err := rows.Scan(&fw.id, &fw.name, &fw.options); err != nil {
			rows.Close()
			return err
		}
		firewalls = append(firewalls, fw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, fw := range firewalls {
		if err := r.regenerateEntityNode(ctx, rootNode, NodeFirewall, fw.id, fw.name, sink); err != nil {
			return err
		}
		if err := r.CheckSpecialRules(ctx, fw.id, fw.options); err != nil {
			return err
		}
	}
	return nil
}

// CheckClustersInTree regenerates the tree node of every cluster that has a
// master firewall and repairs the master's special rules.
func (r *Repair) CheckClustersInTree(ctx context.Context, rootNode models.TreeNode, sink events.Sink) error {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT c.id, c.name, f.id, f.options FROM cluster c
		 JOIN firewall f ON f.cluster = c.id
		 WHERE c.fwcloud = ? AND f.fwmaster = 1`, r.fwcloudID)
	if err != nil {
		return err
	}

	type clRow struct {
		id, masterID int64
		name         string
		options      int
	}
	var clusters []clRow
	for rows.Next() {
		var cl clRow
		if err := rows.Scan(&cl.id, &cl.name, &cl.masterID, &cl.options); err != nil {
			rows.Close()
			return err
		}
		clusters = append(clusters, cl)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, cl := range clusters {
		if err := r.regenerateEntityNode(ctx, rootNode, NodeCluster, cl.id, cl.name, sink); err != nil {
			return err
		}
		if err := r.CheckSpecialRules(ctx, cl.masterID, cl.options); err != nil {
			return err
		}
	}
	return nil
}

// regenerateEntityNode locates the tree node(s) referencing an entity,
// removes them and rebuilds a fresh one. When exactly one node existed under
// a folder, the rebuild keeps that parent; otherwise it lands under the root.
func (r *Repair) regenerateEntityNode(ctx context.Context, rootNode models.TreeNode, nodeType string, objID int64, name string, sink events.Sink) error {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT t1.id, t1.id_parent, t2.node_type FROM fwc_tree t1
		 JOIN fwc_tree t2 ON t2.id = t1.id_parent
		 WHERE t1.fwcloud = ? AND t1.id_obj = ? AND t1.node_type = ?`,
		r.fwcloudID, objID, nodeType)
	if err != nil {
		return err
	}

	type nodeRow struct {
		id, parent     int64
		parentNodeType string
	}
	var nodes []nodeRow
	for rows.Next() {
		var n nodeRow
		if err := rows.Scan(&n.id, &n.parent, &n.parentNodeType); err != nil {
			rows.Close()
			return err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	parentID := rootNode.ID
	switch {
	case len(nodes) == 0:
		notice(sink, fmt.Sprintf("No node found for %s: %d (%s)\n", nodeType, objID, name))
	case len(nodes) == 1:
		if nodes[0].parentNodeType == NodeFolderFirewalls || nodes[0].parentNodeType == NodeFolder {
			parentID = nodes[0].parent
		}
	default:
		notice(sink, fmt.Sprintf("Found several nodes for %s: %d (%s)\n", nodeType, objID, name))
	}

	for _, n := range nodes {
		if err := r.svc.DeleteSubtree(ctx, r.fwcloudID, n.id); err != nil {
			return err
		}
	}

	notice(sink, fmt.Sprintf("Regenerating tree for %s: %d \n", nodeType, objID))
	if nodeType == NodeCluster {
		_, err = r.svc.CreateClusterNode(ctx, r.fwcloudID, parentID, objID)
	} else {
		_, err = r.svc.CreateFirewallNode(ctx, r.fwcloudID, parentID, objID)
	}
	return err
}

// CheckSpecialRules repairs the implicit rules a firewall's options imply:
// a stateful firewall carries one stateful special rule per filter chain, a
// stateless one carries none, and every filter chain ends with a catch-all
// special rule.
func (r *Repair) CheckSpecialRules(ctx context.Context, firewallID int64, options int) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		stateful := options&models.FwOptionStateful != 0

		for _, ruleType := range []int{models.PolicyTypeInput, models.PolicyTypeOutput, models.PolicyTypeForward} {
			if stateful {
				var n int
				if err := tx.QueryRow(
					`SELECT COUNT(*) FROM policy_r WHERE firewall = ? AND type = ? AND special = ?`,
					firewallID, ruleType, models.PolicySpecialStateful).Scan(&n); err != nil {
					return err
				}
				if n == 0 {
					// Stateful rules go in front; shift the chain down.
					if _, err := tx.Exec(
						`UPDATE policy_r SET rule_order = rule_order + 1 WHERE firewall = ? AND type = ? AND idgroup IS NULL`,
						firewallID, ruleType); err != nil {
						return err
					}
					if _, err := tx.Exec(
						`INSERT INTO policy_r (firewall, rule_order, type, action, active, special, comment)
						 VALUES (?, 1, ?, ?, 1, ?, 'Stateful firewall rule.')`,
						firewallID, ruleType, models.ActionAccept, models.PolicySpecialStateful); err != nil {
						return err
					}
				}
			} else {
				if _, err := tx.Exec(
					`DELETE FROM policy_r WHERE firewall = ? AND type = ? AND special = ?`,
					firewallID, ruleType, models.PolicySpecialStateful); err != nil {
					return err
				}
			}

			var n int
			if err := tx.QueryRow(
				`SELECT COUNT(*) FROM policy_r WHERE firewall = ? AND type = ? AND special = ?`,
				firewallID, ruleType, models.PolicySpecialCatchAll).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				var last sql.NullInt64
				if err := tx.QueryRow(
					`SELECT MAX(rule_order) FROM policy_r WHERE firewall = ? AND type = ? AND idgroup IS NULL`,
					firewallID, ruleType).Scan(&last); err != nil {
					return err
				}
				if _, err := tx.Exec(
					`INSERT INTO policy_r (firewall, rule_order, type, action, active, special, comment)
					 VALUES (?, ?, ?, ?, 1, ?, 'Catch-All rule.')`,
					firewallID, last.Int64+1, ruleType, models.ActionDeny, models.PolicySpecialCatchAll); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CheckFirewallsFoldersContent prunes anything inside the firewalls folder
// hierarchy that is not a folder, firewall or cluster, validates the entity
// references of firewall and cluster nodes, and recurses into sub-folders
// with an explicit worklist.
func (r *Repair) CheckFirewallsFoldersContent(ctx context.Context, rootNode models.TreeNode, sink events.Sink) error {
	worklist := []int64{rootNode.ID}

	for len(worklist) > 0 {
		folderID := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		rows, err := r.store.DB().QueryContext(ctx,
			`SELECT id, node_type, id_obj, obj_type FROM fwc_tree
			 WHERE fwcloud = ? AND id_parent = ?`, r.fwcloudID, folderID)
		if err != nil {
			return err
		}

		var children []models.TreeNode
		for rows.Next() {
			n := models.TreeNode{FwCloudID: r.fwcloudID}
			if err := rows.Scan(&n.ID, &n.NodeType, &n.ObjID, &n.ObjType); err != nil {
				rows.Close()
				return err
			}
			children = append(children, n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, n := range children {
			switch n.NodeType {
			case NodeFolder:
				notice(sink, fmt.Sprintf("Checking folder node: %d \n", n.ID))
				worklist = append(worklist, n.ID)
			case NodeFirewall, NodeCluster:
				if err := r.checkEntityNode(ctx, n, sink); err != nil {
					return err
				}
			default:
				notice(sink, fmt.Sprintf("This node type can not be into a folder. Deleting it: %d\n", n.ID))
				if err := r.svc.DeleteSubtree(ctx, r.fwcloudID, n.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkEntityNode verifies that a firewall or cluster node carries the right
// object type and references a live entity; it is deleted otherwise.
func (r *Repair) checkEntityNode(ctx context.Context, n models.TreeNode, sink events.Sink) error {
	var wantObjType int64
	var query string
	switch n.NodeType {
	case NodeFirewall:
		wantObjType = models.TypeFirewall
		query = `SELECT COUNT(*) FROM firewall WHERE fwcloud = ? AND id = ? AND cluster IS NULL`
	case NodeCluster:
		wantObjType = models.TypeCluster
		query = `SELECT COUNT(*) FROM cluster WHERE fwcloud = ? AND id = ?`
	default:
		return nil
	}

	if !n.ObjType.Valid || n.ObjType.Int64 != wantObjType {
		notice(sink, fmt.Sprintf("Deleting node with bad obj_type: %d\n", n.ID))
		return r.svc.DeleteSubtree(ctx, r.fwcloudID, n.ID)
	}

	var count int
	if err := r.store.DB().QueryRowContext(ctx, query, r.fwcloudID, n.ObjID.Int64).Scan(&count); err != nil {
		return err
	}
	if count != 1 {
		notice(sink, fmt.Sprintf("Referenced object not found. Deleting node: %d\n", n.ID))
		return r.svc.DeleteSubtree(ctx, r.fwcloudID, n.ID)
	}
	return nil
}

// CheckHostObjects requires exactly one canonical Hosts node under the
// objects root, clears it and regenerates every host with its interface
// sub-tree from the live object table.
func (r *Repair) CheckHostObjects(ctx context.Context, rootNode models.TreeNode, sink events.Sink) error {
	var hostsNodeID int64
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id FROM fwc_tree
		 WHERE fwcloud = ? AND id_parent = ? AND node_type = ? AND id_obj IS NULL AND obj_type = ?`,
		r.fwcloudID, rootNode.ID, NodeHost, models.TypeHost)
	if err != nil {
		return err
	}
	count := 0
	for rows.Next() {
		if err := rows.Scan(&hostsNodeID); err != nil {
			rows.Close()
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if count != 1 {
		return errors.Errorf(errors.KindInternal,
			"hosts node not found in fwcloud %d", r.fwcloudID)
	}

	if err := r.clearChildren(ctx, hostsNodeID); err != nil {
		return err
	}

	hostRows, err := r.store.DB().QueryContext(ctx,
		`SELECT id FROM ipobj WHERE fwcloud = ? AND type = ? ORDER BY id ASC`,
		r.fwcloudID, models.TypeHost)
	if err != nil {
		return err
	}

	var hosts []int64
	for hostRows.Next() {
		var id int64
		if err := hostRows.Scan(&id); err != nil {
			hostRows.Close()
			return err
		}
		hosts = append(hosts, id)
	}
	if err := hostRows.Err(); err != nil {
		hostRows.Close()
		return err
	}
	hostRows.Close()

	for _, hostID := range hosts {
		if _, err := r.svc.CreateHostNode(ctx, r.fwcloudID, hostsNodeID, hostID); err != nil {
			return err
		}
	}
	return nil
}

// CheckNonStdIPObj regenerates the leaf nodes of one object type under its
// standard folder. Addresses that are VPN endpoint artifacts are skipped so
// they are not represented twice.
func (r *Repair) CheckNonStdIPObj(ctx context.Context, rootNode models.TreeNode, nodeType string, objType int, sink events.Sink) error {
	folderID, err := r.standardFolder(ctx, rootNode.ID, nodeType, objType)
	if err != nil {
		return err
	}
	if err := r.clearChildren(ctx, folderID); err != nil {
		return err
	}

	var query string
	if objType == models.TypeMark {
		query = `SELECT id, name FROM mark WHERE fwcloud = ? ORDER BY id ASC`
	} else {
		query = fmt.Sprintf(
			`SELECT id, name FROM ipobj WHERE fwcloud = ? AND type = %d AND interface IS NULL ORDER BY id ASC`,
			objType)
	}

	rows, err := r.store.DB().QueryContext(ctx, query, r.fwcloudID)
	if err != nil {
		return err
	}

	type objRow struct {
		id   int64
		name string
	}
	var objs []objRow
	for rows.Next() {
		var o objRow
		if err := rows.Scan(&o.id, &o.name); err != nil {
			rows.Close()
			return err
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, o := range objs {
		if objType == models.TypeAddress {
			isVPN, err := r.isVPNEndpointAddress(ctx, o.id)
			if err != nil {
				return err
			}
			if isVPN {
				continue
			}
		}
		if _, err := r.svc.NewNode(ctx, r.fwcloudID, folderID, o.name, nodeType, o.id, objType); err != nil {
			return err
		}
	}
	return nil
}

// CheckNonStdIPObjGroup regenerates group nodes and their member leaves
// under the standard groups folder.
func (r *Repair) CheckNonStdIPObjGroup(ctx context.Context, rootNode models.TreeNode, nodeType string, groupType int, sink events.Sink) error {
	folderID, err := r.standardFolder(ctx, rootNode.ID, nodeType, groupType)
	if err != nil {
		return err
	}
	if err := r.clearChildren(ctx, folderID); err != nil {
		return err
	}

	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, name FROM ipobj_g WHERE fwcloud = ? AND type = ? ORDER BY id ASC`,
		r.fwcloudID, groupType)
	if err != nil {
		return err
	}

	type groupRow struct {
		id   int64
		name string
	}
	var groups []groupRow
	for rows.Next() {
		var g groupRow
		if err := rows.Scan(&g.id, &g.name); err != nil {
			rows.Close()
			return err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, g := range groups {
		groupNodeID, err := r.svc.NewNode(ctx, r.fwcloudID, folderID, g.name, nodeType, g.id, groupType)
		if err != nil {
			return err
		}
		if err := r.createGroupMemberNodes(ctx, groupNodeID, g.id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteOrphanNodes removes nodes whose parent reference points nowhere.
func (r *Repair) DeleteOrphanNodes(ctx context.Context, sink events.Sink) error {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id FROM fwc_tree
		 WHERE fwcloud = ? AND id_parent IS NOT NULL
		   AND id_parent NOT IN (SELECT id FROM fwc_tree)`, r.fwcloudID)
	if err != nil {
		return err
	}

	var orphans []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		orphans = append(orphans, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(orphans) == 0 {
		return nil
	}

	notice(sink, fmt.Sprintf("Removing %d orphan nodes.\n", len(orphans)))
	for _, id := range orphans {
		if err := r.svc.DeleteSubtree(ctx, r.fwcloudID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repair) loadParentMap(ctx context.Context) (map[int64]sql.NullInt64, error) {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, id_parent FROM fwc_tree WHERE fwcloud = ?`, r.fwcloudID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parents := make(map[int64]sql.NullInt64)
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		parents[id] = parent
	}
	return parents, rows.Err()
}

// standardFolder finds the folder node holding one object type under a root,
// creating it when missing.
func (r *Repair) standardFolder(ctx context.Context, rootID int64, nodeType string, objType int) (int64, error) {
	var id int64
	err := r.store.DB().QueryRowContext(ctx,
		`SELECT id FROM fwc_tree
		 WHERE fwcloud = ? AND id_parent = ? AND node_type = ? AND id_obj IS NULL
		 ORDER BY id ASC LIMIT 1`, r.fwcloudID, rootID, nodeType).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := r.store.DB().ExecContext(ctx,
			`INSERT INTO fwc_tree (fwcloud, id_parent, name, node_type, node_order, obj_type)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			r.fwcloudID, rootID, folderName(nodeType), nodeType, objType)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func folderName(nodeType string) string {
	switch nodeType {
	case NodeAddress:
		return "Addresses"
	case NodeAddressRange:
		return "Address Ranges"
	case NodeNetwork:
		return "Networks"
	case NodeMark:
		return "Marks"
	case NodeObjectGroup, NodeServiceGroup:
		return "Groups"
	default:
		return nodeType
	}
}

func (r *Repair) clearChildren(ctx context.Context, nodeID int64) error {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id FROM fwc_tree WHERE fwcloud = ? AND id_parent = ?`, r.fwcloudID, nodeID)
	if err != nil {
		return err
	}

	var children []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		children = append(children, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range children {
		if err := r.svc.DeleteSubtree(ctx, r.fwcloudID, id); err != nil {
			return err
		}
	}
	return nil
}

// isVPNEndpointAddress reports whether an address object exists only as an
// OpenVPN endpoint push option.
func (r *Repair) isVPNEndpointAddress(ctx context.Context, ipobjID int64) (bool, error) {
	var count int
	err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM openvpn_opt WHERE ipobj = ? AND name = 'ifconfig-push'`,
		ipobjID).Scan(&count)
	return count > 0, err
}

func (r *Repair) createGroupMemberNodes(ctx context.Context, groupNodeID, groupID int64) error {
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT o.id, o.name, o.type FROM ipobj o
		 JOIN ipobj_g__ipobj gi ON gi.id_ipobj = o.id
		 WHERE gi.id_gi = ? ORDER BY o.id ASC`, groupID)
	if err != nil {
		return err
	}

	type memberRow struct {
		id      int64
		name    string
		objType int
	}
	var members []memberRow
	for rows.Next() {
		var m memberRow
		if err := rows.Scan(&m.id, &m.name, &m.objType); err != nil {
			rows.Close()
			return err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range members {
		if _, err := r.svc.NewNode(ctx, r.fwcloudID, groupNodeID, m.name,
			memberNodeType(m.objType), m.id, m.objType); err != nil {
			return err
		}
	}
	return nil
}

func memberNodeType(objType int) string {
	switch objType {
	case models.TypeAddress:
		return NodeAddress
	case models.TypeAddressRange:
		return NodeAddressRange
	case models.TypeNetwork:
		return NodeNetwork
	case models.TypeHost:
		return NodeHost
	case models.TypeIP:
		return NodeServiceIP
	case models.TypeTCP:
		return NodeServiceTCP
	case models.TypeICMP:
		return NodeServiceICMP
	case models.TypeUDP:
		return NodeServiceUDP
	case models.TypeMark:
		return NodeMark
	default:
		return NodeAddress
	}
}

func notice(sink events.Sink, message string) {
	if sink != nil {
		sink.Notice(message)
	}
}
