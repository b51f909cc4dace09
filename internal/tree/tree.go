// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tree manages the hierarchical node index that organizes every
// firewall, cluster, object and service of a cloud, and the repair engine
// that restores its structural invariants.
package tree

import (
	"context"
	"database/sql"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/models"
)

// Node type codes.
const (
	NodeFolderFirewalls = "FDF" // FIREWALLS root
	NodeFolderObjects   = "FDO" // OBJECTS root
	NodeFolderServices  = "FDS" // SERVICES root
	NodeFolderCA        = "FCA" // CA root
	NodeFolder          = "FD"  // user folder under FIREWALLS
	NodeFirewall        = "FW"
	NodeCluster         = "CL"
	NodeHost            = "OIH"
	NodeHostInterface   = "IFH"
	NodeAddress         = "OIA"
	NodeAddressRange    = "OIR"
	NodeNetwork         = "OIN"
	NodeObjectGroup     = "OIG"
	NodeMark            = "MRK"
	NodeServiceIP       = "SOI"
	NodeServiceTCP      = "SOT"
	NodeServiceICMP     = "SOM"
	NodeServiceUDP      = "SOU"
	NodeServiceGroup    = "SOG"
	NodePolicyChain     = "PI"
)

// rootSpec identifies one of the four canonical root nodes.
type rootSpec struct {
	Name     string
	NodeType string
}

// RootSpecs are the four distinguished roots every cloud must have, in
// creation order.
var RootSpecs = []rootSpec{
	{"FIREWALLS", NodeFolderFirewalls},
	{"OBJECTS", NodeFolderObjects},
	{"SERVICES", NodeFolderServices},
	{"CA", NodeFolderCA},
}

// Service provides node-level operations on the tree.
type Service struct {
	store  *db.Store
	logger *logging.Logger
}

// NewService creates a tree service.
func NewService(store *db.Store, logger *logging.Logger) *Service {
	return &Service{store: store, logger: logger.WithComponent("tree")}
}

// NewNode inserts a node and returns its id. parentID 0 means root.
func (s *Service) NewNode(ctx context.Context, fwcloudID, parentID int64, name, nodeType string, objID int64, objType int) (int64, error) {
	var parent, obj, otype any
	if parentID > 0 {
		parent = parentID
	}
	if objID > 0 {
		obj = objID
		otype = objType
	}

	res, err := s.store.DB().ExecContext(ctx,
		`INSERT INTO fwc_tree (fwcloud, id_parent, name, node_type, node_order, id_obj, obj_type)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		fwcloudID, parent, name, nodeType, obj, otype)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteSubtree removes a node and all its descendants, walking the tree with
// an explicit worklist so arbitrarily deep (or corrupted) trees cannot blow
// the stack.
func (s *Service) DeleteSubtree(ctx context.Context, fwcloudID, nodeID int64) error {
	worklist := []int64{nodeID}
	var doomed []int64

	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		doomed = append(doomed, id)

		rows, err := s.store.DB().QueryContext(ctx,
			`SELECT id FROM fwc_tree WHERE fwcloud = ? AND id_parent = ?`, fwcloudID, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var child int64
			if err := rows.Scan(&child); err != nil {
				rows.Close()
				return err
			}
			worklist = append(worklist, child)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}

	for _, id := range doomed {
		if _, err := s.store.DB().ExecContext(ctx,
			`DELETE FROM fwc_tree WHERE fwcloud = ? AND id = ?`, fwcloudID, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateRootNodes creates the four canonical roots plus the standard folder
// skeleton of a fresh cloud.
func (s *Service) CreateRootNodes(ctx context.Context, fwcloudID int64) error {
	for _, spec := range RootSpecs {
		rootID, err := s.NewNode(ctx, fwcloudID, 0, spec.Name, spec.NodeType, 0, 0)
		if err != nil {
			return err
		}
		switch spec.NodeType {
		case NodeFolderObjects:
			if err := s.createObjectFolders(ctx, fwcloudID, rootID); err != nil {
				return err
			}
		case NodeFolderServices:
			if err := s.createServiceFolders(ctx, fwcloudID, rootID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) createObjectFolders(ctx context.Context, fwcloudID, parentID int64) error {
	folders := []struct {
		name     string
		nodeType string
		objType  int
	}{
		{"Addresses", NodeAddress, models.TypeAddress},
		{"Address Ranges", NodeAddressRange, models.TypeAddressRange},
		{"Networks", NodeNetwork, models.TypeNetwork},
		{"Hosts", NodeHost, models.TypeHost},
		{"Marks", NodeMark, models.TypeMark},
		{"Groups", NodeObjectGroup, models.TypeGroupObjects},
	}
	for _, f := range folders {
		// Folder nodes carry the object type they hold but reference no object.
		if _, err := s.store.DB().ExecContext(ctx,
			`INSERT INTO fwc_tree (fwcloud, id_parent, name, node_type, node_order, obj_type)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			fwcloudID, parentID, f.name, f.nodeType, f.objType); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createServiceFolders(ctx context.Context, fwcloudID, parentID int64) error {
	folders := []struct {
		name     string
		nodeType string
		objType  int
	}{
		{"IP", NodeServiceIP, models.TypeIP},
		{"TCP", NodeServiceTCP, models.TypeTCP},
		{"ICMP", NodeServiceICMP, models.TypeICMP},
		{"UDP", NodeServiceUDP, models.TypeUDP},
		{"Groups", NodeServiceGroup, models.TypeGroupServices},
	}
	for _, f := range folders {
		if _, err := s.store.DB().ExecContext(ctx,
			`INSERT INTO fwc_tree (fwcloud, id_parent, name, node_type, node_order, obj_type)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			fwcloudID, parentID, f.name, f.nodeType, f.objType); err != nil {
			return err
		}
	}
	return nil
}

// CreateFirewallNode creates the tree entry of a firewall under the given
// parent, with one child node per policy chain.
func (s *Service) CreateFirewallNode(ctx context.Context, fwcloudID, parentID, firewallID int64) (int64, error) {
	var name string
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT name FROM firewall WHERE id = ?`, firewallID).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, errors.Errorf(errors.KindNotFound, "firewall %d not found", firewallID)
	}
	if err != nil {
		return 0, err
	}

	fwNode, err := s.NewNode(ctx, fwcloudID, parentID, name, NodeFirewall, firewallID, models.TypeFirewall)
	if err != nil {
		return 0, err
	}
	for _, chain := range []string{"INPUT", "OUTPUT", "FORWARD", "SNAT", "DNAT"} {
		if _, err := s.NewNode(ctx, fwcloudID, fwNode, chain, NodePolicyChain, 0, 0); err != nil {
			return 0, err
		}
	}
	return fwNode, nil
}

// CreateClusterNode creates the tree entry of a cluster under the given
// parent, with the cluster master's chain nodes below it.
func (s *Service) CreateClusterNode(ctx context.Context, fwcloudID, parentID, clusterID int64) (int64, error) {
	var name string
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT name FROM cluster WHERE id = ?`, clusterID).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, errors.Errorf(errors.KindNotFound, "cluster %d not found", clusterID)
	}
	if err != nil {
		return 0, err
	}

	clNode, err := s.NewNode(ctx, fwcloudID, parentID, name, NodeCluster, clusterID, models.TypeCluster)
	if err != nil {
		return 0, err
	}

	var masterID int64
	err = s.store.DB().QueryRowContext(ctx,
		`SELECT id FROM firewall WHERE cluster = ? AND fwmaster = 1`, clusterID).Scan(&masterID)
	if err == sql.ErrNoRows {
		return clNode, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := s.CreateFirewallNode(ctx, fwcloudID, clNode, masterID); err != nil {
		return 0, err
	}
	return clNode, nil
}

// CreateHostNode creates the tree entry of a host object with its interface
// sub-tree.
func (s *Service) CreateHostNode(ctx context.Context, fwcloudID, parentID, hostID int64) (int64, error) {
	var name string
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT name FROM ipobj WHERE id = ? AND type = ?`, hostID, models.TypeHost).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, errors.Errorf(errors.KindNotFound, "host object %d not found", hostID)
	}
	if err != nil {
		return 0, err
	}

	hostNode, err := s.NewNode(ctx, fwcloudID, parentID, name, NodeHost, hostID, models.TypeHost)
	if err != nil {
		return 0, err
	}

	ifaceRows, err := s.store.DB().QueryContext(ctx,
		`SELECT i.id, i.name FROM interface i
		 JOIN interface__ipobj ii ON ii.interface = i.id
		 WHERE ii.ipobj = ?
		 ORDER BY ii.interface_order ASC, i.id ASC`, hostID)
	if err != nil {
		return 0, err
	}
	defer ifaceRows.Close()

	for ifaceRows.Next() {
		var ifaceID int64
		var ifaceName string
		if err := ifaceRows.Scan(&ifaceID, &ifaceName); err != nil {
			return 0, err
		}
		ifaceNode, err := s.NewNode(ctx, fwcloudID, hostNode, ifaceName, NodeHostInterface,
			ifaceID, models.TypeInterfaceHost)
		if err != nil {
			return 0, err
		}
		if err := s.createInterfaceAddressNodes(ctx, fwcloudID, ifaceNode, ifaceID); err != nil {
			return 0, err
		}
	}
	return hostNode, ifaceRows.Err()
}

func (s *Service) createInterfaceAddressNodes(ctx context.Context, fwcloudID, parentID, ifaceID int64) error {
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT id, name FROM ipobj WHERE interface = ? AND type = ? ORDER BY id ASC`,
		ifaceID, models.TypeAddress)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if _, err := s.NewNode(ctx, fwcloudID, parentID, name, NodeAddress,
			id, models.TypeAddress); err != nil {
			return err
		}
	}
	return rows.Err()
}
