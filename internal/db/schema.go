// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package db

// Schema for the fwcloud entity graph. Every rule family table carries the
// same ordering columns (firewall, idgroup, rule_order) so the generic
// ordering engine can operate on any of them.
const schema = `
CREATE TABLE IF NOT EXISTS fwcloud (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cluster (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	fwcloud INTEGER NOT NULL REFERENCES fwcloud(id),
	name    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS firewall (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	fwcloud  INTEGER NOT NULL REFERENCES fwcloud(id),
	cluster  INTEGER REFERENCES cluster(id),
	fwmaster INTEGER NOT NULL DEFAULT 0,
	name     TEXT NOT NULL,
	-- Bit 0x0001: stateful firewall.
	options  INTEGER NOT NULL DEFAULT 0,
	-- Bit 0x0001: policy needs compile. Cleared only on full compile success.
	status   INTEGER NOT NULL DEFAULT 1,
	ip       TEXT,
	install_port INTEGER NOT NULL DEFAULT 22
);

CREATE TABLE IF NOT EXISTS interface (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall INTEGER REFERENCES firewall(id),
	name     TEXT NOT NULL,
	labelName TEXT
);

CREATE TABLE IF NOT EXISTS ipobj (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fwcloud     INTEGER REFERENCES fwcloud(id),
	interface   INTEGER REFERENCES interface(id),
	type        INTEGER NOT NULL,
	name        TEXT NOT NULL,
	address     TEXT,
	netmask     TEXT,
	range_start TEXT,
	range_end   TEXT,
	protocol    INTEGER,
	source_port_start INTEGER,
	source_port_end   INTEGER,
	destination_port_start INTEGER,
	destination_port_end   INTEGER,
	icmp_type   INTEGER,
	icmp_code   INTEGER
);

CREATE TABLE IF NOT EXISTS interface__ipobj (
	interface INTEGER NOT NULL REFERENCES interface(id) ON DELETE CASCADE,
	ipobj     INTEGER NOT NULL REFERENCES ipobj(id) ON DELETE CASCADE,
	interface_order INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (interface, ipobj)
);

CREATE TABLE IF NOT EXISTS ipobj_g (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	fwcloud INTEGER NOT NULL REFERENCES fwcloud(id),
	type    INTEGER NOT NULL,
	name    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ipobj_g__ipobj (
	id_gi   INTEGER NOT NULL REFERENCES ipobj_g(id) ON DELETE CASCADE,
	id_ipobj INTEGER NOT NULL REFERENCES ipobj(id) ON DELETE CASCADE,
	PRIMARY KEY (id_gi, id_ipobj)
);

CREATE TABLE IF NOT EXISTS mark (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	fwcloud INTEGER NOT NULL REFERENCES fwcloud(id),
	code    INTEGER NOT NULL,
	name    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS openvpn_opt (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	openvpn INTEGER,
	ipobj   INTEGER REFERENCES ipobj(id),
	name    TEXT NOT NULL,
	arg     TEXT
);

CREATE TABLE IF NOT EXISTS fwc_tree (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	fwcloud    INTEGER NOT NULL REFERENCES fwcloud(id),
	id_parent  INTEGER,
	name       TEXT NOT NULL,
	node_type  TEXT NOT NULL,
	node_order INTEGER NOT NULL DEFAULT 0,
	id_obj     INTEGER,
	obj_type   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_fwc_tree_parent ON fwc_tree(id_parent);
CREATE INDEX IF NOT EXISTS idx_fwc_tree_obj ON fwc_tree(id_obj, node_type);

CREATE TABLE IF NOT EXISTS policy_g (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall INTEGER NOT NULL REFERENCES firewall(id),
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_r (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall   INTEGER NOT NULL REFERENCES firewall(id),
	idgroup    INTEGER REFERENCES policy_g(id),
	rule_order INTEGER NOT NULL,
	-- 1=INPUT 2=OUTPUT 3=FORWARD 4=SNAT 5=DNAT
	type       INTEGER NOT NULL,
	action     INTEGER NOT NULL DEFAULT 1,
	active     INTEGER NOT NULL DEFAULT 1,
	options    INTEGER NOT NULL DEFAULT 0,
	style      TEXT,
	comment    TEXT,
	-- Special rules (stateful catch-all) are flagged so the repair engine can
	-- regenerate them from firewall options.
	special    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_policy_r_scope ON policy_r(firewall, idgroup, rule_order);

CREATE TABLE IF NOT EXISTS policy_r__ipobj (
	rule           INTEGER NOT NULL REFERENCES policy_r(id) ON DELETE CASCADE,
	ipobj          INTEGER REFERENCES ipobj(id),
	ipobj_g        INTEGER REFERENCES ipobj_g(id),
	interface      INTEGER REFERENCES interface(id),
	mark           INTEGER REFERENCES mark(id),
	position       INTEGER NOT NULL,
	position_order INTEGER NOT NULL DEFAULT 1,
	negate         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_policy_r__ipobj_rule ON policy_r__ipobj(rule, position, position_order);

CREATE TABLE IF NOT EXISTS routing_g (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall INTEGER NOT NULL REFERENCES firewall(id),
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_r (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall   INTEGER NOT NULL REFERENCES firewall(id),
	idgroup    INTEGER REFERENCES routing_g(id),
	rule_order INTEGER NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	gateway    INTEGER REFERENCES ipobj(id),
	comment    TEXT
);
CREATE INDEX IF NOT EXISTS idx_routing_r_scope ON routing_r(firewall, idgroup, rule_order);

CREATE TABLE IF NOT EXISTS dhcp_g (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall INTEGER NOT NULL REFERENCES firewall(id),
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dhcp_r (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall   INTEGER NOT NULL REFERENCES firewall(id),
	idgroup    INTEGER REFERENCES dhcp_g(id),
	rule_order INTEGER NOT NULL,
	rule_type  INTEGER NOT NULL DEFAULT 1,
	active     INTEGER NOT NULL DEFAULT 1,
	network    INTEGER REFERENCES ipobj(id),
	range      INTEGER REFERENCES ipobj(id),
	router     INTEGER REFERENCES ipobj(id),
	interface  INTEGER REFERENCES interface(id),
	max_lease  INTEGER NOT NULL DEFAULT 86400,
	comment    TEXT
);
CREATE INDEX IF NOT EXISTS idx_dhcp_r_scope ON dhcp_r(firewall, idgroup, rule_order);

CREATE TABLE IF NOT EXISTS haproxy_g (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall INTEGER NOT NULL REFERENCES firewall(id),
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS haproxy_r (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall      INTEGER NOT NULL REFERENCES firewall(id),
	idgroup       INTEGER REFERENCES haproxy_g(id),
	rule_order    INTEGER NOT NULL,
	rule_type     INTEGER NOT NULL DEFAULT 1,
	active        INTEGER NOT NULL DEFAULT 1,
	style         TEXT,
	frontend_ip   INTEGER REFERENCES ipobj(id),
	frontend_port INTEGER REFERENCES ipobj(id),
	backend_ip    INTEGER REFERENCES ipobj(id),
	backend_port  INTEGER REFERENCES ipobj(id),
	comment       TEXT
);
CREATE INDEX IF NOT EXISTS idx_haproxy_r_scope ON haproxy_r(firewall, idgroup, rule_order);

CREATE TABLE IF NOT EXISTS keepalived_g (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall INTEGER NOT NULL REFERENCES firewall(id),
	name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS keepalived_r (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	firewall    INTEGER NOT NULL REFERENCES firewall(id),
	idgroup     INTEGER REFERENCES keepalived_g(id),
	rule_order  INTEGER NOT NULL,
	rule_type   INTEGER NOT NULL DEFAULT 1,
	active      INTEGER NOT NULL DEFAULT 1,
	interface   INTEGER REFERENCES interface(id),
	virtual_ip  INTEGER REFERENCES ipobj(id),
	master_node INTEGER REFERENCES firewall(id),
	comment     TEXT
);
CREATE INDEX IF NOT EXISTS idx_keepalived_r_scope ON keepalived_r(firewall, idgroup, rule_order);
`

func (s *Store) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}
