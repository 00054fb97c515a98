// Package pgstore implements the storage interfaces on postgres.
//
// Entities are stored as one row per entity with the columns the store
// filters on broken out and everything else in a JSON properties blob. A
// session maps onto one database transaction; Commit commits it and opens a
// fresh one, so the session stays usable for the rest of the request.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rackforge/metald/core/csql"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

// Store is a postgres-backed entity store.
type Store struct {
	db *csql.DB
}

// New creates the tables if necessary and returns the store.
func New(db *csql.DB) (*Store, error) {
	schema := db.Schema
	_, err := db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s.nodes (
	node_id uuid NOT NULL DEFAULT uuid_generate_v4(),
	mac varchar NOT NULL,
	cluster_id uuid,
	properties json NOT NULL DEFAULT '{}'::json,
	created_at timestamp NOT NULL DEFAULT now(),
	PRIMARY KEY (node_id),
	UNIQUE (mac)
);
CREATE TABLE IF NOT EXISTS %[1]s.clusters (
	cluster_id uuid NOT NULL DEFAULT uuid_generate_v4(),
	name varchar NOT NULL,
	release_id uuid,
	properties json NOT NULL DEFAULT '{}'::json,
	created_at timestamp NOT NULL DEFAULT now(),
	PRIMARY KEY (cluster_id),
	UNIQUE (name)
);
CREATE TABLE IF NOT EXISTS %[1]s.network_groups (
	group_id uuid NOT NULL DEFAULT uuid_generate_v4(),
	cluster_id uuid,
	name varchar NOT NULL,
	vlan_id integer NOT NULL DEFAULT 0,
	cidr varchar NOT NULL DEFAULT '',
	PRIMARY KEY (group_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS network_groups_shared_name
	ON %[1]s.network_groups (name) WHERE cluster_id IS NULL;
CREATE TABLE IF NOT EXISTS %[1]s.tasks (
	task_id uuid NOT NULL DEFAULT uuid_generate_v4(),
	cluster_id uuid,
	parent_id uuid,
	properties json NOT NULL DEFAULT '{}'::json,
	created_at timestamp NOT NULL DEFAULT now(),
	PRIMARY KEY (task_id)
);
CREATE TABLE IF NOT EXISTS %[1]s.releases (
	release_id uuid NOT NULL DEFAULT uuid_generate_v4(),
	properties json NOT NULL DEFAULT '{}'::json,
	PRIMARY KEY (release_id)
);
CREATE TABLE IF NOT EXISTS %[1]s.notifications (
	notification_id uuid NOT NULL DEFAULT uuid_generate_v4(),
	category varchar NOT NULL,
	message varchar NOT NULL,
	node_id uuid,
	created_at timestamp NOT NULL DEFAULT now(),
	PRIMARY KEY (notification_id)
);
`, schema))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Begin opens a session backed by one transaction.
func (s *Store) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &session{store: s, ctx: ctx, tx: tx}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type session struct {
	store *Store
	ctx   context.Context
	tx    *sql.Tx
	done  bool
}

func (ss *session) schema() string {
	return ss.store.db.Schema
}

// Commit commits the transaction and opens a fresh one, keeping the
// session usable.
func (ss *session) Commit() error {
	if ss.done {
		return fmt.Errorf("session is closed")
	}
	if err := ss.tx.Commit(); err != nil {
		return err
	}
	tx, err := ss.store.db.BeginTx(ss.ctx, nil)
	if err != nil {
		ss.done = true
		return err
	}
	ss.tx = tx
	return nil
}

// Rollback discards the transaction and opens a fresh one.
func (ss *session) Rollback() error {
	if ss.done {
		return nil
	}
	if err := ss.tx.Rollback(); err != nil {
		return err
	}
	tx, err := ss.store.db.BeginTx(ss.ctx, nil)
	if err != nil {
		ss.done = true
		return err
	}
	ss.tx = tx
	return nil
}

// Invalidate ends the session. Postgres sessions hold no entity cache, all
// reads go to the transaction, so invalidation only has to release it.
func (ss *session) Invalidate() {
	if ss.done {
		return
	}
	ss.tx.Rollback()
	ss.done = true
}

// nodeProperties is the JSON blob of a node row. Interfaces reference
// network groups by ID; the groups are joined back in on load.
type nodeProperties struct {
	Name            string           `json:"name"`
	FQDN            string           `json:"fqdn,omitempty"`
	IP              string           `json:"ip,omitempty"`
	Manufacturer    string           `json:"manufacturer,omitempty"`
	PlatformName    string           `json:"platform_name,omitempty"`
	OSPlatform      string           `json:"os_platform,omitempty"`
	Role            string           `json:"role,omitempty"`
	Status          model.NodeStatus `json:"status"`
	Progress        int              `json:"progress"`
	Online          bool             `json:"online"`
	PendingAddition bool             `json:"pending_addition"`
	PendingDeletion bool             `json:"pending_deletion"`
	ErrorType       string           `json:"error_type,omitempty"`
	LastSeen        time.Time        `json:"last_seen"`
	Meta            model.Meta       `json:"meta,omitempty"`
	Volumes         []model.Volume   `json:"volumes,omitempty"`
	Interfaces      []nicProperties  `json:"interfaces,omitempty"`
}

type nicProperties struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	MAC              string      `json:"mac"`
	CurrentSpeed     int         `json:"current_speed,omitempty"`
	MaxSpeed         int         `json:"max_speed,omitempty"`
	AssignedNetworks []uuid.UUID `json:"assigned_networks,omitempty"`
	AllowedNetworks  []uuid.UUID `json:"allowed_networks,omitempty"`
}

func nodeToRow(node *model.Node) ([]byte, error) {
	properties := nodeProperties{
		Name:            node.Name,
		FQDN:            node.FQDN,
		IP:              node.IP,
		Manufacturer:    node.Manufacturer,
		PlatformName:    node.PlatformName,
		OSPlatform:      node.OSPlatform,
		Role:            node.Role,
		Status:          node.Status,
		Progress:        node.Progress,
		Online:          node.Online,
		PendingAddition: node.PendingAddition,
		PendingDeletion: node.PendingDeletion,
		ErrorType:       node.ErrorType,
		LastSeen:        node.LastSeen,
		Meta:            node.Meta,
	}
	if node.Attributes != nil {
		properties.Volumes = node.Attributes.Volumes
	}
	for _, nic := range node.Interfaces {
		p := nicProperties{
			ID:           nic.ID,
			Name:         nic.Name,
			MAC:          nic.MAC,
			CurrentSpeed: nic.CurrentSpeed,
			MaxSpeed:     nic.MaxSpeed,
		}
		for _, g := range nic.AssignedNetworks {
			p.AssignedNetworks = append(p.AssignedNetworks, g.ID)
		}
		for _, g := range nic.AllowedNetworks {
			p.AllowedNetworks = append(p.AllowedNetworks, g.ID)
		}
		properties.Interfaces = append(properties.Interfaces, p)
	}
	return json.Marshal(properties)
}

// nodeFromRow builds a node from its row. The caller supplies the group
// index so a collection load resolves every row against one fetch; the
// cluster is attached separately for the same reason.
func (ss *session) nodeFromRow(id uuid.UUID, mac string, clusterID *uuid.UUID, blob []byte, groups map[uuid.UUID]*model.NetworkGroup) (*model.Node, error) {
	var properties nodeProperties
	if err := json.Unmarshal(blob, &properties); err != nil {
		return nil, err
	}
	node := &model.Node{
		ID:              id,
		MAC:             mac,
		ClusterID:       clusterID,
		Name:            properties.Name,
		FQDN:            properties.FQDN,
		IP:              properties.IP,
		Manufacturer:    properties.Manufacturer,
		PlatformName:    properties.PlatformName,
		OSPlatform:      properties.OSPlatform,
		Role:            properties.Role,
		Status:          properties.Status,
		Progress:        properties.Progress,
		Online:          properties.Online,
		PendingAddition: properties.PendingAddition,
		PendingDeletion: properties.PendingDeletion,
		ErrorType:       properties.ErrorType,
		LastSeen:        properties.LastSeen,
		Meta:            properties.Meta,
		Attributes:      &model.NodeAttributes{NodeID: id, Volumes: properties.Volumes},
	}
	for _, p := range properties.Interfaces {
		nic := &model.NIC{
			ID:           p.ID,
			NodeID:       id,
			Name:         p.Name,
			MAC:          p.MAC,
			CurrentSpeed: p.CurrentSpeed,
			MaxSpeed:     p.MaxSpeed,
		}
		for _, gid := range p.AssignedNetworks {
			if g, ok := groups[gid]; ok {
				nic.AssignedNetworks = append(nic.AssignedNetworks, g.Clone())
			}
		}
		for _, gid := range p.AllowedNetworks {
			if g, ok := groups[gid]; ok {
				nic.AllowedNetworks = append(nic.AllowedNetworks, g.Clone())
			}
		}
		node.Interfaces = append(node.Interfaces, nic)
	}
	return node, nil
}

// attachCluster eager-loads the node's cluster record.
func (ss *session) attachCluster(node *model.Node) error {
	if node.ClusterID == nil {
		return nil
	}
	cluster, err := ss.Cluster(*node.ClusterID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	node.Cluster = cluster
	return nil
}

func (ss *session) groupIndex() (map[uuid.UUID]*model.NetworkGroup, error) {
	rows, err := ss.tx.QueryContext(ss.ctx, fmt.Sprintf(
		"SELECT group_id, cluster_id, name, vlan_id, cidr FROM %s.network_groups;", ss.schema()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	index := map[uuid.UUID]*model.NetworkGroup{}
	for rows.Next() {
		g := &model.NetworkGroup{}
		var clusterID uuid.NullUUID
		if err := rows.Scan(&g.ID, &clusterID, &g.Name, &g.VLANID, &g.CIDR); err != nil {
			return nil, err
		}
		if clusterID.Valid {
			id := clusterID.UUID
			g.ClusterID = &id
		}
		index[g.ID] = g
	}
	return index, rows.Err()
}

func (ss *session) Node(id uuid.UUID) (*model.Node, error) {
	var mac string
	var clusterID uuid.NullUUID
	var blob []byte
	err := ss.tx.QueryRowContext(ss.ctx, fmt.Sprintf(
		"SELECT mac, cluster_id, properties FROM %s.nodes WHERE node_id = $1;", ss.schema()),
		id).Scan(&mac, &clusterID, &blob)
	if err == csql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ss.loadNodeRow(id, mac, nullableID(clusterID), blob)
}

func (ss *session) loadNodeRow(id uuid.UUID, mac string, clusterID *uuid.UUID, blob []byte) (*model.Node, error) {
	groups, err := ss.groupIndex()
	if err != nil {
		return nil, err
	}
	node, err := ss.nodeFromRow(id, mac, clusterID, blob, groups)
	if err != nil {
		return nil, err
	}
	if err := ss.attachCluster(node); err != nil {
		return nil, err
	}
	return node, nil
}

func (ss *session) NodeByMAC(mac string) (*model.Node, error) {
	var id uuid.UUID
	var clusterID uuid.NullUUID
	var blob []byte
	err := ss.tx.QueryRowContext(ss.ctx, fmt.Sprintf(
		"SELECT node_id, cluster_id, properties FROM %s.nodes WHERE mac = $1;", ss.schema()),
		mac).Scan(&id, &clusterID, &blob)
	if err == csql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ss.loadNodeRow(id, mac, nullableID(clusterID), blob)
}

func nullableID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	value := id.UUID
	return &value
}

func nullID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (ss *session) Nodes(filter storage.NodeFilter) ([]*model.Node, error) {
	query := fmt.Sprintf("SELECT node_id, mac, cluster_id, properties FROM %s.nodes", ss.schema())
	var args []interface{}
	switch {
	case len(filter.IDs) > 0:
		query += " WHERE node_id = ANY($1)"
		args = append(args, pq.Array(filter.IDs))
	case filter.Cluster.Defined && filter.Cluster.Null:
		query += " WHERE cluster_id IS NULL"
	case filter.Cluster.Defined:
		query += " WHERE cluster_id = $1"
		args = append(args, filter.Cluster.ID)
	}
	query += " ORDER BY created_at;"
	rows, err := ss.tx.QueryContext(ss.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	type row struct {
		id        uuid.UUID
		mac       string
		clusterID uuid.NullUUID
		blob      []byte
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.mac, &r.clusterID, &r.blob); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// one group index and one cluster lookup per distinct cluster for the
	// whole collection, the per-row work is pure unmarshalling
	groups, err := ss.groupIndex()
	if err != nil {
		return nil, err
	}
	clusterCache := map[uuid.UUID]*model.Cluster{}
	nodes := make([]*model.Node, 0, len(raw))
	for _, r := range raw {
		node, err := ss.nodeFromRow(r.id, r.mac, nullableID(r.clusterID), r.blob, groups)
		if err != nil {
			return nil, err
		}
		if node.ClusterID != nil {
			cluster, ok := clusterCache[*node.ClusterID]
			if !ok {
				cluster, err = ss.Cluster(*node.ClusterID)
				if err != nil && err != storage.ErrNotFound {
					return nil, err
				}
				clusterCache[*node.ClusterID] = cluster
			}
			if cluster != nil {
				node.Cluster = cluster.Clone()
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (ss *session) AddNode(node *model.Node) error {
	if node.ID == (uuid.UUID{}) {
		node.ID = uuid.New()
	}
	for _, nic := range node.Interfaces {
		if nic.ID == (uuid.UUID{}) {
			nic.ID = uuid.New()
		}
		nic.NodeID = node.ID
	}
	blob, err := nodeToRow(node)
	if err != nil {
		return err
	}
	_, err = ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"INSERT INTO %s.nodes (node_id, mac, cluster_id, properties) VALUES ($1, $2, $3, $4);", ss.schema()),
		node.ID, node.MAC, nullID(node.ClusterID), blob)
	return err
}

func (ss *session) SaveNode(node *model.Node) error {
	for _, nic := range node.Interfaces {
		if nic.ID == (uuid.UUID{}) {
			nic.ID = uuid.New()
		}
		nic.NodeID = node.ID
	}
	blob, err := nodeToRow(node)
	if err != nil {
		return err
	}
	result, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"UPDATE %s.nodes SET mac = $2, cluster_id = $3, properties = $4 WHERE node_id = $1;", ss.schema()),
		node.ID, node.MAC, nullID(node.ClusterID), blob)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err == nil && count == 0 {
		return storage.ErrNotFound
	}
	return err
}

func (ss *session) DeleteNode(id uuid.UUID) error {
	_, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"DELETE FROM %s.nodes WHERE node_id = $1;", ss.schema()), id)
	return err
}
