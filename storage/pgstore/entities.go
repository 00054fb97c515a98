package pgstore

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rackforge/metald/core/csql"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

type clusterProperties struct {
	Status         string                `json:"status"`
	PendingChanges []model.PendingChange `json:"pending_changes,omitempty"`
}

func (ss *session) Cluster(id uuid.UUID) (*model.Cluster, error) {
	var name string
	var releaseID uuid.NullUUID
	var blob []byte
	err := ss.tx.QueryRowContext(ss.ctx, fmt.Sprintf(
		"SELECT name, release_id, properties FROM %s.clusters WHERE cluster_id = $1;", ss.schema()),
		id).Scan(&name, &releaseID, &blob)
	if err == csql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return clusterFromRow(id, name, releaseID, blob)
}

func clusterFromRow(id uuid.UUID, name string, releaseID uuid.NullUUID, blob []byte) (*model.Cluster, error) {
	var properties clusterProperties
	if err := json.Unmarshal(blob, &properties); err != nil {
		return nil, err
	}
	return &model.Cluster{
		ID:             id,
		Name:           name,
		ReleaseID:      nullableID(releaseID),
		Status:         properties.Status,
		PendingChanges: properties.PendingChanges,
	}, nil
}

func (ss *session) Clusters() ([]*model.Cluster, error) {
	rows, err := ss.tx.QueryContext(ss.ctx, fmt.Sprintf(
		"SELECT cluster_id, name, release_id, properties FROM %s.clusters ORDER BY created_at;", ss.schema()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clusters []*model.Cluster
	for rows.Next() {
		var id uuid.UUID
		var name string
		var releaseID uuid.NullUUID
		var blob []byte
		if err := rows.Scan(&id, &name, &releaseID, &blob); err != nil {
			return nil, err
		}
		cluster, err := clusterFromRow(id, name, releaseID, blob)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cluster)
	}
	return clusters, rows.Err()
}

func clusterToRow(cluster *model.Cluster) ([]byte, error) {
	return json.Marshal(clusterProperties{
		Status:         cluster.Status,
		PendingChanges: cluster.PendingChanges,
	})
}

func (ss *session) AddCluster(cluster *model.Cluster) error {
	if cluster.ID == (uuid.UUID{}) {
		cluster.ID = uuid.New()
	}
	blob, err := clusterToRow(cluster)
	if err != nil {
		return err
	}
	_, err = ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"INSERT INTO %s.clusters (cluster_id, name, release_id, properties) VALUES ($1, $2, $3, $4);", ss.schema()),
		cluster.ID, cluster.Name, nullID(cluster.ReleaseID), blob)
	return err
}

func (ss *session) SaveCluster(cluster *model.Cluster) error {
	blob, err := clusterToRow(cluster)
	if err != nil {
		return err
	}
	result, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"UPDATE %s.clusters SET name = $2, release_id = $3, properties = $4 WHERE cluster_id = $1;", ss.schema()),
		cluster.ID, cluster.Name, nullID(cluster.ReleaseID), blob)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err == nil && count == 0 {
		return storage.ErrNotFound
	}
	return err
}

func (ss *session) NetworkGroups(clusterID *uuid.UUID) ([]*model.NetworkGroup, error) {
	query := fmt.Sprintf("SELECT group_id, cluster_id, name, vlan_id, cidr FROM %s.network_groups", ss.schema())
	var args []interface{}
	if clusterID == nil {
		query += " WHERE cluster_id IS NULL"
	} else {
		query += " WHERE cluster_id IS NULL OR cluster_id = $1"
		args = append(args, *clusterID)
	}
	query += " ORDER BY name;"
	rows, err := ss.tx.QueryContext(ss.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []*model.NetworkGroup
	for rows.Next() {
		g := &model.NetworkGroup{}
		var owner uuid.NullUUID
		if err := rows.Scan(&g.ID, &owner, &g.Name, &g.VLANID, &g.CIDR); err != nil {
			return nil, err
		}
		g.ClusterID = nullableID(owner)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AddNetworkGroup inserts a group. Shared groups are unique by name; when
// several processes seed the same shared group at startup, the first insert
// wins and the rest are no-ops.
func (ss *session) AddNetworkGroup(group *model.NetworkGroup) error {
	if group.ID == (uuid.UUID{}) {
		group.ID = uuid.New()
	}
	_, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		`INSERT INTO %s.network_groups (group_id, cluster_id, name, vlan_id, cidr) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) WHERE cluster_id IS NULL DO NOTHING;`, ss.schema()),
		group.ID, nullID(group.ClusterID), group.Name, group.VLANID, group.CIDR)
	return err
}

type taskProperties struct {
	Name     string                 `json:"name"`
	Status   model.TaskStatus       `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
}

func taskFromRow(id uuid.UUID, clusterID, parentID uuid.NullUUID, blob []byte) (*model.Task, error) {
	var properties taskProperties
	if err := json.Unmarshal(blob, &properties); err != nil {
		return nil, err
	}
	return &model.Task{
		ID:        id,
		ClusterID: nullableID(clusterID),
		ParentID:  nullableID(parentID),
		Name:      properties.Name,
		Status:    properties.Status,
		Progress:  properties.Progress,
		Message:   properties.Message,
		Result:    properties.Result,
	}, nil
}

func (ss *session) Task(id uuid.UUID) (*model.Task, error) {
	var clusterID, parentID uuid.NullUUID
	var blob []byte
	err := ss.tx.QueryRowContext(ss.ctx, fmt.Sprintf(
		"SELECT cluster_id, parent_id, properties FROM %s.tasks WHERE task_id = $1;", ss.schema()),
		id).Scan(&clusterID, &parentID, &blob)
	if err == csql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return taskFromRow(id, clusterID, parentID, blob)
}

func (ss *session) queryTasks(where string, args ...interface{}) ([]*model.Task, error) {
	query := fmt.Sprintf("SELECT task_id, cluster_id, parent_id, properties FROM %s.tasks", ss.schema())
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at;"
	rows, err := ss.tx.QueryContext(ss.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*model.Task
	for rows.Next() {
		var id uuid.UUID
		var clusterID, parentID uuid.NullUUID
		var blob []byte
		if err := rows.Scan(&id, &clusterID, &parentID, &blob); err != nil {
			return nil, err
		}
		task, err := taskFromRow(id, clusterID, parentID, blob)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (ss *session) Tasks(filter storage.TaskFilter) ([]*model.Task, error) {
	switch {
	case filter.Cluster.Defined && filter.Cluster.Null:
		return ss.queryTasks("cluster_id IS NULL")
	case filter.Cluster.Defined:
		return ss.queryTasks("cluster_id = $1", filter.Cluster.ID)
	}
	return ss.queryTasks("")
}

func (ss *session) Subtasks(parentID uuid.UUID) ([]*model.Task, error) {
	return ss.queryTasks("parent_id = $1", parentID)
}

func taskToRow(task *model.Task) ([]byte, error) {
	return json.Marshal(taskProperties{
		Name:     task.Name,
		Status:   task.Status,
		Progress: task.Progress,
		Message:  task.Message,
		Result:   task.Result,
	})
}

func (ss *session) AddTask(task *model.Task) error {
	if task.ID == (uuid.UUID{}) {
		task.ID = uuid.New()
	}
	blob, err := taskToRow(task)
	if err != nil {
		return err
	}
	_, err = ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"INSERT INTO %s.tasks (task_id, cluster_id, parent_id, properties) VALUES ($1, $2, $3, $4);", ss.schema()),
		task.ID, nullID(task.ClusterID), nullID(task.ParentID), blob)
	return err
}

func (ss *session) SaveTask(task *model.Task) error {
	blob, err := taskToRow(task)
	if err != nil {
		return err
	}
	result, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"UPDATE %s.tasks SET cluster_id = $2, parent_id = $3, properties = $4 WHERE task_id = $1;", ss.schema()),
		task.ID, nullID(task.ClusterID), nullID(task.ParentID), blob)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err == nil && count == 0 {
		return storage.ErrNotFound
	}
	return err
}

func (ss *session) DeleteTask(id uuid.UUID) error {
	_, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"DELETE FROM %s.tasks WHERE task_id = $1;", ss.schema()), id)
	return err
}

func (ss *session) Release(id uuid.UUID) (*model.Release, error) {
	var blob []byte
	err := ss.tx.QueryRowContext(ss.ctx, fmt.Sprintf(
		"SELECT properties FROM %s.releases WHERE release_id = $1;", ss.schema()),
		id).Scan(&blob)
	if err == csql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	release := &model.Release{ID: id}
	if err := json.Unmarshal(blob, release); err != nil {
		return nil, err
	}
	release.ID = id
	return release, nil
}

func (ss *session) Releases() ([]*model.Release, error) {
	rows, err := ss.tx.QueryContext(ss.ctx, fmt.Sprintf(
		"SELECT release_id, properties FROM %s.releases;", ss.schema()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var releases []*model.Release
	for rows.Next() {
		var id uuid.UUID
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		release := &model.Release{}
		if err := json.Unmarshal(blob, release); err != nil {
			return nil, err
		}
		release.ID = id
		releases = append(releases, release)
	}
	return releases, rows.Err()
}

func releaseToRow(release *model.Release) ([]byte, error) {
	return json.Marshal(map[string]string{
		"name":        release.Name,
		"version":     release.Version,
		"description": release.Description,
	})
}

func (ss *session) AddRelease(release *model.Release) error {
	if release.ID == (uuid.UUID{}) {
		release.ID = uuid.New()
	}
	blob, err := releaseToRow(release)
	if err != nil {
		return err
	}
	_, err = ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"INSERT INTO %s.releases (release_id, properties) VALUES ($1, $2);", ss.schema()),
		release.ID, blob)
	return err
}

func (ss *session) SaveRelease(release *model.Release) error {
	blob, err := releaseToRow(release)
	if err != nil {
		return err
	}
	result, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"UPDATE %s.releases SET properties = $2 WHERE release_id = $1;", ss.schema()),
		release.ID, blob)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err == nil && count == 0 {
		return storage.ErrNotFound
	}
	return err
}

func (ss *session) DeleteRelease(id uuid.UUID) error {
	_, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"DELETE FROM %s.releases WHERE release_id = $1;", ss.schema()), id)
	return err
}

func (ss *session) AddNotification(notification *model.Notification) error {
	if notification.ID == (uuid.UUID{}) {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	_, err := ss.tx.ExecContext(ss.ctx, fmt.Sprintf(
		"INSERT INTO %s.notifications (notification_id, category, message, node_id, created_at) VALUES ($1, $2, $3, $4, $5);", ss.schema()),
		notification.ID, notification.Category, notification.Message, nullID(notification.NodeID), notification.CreatedAt)
	return err
}

func (ss *session) Notifications() ([]*model.Notification, error) {
	rows, err := ss.tx.QueryContext(ss.ctx, fmt.Sprintf(
		"SELECT notification_id, category, message, node_id, created_at FROM %s.notifications ORDER BY created_at;", ss.schema()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var nodeID uuid.NullUUID
		if err := rows.Scan(&n.ID, &n.Category, &n.Message, &nodeID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.NodeID = nullableID(nodeID)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
