// Package memstore provides an in-memory implementation of storage.Store.
//
// It is the reference implementation of the session semantics: sessions
// operate on private deep copies and buffer their writes in an overlay that
// is applied to the shared state on Commit. The package backs the unit
// tests and small single-process deployments; production runs on pgstore.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

// Store is an in-memory storage.Store. The zero value is not usable, use New.
type Store struct {
	mu            sync.Mutex
	nodes         map[uuid.UUID]*model.Node
	clusters      map[uuid.UUID]*model.Cluster
	groups        map[uuid.UUID]*model.NetworkGroup
	tasks         map[uuid.UUID]*model.Task
	releases      map[uuid.UUID]*model.Release
	notifications []*model.Notification
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nodes:    map[uuid.UUID]*model.Node{},
		clusters: map[uuid.UUID]*model.Cluster{},
		groups:   map[uuid.UUID]*model.NetworkGroup{},
		tasks:    map[uuid.UUID]*model.Task{},
		releases: map[uuid.UUID]*model.Release{},
	}
}

// Begin implements storage.Store.
func (s *Store) Begin(ctx context.Context) (storage.Session, error) {
	return newSession(s), nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

type session struct {
	store *Store

	nodes    map[uuid.UUID]*model.Node
	clusters map[uuid.UUID]*model.Cluster
	groups   map[uuid.UUID]*model.NetworkGroup
	tasks    map[uuid.UUID]*model.Task
	releases map[uuid.UUID]*model.Release

	dirtyNodes    map[uuid.UUID]bool
	dirtyClusters map[uuid.UUID]bool
	dirtyGroups   map[uuid.UUID]bool
	dirtyTasks    map[uuid.UUID]bool
	dirtyReleases map[uuid.UUID]bool

	deletedNodes    map[uuid.UUID]bool
	deletedTasks    map[uuid.UUID]bool
	deletedReleases map[uuid.UUID]bool

	pendingNotifications []*model.Notification
}

func newSession(s *Store) *session {
	return &session{
		store:           s,
		nodes:           map[uuid.UUID]*model.Node{},
		clusters:        map[uuid.UUID]*model.Cluster{},
		groups:          map[uuid.UUID]*model.NetworkGroup{},
		tasks:           map[uuid.UUID]*model.Task{},
		releases:        map[uuid.UUID]*model.Release{},
		dirtyNodes:      map[uuid.UUID]bool{},
		dirtyClusters:   map[uuid.UUID]bool{},
		dirtyGroups:     map[uuid.UUID]bool{},
		dirtyTasks:      map[uuid.UUID]bool{},
		dirtyReleases:   map[uuid.UUID]bool{},
		deletedNodes:    map[uuid.UUID]bool{},
		deletedTasks:    map[uuid.UUID]bool{},
		deletedReleases: map[uuid.UUID]bool{},
	}
}

// loadNode pulls a node into the session's identity map, resolving the
// eager relations against the session's view of clusters and groups.
func (ss *session) loadNode(id uuid.UUID) (*model.Node, error) {
	if ss.deletedNodes[id] {
		return nil, storage.ErrNotFound
	}
	if node, ok := ss.nodes[id]; ok {
		return node, nil
	}
	ss.store.mu.Lock()
	stored, ok := ss.store.nodes[id]
	var node *model.Node
	if ok {
		node = stored.Clone()
	}
	ss.store.mu.Unlock()
	if node == nil {
		return nil, storage.ErrNotFound
	}
	ss.resolveNode(node)
	ss.nodes[id] = node
	return node, nil
}

// resolveNode refreshes eager relations: the cluster object and the network
// groups referenced by the node's interfaces.
func (ss *session) resolveNode(node *model.Node) {
	if node.ClusterID != nil {
		if cluster, err := ss.Cluster(*node.ClusterID); err == nil {
			node.Cluster = cluster.Clone()
		}
	} else {
		node.Cluster = nil
	}
	for _, nic := range node.Interfaces {
		nic.AssignedNetworks = ss.resolveGroups(nic.AssignedNetworks)
		nic.AllowedNetworks = ss.resolveGroups(nic.AllowedNetworks)
	}
}

func (ss *session) resolveGroups(groups []*model.NetworkGroup) []*model.NetworkGroup {
	resolved := make([]*model.NetworkGroup, 0, len(groups))
	for _, g := range groups {
		if fresh, err := ss.group(g.ID); err == nil {
			resolved = append(resolved, fresh)
		} else {
			resolved = append(resolved, g)
		}
	}
	return resolved
}

func (ss *session) group(id uuid.UUID) (*model.NetworkGroup, error) {
	if g, ok := ss.groups[id]; ok {
		return g.Clone(), nil
	}
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()
	if g, ok := ss.store.groups[id]; ok {
		return g.Clone(), nil
	}
	return nil, storage.ErrNotFound
}

func (ss *session) Node(id uuid.UUID) (*model.Node, error) {
	return ss.loadNode(id)
}

func (ss *session) NodeByMAC(mac string) (*model.Node, error) {
	// session-local entities first, they may not be committed yet
	for _, node := range ss.nodes {
		if node.MAC == mac && !ss.deletedNodes[node.ID] {
			return node, nil
		}
	}
	ss.store.mu.Lock()
	var id uuid.UUID
	found := false
	for _, node := range ss.store.nodes {
		if node.MAC == mac {
			id, found = node.ID, true
			break
		}
	}
	ss.store.mu.Unlock()
	if !found {
		return nil, storage.ErrNotFound
	}
	return ss.loadNode(id)
}

func (ss *session) Nodes(filter storage.NodeFilter) ([]*model.Node, error) {
	ids := map[uuid.UUID]bool{}
	for id := range ss.nodes {
		ids[id] = true
	}
	ss.store.mu.Lock()
	for id := range ss.store.nodes {
		ids[id] = true
	}
	ss.store.mu.Unlock()

	var nodes []*model.Node
	for id := range ids {
		node, err := ss.loadNode(id)
		if err != nil {
			continue
		}
		if !filter.Cluster.Matches(node.ClusterID) {
			continue
		}
		if filter.IDs != nil && !containsID(filter.IDs, node.ID) {
			continue
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
	return nodes, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
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
	ss.nodes[node.ID] = node
	ss.dirtyNodes[node.ID] = true
	delete(ss.deletedNodes, node.ID)
	return nil
}

func (ss *session) SaveNode(node *model.Node) error {
	for _, nic := range node.Interfaces {
		if nic.ID == (uuid.UUID{}) {
			nic.ID = uuid.New()
		}
		nic.NodeID = node.ID
	}
	ss.nodes[node.ID] = node
	ss.dirtyNodes[node.ID] = true
	return nil
}

func (ss *session) DeleteNode(id uuid.UUID) error {
	delete(ss.nodes, id)
	delete(ss.dirtyNodes, id)
	ss.deletedNodes[id] = true
	return nil
}

func (ss *session) Cluster(id uuid.UUID) (*model.Cluster, error) {
	if cluster, ok := ss.clusters[id]; ok {
		return cluster, nil
	}
	ss.store.mu.Lock()
	stored, ok := ss.store.clusters[id]
	var cluster *model.Cluster
	if ok {
		cluster = stored.Clone()
	}
	ss.store.mu.Unlock()
	if cluster == nil {
		return nil, storage.ErrNotFound
	}
	ss.clusters[id] = cluster
	return cluster, nil
}

func (ss *session) Clusters() ([]*model.Cluster, error) {
	ids := map[uuid.UUID]bool{}
	for id := range ss.clusters {
		ids[id] = true
	}
	ss.store.mu.Lock()
	for id := range ss.store.clusters {
		ids[id] = true
	}
	ss.store.mu.Unlock()
	var clusters []*model.Cluster
	for id := range ids {
		cluster, err := ss.Cluster(id)
		if err != nil {
			continue
		}
		clusters = append(clusters, cluster)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	return clusters, nil
}

func (ss *session) AddCluster(cluster *model.Cluster) error {
	if cluster.ID == (uuid.UUID{}) {
		cluster.ID = uuid.New()
	}
	ss.clusters[cluster.ID] = cluster
	ss.dirtyClusters[cluster.ID] = true
	return nil
}

func (ss *session) SaveCluster(cluster *model.Cluster) error {
	ss.clusters[cluster.ID] = cluster
	ss.dirtyClusters[cluster.ID] = true
	return nil
}

func (ss *session) NetworkGroups(clusterID *uuid.UUID) ([]*model.NetworkGroup, error) {
	ids := map[uuid.UUID]bool{}
	for id := range ss.groups {
		ids[id] = true
	}
	ss.store.mu.Lock()
	for id := range ss.store.groups {
		ids[id] = true
	}
	ss.store.mu.Unlock()
	var groups []*model.NetworkGroup
	for id := range ids {
		g, err := ss.group(id)
		if err != nil {
			continue
		}
		if g.ClusterID == nil || (clusterID != nil && *g.ClusterID == *clusterID) {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// AddNetworkGroup inserts a group. Shared groups are unique by name; adding
// one that already exists is a no-op, the group adopts the existing ID.
func (ss *session) AddNetworkGroup(group *model.NetworkGroup) error {
	if group.ClusterID == nil {
		if existing := ss.sharedGroupByName(group.Name); existing != nil {
			group.ID = existing.ID
			return nil
		}
	}
	if group.ID == (uuid.UUID{}) {
		group.ID = uuid.New()
	}
	ss.groups[group.ID] = group
	ss.dirtyGroups[group.ID] = true
	return nil
}

func (ss *session) sharedGroupByName(name string) *model.NetworkGroup {
	for _, g := range ss.groups {
		if g.ClusterID == nil && g.Name == name {
			return g
		}
	}
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()
	for _, g := range ss.store.groups {
		if g.ClusterID == nil && g.Name == name {
			return g
		}
	}
	return nil
}

func (ss *session) Task(id uuid.UUID) (*model.Task, error) {
	if ss.deletedTasks[id] {
		return nil, storage.ErrNotFound
	}
	if task, ok := ss.tasks[id]; ok {
		return task, nil
	}
	ss.store.mu.Lock()
	stored, ok := ss.store.tasks[id]
	var task *model.Task
	if ok {
		task = stored.Clone()
	}
	ss.store.mu.Unlock()
	if task == nil {
		return nil, storage.ErrNotFound
	}
	ss.tasks[id] = task
	return task, nil
}

func (ss *session) Tasks(filter storage.TaskFilter) ([]*model.Task, error) {
	tasks, err := ss.allTasks()
	if err != nil {
		return nil, err
	}
	var result []*model.Task
	for _, task := range tasks {
		if filter.Cluster.Matches(task.ClusterID) {
			result = append(result, task)
		}
	}
	return result, nil
}

func (ss *session) Subtasks(parentID uuid.UUID) ([]*model.Task, error) {
	tasks, err := ss.allTasks()
	if err != nil {
		return nil, err
	}
	var result []*model.Task
	for _, task := range tasks {
		if task.ParentID != nil && *task.ParentID == parentID {
			result = append(result, task)
		}
	}
	return result, nil
}

func (ss *session) allTasks() ([]*model.Task, error) {
	ids := map[uuid.UUID]bool{}
	for id := range ss.tasks {
		ids[id] = true
	}
	ss.store.mu.Lock()
	for id := range ss.store.tasks {
		ids[id] = true
	}
	ss.store.mu.Unlock()
	var tasks []*model.Task
	for id := range ids {
		task, err := ss.Task(id)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID.String() < tasks[j].ID.String() })
	return tasks, nil
}

func (ss *session) AddTask(task *model.Task) error {
	if task.ID == (uuid.UUID{}) {
		task.ID = uuid.New()
	}
	ss.tasks[task.ID] = task
	ss.dirtyTasks[task.ID] = true
	delete(ss.deletedTasks, task.ID)
	return nil
}

func (ss *session) SaveTask(task *model.Task) error {
	ss.tasks[task.ID] = task
	ss.dirtyTasks[task.ID] = true
	return nil
}

func (ss *session) DeleteTask(id uuid.UUID) error {
	delete(ss.tasks, id)
	delete(ss.dirtyTasks, id)
	ss.deletedTasks[id] = true
	return nil
}

func (ss *session) Release(id uuid.UUID) (*model.Release, error) {
	if ss.deletedReleases[id] {
		return nil, storage.ErrNotFound
	}
	if release, ok := ss.releases[id]; ok {
		return release, nil
	}
	ss.store.mu.Lock()
	stored, ok := ss.store.releases[id]
	var release *model.Release
	if ok {
		release = stored.Clone()
	}
	ss.store.mu.Unlock()
	if release == nil {
		return nil, storage.ErrNotFound
	}
	ss.releases[id] = release
	return release, nil
}

func (ss *session) Releases() ([]*model.Release, error) {
	ids := map[uuid.UUID]bool{}
	for id := range ss.releases {
		ids[id] = true
	}
	ss.store.mu.Lock()
	for id := range ss.store.releases {
		ids[id] = true
	}
	ss.store.mu.Unlock()
	var releases []*model.Release
	for id := range ids {
		release, err := ss.Release(id)
		if err != nil {
			continue
		}
		releases = append(releases, release)
	}
	sort.Slice(releases, func(i, j int) bool {
		if releases[i].Name != releases[j].Name {
			return releases[i].Name < releases[j].Name
		}
		return releases[i].Version < releases[j].Version
	})
	return releases, nil
}

func (ss *session) AddRelease(release *model.Release) error {
	if release.ID == (uuid.UUID{}) {
		release.ID = uuid.New()
	}
	ss.releases[release.ID] = release
	ss.dirtyReleases[release.ID] = true
	delete(ss.deletedReleases, release.ID)
	return nil
}

func (ss *session) SaveRelease(release *model.Release) error {
	ss.releases[release.ID] = release
	ss.dirtyReleases[release.ID] = true
	return nil
}

func (ss *session) DeleteRelease(id uuid.UUID) error {
	delete(ss.releases, id)
	delete(ss.dirtyReleases, id)
	ss.deletedReleases[id] = true
	return nil
}

func (ss *session) AddNotification(notification *model.Notification) error {
	if notification.ID == (uuid.UUID{}) {
		notification.ID = uuid.New()
	}
	ss.pendingNotifications = append(ss.pendingNotifications, notification)
	return nil
}

func (ss *session) Notifications() ([]*model.Notification, error) {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()
	notifications := make([]*model.Notification, 0, len(ss.store.notifications)+len(ss.pendingNotifications))
	for _, n := range ss.store.notifications {
		notifications = append(notifications, n.Clone())
	}
	for _, n := range ss.pendingNotifications {
		notifications = append(notifications, n.Clone())
	}
	return notifications, nil
}

// Commit applies the session's overlay to the shared state. The session
// stays usable; its identity map survives as a read cache until Invalidate.
func (ss *session) Commit() error {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	for id := range ss.dirtyNodes {
		ss.store.nodes[id] = ss.nodes[id].Clone()
	}
	for id := range ss.deletedNodes {
		delete(ss.store.nodes, id)
	}
	for id := range ss.dirtyClusters {
		ss.store.clusters[id] = ss.clusters[id].Clone()
	}
	for id := range ss.dirtyGroups {
		ss.store.groups[id] = ss.groups[id].Clone()
	}
	for id := range ss.dirtyTasks {
		ss.store.tasks[id] = ss.tasks[id].Clone()
	}
	for id := range ss.deletedTasks {
		delete(ss.store.tasks, id)
	}
	for id := range ss.dirtyReleases {
		ss.store.releases[id] = ss.releases[id].Clone()
	}
	for id := range ss.deletedReleases {
		delete(ss.store.releases, id)
	}
	for _, n := range ss.pendingNotifications {
		ss.store.notifications = append(ss.store.notifications, n.Clone())
	}

	ss.dirtyNodes = map[uuid.UUID]bool{}
	ss.dirtyClusters = map[uuid.UUID]bool{}
	ss.dirtyGroups = map[uuid.UUID]bool{}
	ss.dirtyTasks = map[uuid.UUID]bool{}
	ss.dirtyReleases = map[uuid.UUID]bool{}
	ss.deletedNodes = map[uuid.UUID]bool{}
	ss.deletedTasks = map[uuid.UUID]bool{}
	ss.deletedReleases = map[uuid.UUID]bool{}
	ss.pendingNotifications = nil
	return nil
}

// Rollback drops all uncommitted work.
func (ss *session) Rollback() error {
	ss.Invalidate()
	return nil
}

// Invalidate clears the identity map and all uncommitted work, so the next
// read goes back to the shared state.
func (ss *session) Invalidate() {
	ss.nodes = map[uuid.UUID]*model.Node{}
	ss.clusters = map[uuid.UUID]*model.Cluster{}
	ss.groups = map[uuid.UUID]*model.NetworkGroup{}
	ss.tasks = map[uuid.UUID]*model.Task{}
	ss.releases = map[uuid.UUID]*model.Release{}
	ss.dirtyNodes = map[uuid.UUID]bool{}
	ss.dirtyClusters = map[uuid.UUID]bool{}
	ss.dirtyGroups = map[uuid.UUID]bool{}
	ss.dirtyTasks = map[uuid.UUID]bool{}
	ss.dirtyReleases = map[uuid.UUID]bool{}
	ss.deletedNodes = map[uuid.UUID]bool{}
	ss.deletedTasks = map[uuid.UUID]bool{}
	ss.deletedReleases = map[uuid.UUID]bool{}
	ss.pendingNotifications = nil
}
