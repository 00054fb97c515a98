// Package storage defines the unit-of-work interface of the metald store.
//
// Every request runs against exactly one Session. A session accumulates
// entity mutations and either commits them atomically or rolls them back.
// Sessions hand out private entity copies; a mutation becomes visible to
// other sessions only after SaveX + Commit. Invalidate marks everything the
// session has cached as stale, so a reused session re-reads from the store —
// multiple worker processes share one store, and without forced invalidation
// a worker could serve rows it cached before another worker's commit.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rackforge/metald/model"
)

// ErrNotFound is returned by single-entity loads when no entity matches.
var ErrNotFound = errors.New("not found")

// ClusterScope encodes the tri-state cluster filter of collection queries:
// not defined (no filter), explicit null (entities without a cluster), or a
// concrete cluster ID.
type ClusterScope struct {
	Defined bool
	Null    bool
	ID      uuid.UUID
}

// ClusterScopeFromParam parses a query string value into a ClusterScope.
// present reports whether the parameter appeared at all; an empty value is
// the explicit-null filter.
func ClusterScopeFromParam(value string, present bool) (ClusterScope, error) {
	if !present {
		return ClusterScope{}, nil
	}
	if value == "" {
		return ClusterScope{Defined: true, Null: true}, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return ClusterScope{}, err
	}
	return ClusterScope{Defined: true, ID: id}, nil
}

// Matches reports whether an entity with the given cluster association
// passes the filter.
func (s ClusterScope) Matches(clusterID *uuid.UUID) bool {
	if !s.Defined {
		return true
	}
	if s.Null {
		return clusterID == nil
	}
	return clusterID != nil && *clusterID == s.ID
}

// NodeFilter restricts node collection queries.
type NodeFilter struct {
	Cluster ClusterScope
	// IDs restricts the result to the given nodes, in store order.
	IDs []uuid.UUID
}

// TaskFilter restricts task collection queries.
type TaskFilter struct {
	Cluster ClusterScope
}

// Store opens unit-of-work sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
	Close() error
}

// Session is one unit of work. All single-entity loads return ErrNotFound
// when nothing matches. Loaded nodes come with cluster, interfaces and the
// interfaces' network groups eagerly resolved.
//
// Commit may be called repeatedly; it flushes the work so far and keeps the
// session usable, mirroring how handlers commit intermediate results before
// running side effects.
type Session interface {
	Node(id uuid.UUID) (*model.Node, error)
	NodeByMAC(mac string) (*model.Node, error)
	Nodes(filter NodeFilter) ([]*model.Node, error)
	AddNode(node *model.Node) error
	SaveNode(node *model.Node) error
	DeleteNode(id uuid.UUID) error

	Cluster(id uuid.UUID) (*model.Cluster, error)
	Clusters() ([]*model.Cluster, error)
	AddCluster(cluster *model.Cluster) error
	SaveCluster(cluster *model.Cluster) error

	// NetworkGroups returns the groups reachable from the given cluster:
	// the cluster's own groups plus the shared (cluster-less) ones. A nil
	// cluster ID returns only the shared groups.
	NetworkGroups(clusterID *uuid.UUID) ([]*model.NetworkGroup, error)
	AddNetworkGroup(group *model.NetworkGroup) error

	Task(id uuid.UUID) (*model.Task, error)
	Tasks(filter TaskFilter) ([]*model.Task, error)
	Subtasks(parentID uuid.UUID) ([]*model.Task, error)
	AddTask(task *model.Task) error
	SaveTask(task *model.Task) error
	DeleteTask(id uuid.UUID) error

	Release(id uuid.UUID) (*model.Release, error)
	Releases() ([]*model.Release, error)
	AddRelease(release *model.Release) error
	SaveRelease(release *model.Release) error
	DeleteRelease(id uuid.UUID) error

	AddNotification(notification *model.Notification) error
	Notifications() ([]*model.Notification, error)

	Commit() error
	Rollback() error

	// Invalidate drops every entity the session has cached. It must be
	// called at the end of each request, whether it committed or not.
	Invalidate()
}
