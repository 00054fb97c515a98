package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
)

var taskFields = render.Spec{
	render.F("id"),
	render.F("name"),
	render.F("status"),
	render.F("progress"),
	render.F("message"),
	render.F("result"),
	render.F("cluster_id"),
	render.F("parent_id"),
}

func renderTasks(tasks []*model.Task) []map[string]interface{} {
	srcs := make([]render.Source, len(tasks))
	for i, t := range tasks {
		srcs[i] = t
	}
	return render.Collection(srcs, taskFields)
}

func (a *API) getTasks(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	scope, err := clusterScopeFromRequest(r)
	if err != nil {
		return err
	}
	tasks, err := s.Tasks(storage.TaskFilter{Cluster: scope})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, renderTasks(tasks))
	return nil
}

func (a *API) getTask(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "task_id")
	if err != nil {
		return err
	}
	task, err := s.Task(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return notFound("task", id)
		}
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(task, taskFields))
	return nil
}

// deleteTask removes a finished task and its whole subtask tree. Deleting a
// task that is still running is a conflict.
func (a *API) deleteTask(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "task_id")
	if err != nil {
		return err
	}
	task, err := s.Task(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return notFound("task", id)
		}
		return err
	}
	if !task.Status.Terminal() {
		return &ConflictError{Reason: "cannot delete a running task"}
	}
	if err := a.deleteTaskTree(s, task.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *API) deleteTaskTree(s storage.Session, id uuid.UUID) error {
	subtasks, err := s.Subtasks(id)
	if err != nil {
		return err
	}
	for _, sub := range subtasks {
		if err := a.deleteTaskTree(s, sub.ID); err != nil {
			return err
		}
	}
	return s.DeleteTask(id)
}
