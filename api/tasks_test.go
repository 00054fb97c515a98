package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rackforge/metald/model"
)

type taskJSON struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Status   string     `json:"status"`
	ParentID *uuid.UUID `json:"parent_id"`
}

func (s *APITestSuite) TestGetTasksFilteredByCluster() {
	cluster := s.mustCreateCluster("alpha")
	clusterID := cluster.ID
	s.seedTask(&model.Task{Name: "deploy", Status: model.TaskStatusRunning, ClusterID: &clusterID})
	s.seedTask(&model.Task{Name: "check", Status: model.TaskStatusReady})

	var tasks []taskJSON
	_, err := s.client.RawGet("/api/tasks", &tasks)
	s.Require().NoError(err)
	s.Len(tasks, 2)

	_, err = s.client.RawGet("/api/tasks?cluster_id="+clusterID.String(), &tasks)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	s.Equal("deploy", tasks[0].Name)

	_, err = s.client.RawGet("/api/tasks?cluster_id=", &tasks)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	s.Equal("check", tasks[0].Name)
}

func (s *APITestSuite) TestDeleteRunningTaskConflicts() {
	task := s.seedTask(&model.Task{Name: "deploy", Status: model.TaskStatusRunning})

	status, err := s.client.RawDelete("/api/tasks/" + task.ID.String())
	s.Error(err)
	s.Equal(http.StatusConflict, status)

	// the task is still there
	var fetched taskJSON
	_, err = s.client.RawGet("/api/tasks/"+task.ID.String(), &fetched)
	s.NoError(err)
}

func (s *APITestSuite) TestDeleteTaskCascadesToSubtasks() {
	parent := s.seedTask(&model.Task{Name: "deploy", Status: model.TaskStatusReady})
	parentID := parent.ID
	child := s.seedTask(&model.Task{Name: "provision", Status: model.TaskStatusReady, ParentID: &parentID})
	childID := child.ID
	grandchild := s.seedTask(&model.Task{Name: "wipe", Status: model.TaskStatusError, ParentID: &childID})

	_, err := s.client.RawDelete("/api/tasks/" + parent.ID.String())
	s.Require().NoError(err)

	for _, id := range []uuid.UUID{parent.ID, child.ID, grandchild.ID} {
		status, err := s.client.RawGet("/api/tasks/"+id.String(), nil)
		s.Error(err)
		s.Equal(http.StatusNotFound, status)
	}
}

func (s *APITestSuite) TestDeleteUnknownTask() {
	status, err := s.client.RawDelete("/api/tasks/" + uuid.New().String())
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}
