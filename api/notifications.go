package api

import (
	"net/http"

	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/storage"
)

var notificationFields = render.Spec{
	render.F("id"),
	render.F("category"),
	render.F("message"),
	render.F("node_id"),
	render.F("created_at"),
}

func (a *API) getNotifications(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	notifications, err := s.Notifications()
	if err != nil {
		return err
	}
	srcs := make([]render.Source, len(notifications))
	for i, n := range notifications {
		srcs[i] = n
	}
	writeJSON(w, http.StatusOK, render.Collection(srcs, notificationFields))
	return nil
}
