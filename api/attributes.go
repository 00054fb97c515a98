package api

import (
	"net/http"

	"github.com/rackforge/metald/core/logger"
	"github.com/rackforge/metald/core/render"
	"github.com/rackforge/metald/model"
	"github.com/rackforge/metald/storage"
	"github.com/rackforge/metald/validation"
	"github.com/rackforge/metald/volumes"
)

var attributeFields = render.Spec{
	render.F("node_id"),
	render.F("volumes"),
}

func (a *API) loadNodeForAttributes(s storage.Session, r *http.Request) (*model.Node, error) {
	id, err := pathID(r, "node_id")
	if err != nil {
		return nil, err
	}
	node, err := s.Node(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, notFound("node", id)
		}
		return nil, err
	}
	if node.Attributes == nil {
		node.Attributes = &model.NodeAttributes{NodeID: node.ID}
	}
	return node, nil
}

func (a *API) getNodeAttributes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	node, err := a.loadNodeForAttributes(s, r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(node.Attributes, attributeFields))
	return nil
}

// attributesDoc is the wire shape of an attributes update.
type attributesDoc struct {
	Volumes *[]model.Volume `json:"volumes"`
}

func (a *API) putNodeAttributes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
	node, err := a.loadNodeForAttributes(s, r)
	if err != nil {
		return err
	}
	if node.Status.InProgress() {
		return &ConflictError{Reason: "cannot change attributes while the node is being deployed"}
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	var doc attributesDoc
	if err := validation.DecodeStrict(body, &doc); err != nil {
		return err
	}
	if doc.Volumes != nil {
		node.Attributes.Volumes = model.CloneVolumes(*doc.Volumes)
		a.markDisksPending(s, rlog, node)
	}
	if err := s.SaveNode(node); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(node.Attributes, attributeFields))
	return nil
}

// getNodeAttributesDefaults answers what the generated attributes would
// look like right now, without persisting anything. ?type= narrows the
// volume layout to one volume type.
func (a *API) getNodeAttributesDefaults(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	node, err := a.loadNodeForAttributes(s, r)
	if err != nil {
		return err
	}
	layout, err := a.volumes.Generate(node)
	if err != nil {
		return validation.Invalid("%s", err.Error())
	}
	defaults := &model.NodeAttributes{
		NodeID:  node.ID,
		Volumes: volumes.FilterByType(layout, r.URL.Query().Get("type")),
	}
	writeJSON(w, http.StatusOK, render.Entity(defaults, attributeFields))
	return nil
}

// putNodeAttributesDefaults resets the node's attributes to freshly
// generated ones.
func (a *API) putNodeAttributesDefaults(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
	node, err := a.loadNodeForAttributes(s, r)
	if err != nil {
		return err
	}
	if node.Status.InProgress() {
		return &ConflictError{Reason: "cannot change attributes while the node is being deployed"}
	}
	layout, err := a.volumes.Generate(node)
	if err != nil {
		return validation.Invalid("%s", err.Error())
	}
	node.Attributes.Volumes = layout
	a.markDisksPending(s, rlog, node)
	if err := s.SaveNode(node); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, render.Entity(node.Attributes, attributeFields))
	return nil
}

func (a *API) getNodeVolumes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	node, err := a.loadNodeForAttributes(s, r)
	if err != nil {
		return err
	}
	layout := volumes.FilterByType(node.Attributes.Volumes, r.URL.Query().Get("type"))
	if layout == nil {
		layout = []model.Volume{}
	}
	writeJSON(w, http.StatusOK, layout)
	return nil
}

// putNodeVolumes replaces the node's volume layout. With ?type= only the
// entries of that type are replaced, the rest of the layout stays.
func (a *API) putNodeVolumes(s storage.Session, w http.ResponseWriter, r *http.Request) error {
	rlog := logger.FromContext(r.Context())
	node, err := a.loadNodeForAttributes(s, r)
	if err != nil {
		return err
	}
	if node.Status.InProgress() {
		return &ConflictError{Reason: "cannot change volumes while the node is being deployed"}
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	var incoming []model.Volume
	if err := validation.DecodeStrict(body, &incoming); err != nil {
		return err
	}
	if volumeType := r.URL.Query().Get("type"); volumeType != "" {
		for _, v := range incoming {
			if v.Type != volumeType {
				return validation.Invalid("volume %q is not of type %q", v.ID, volumeType)
			}
		}
		node.Attributes.Volumes = volumes.MergeByType(node.Attributes.Volumes, volumeType, incoming)
	} else {
		node.Attributes.Volumes = incoming
	}
	a.markDisksPending(s, rlog, node)
	if err := s.SaveNode(node); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, node.Attributes.Volumes)
	return nil
}
