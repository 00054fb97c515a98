// Package volumes derives a node's disk layout from its hardware inventory.
//
// Layout generation is best effort by design: callers log and notify on
// failure but never fail the operation that triggered it.
package volumes

import (
	"fmt"

	"github.com/rackforge/metald/model"
)

// osVolumeSize is the space reserved for the operating system volume group.
const osVolumeSize = int64(10) << 30

// Manager generates and checks derived volume layouts.
type Manager struct {
	// Mismatch decides whether an existing layout is stale with respect to
	// the inventory. When nil, the layout is stale if the number of
	// physical disks in the inventory differs from the number of disk
	// volumes in the layout.
	Mismatch func(meta model.Meta, existing []model.Volume) bool
}

// Generate builds the volume layout for a node: one disk volume per
// physical disk plus the derived os and storage volume groups. It fails
// when the inventory reports no usable disks.
func (m *Manager) Generate(node *model.Node) ([]model.Volume, error) {
	disks := node.Meta.Disks()
	if len(disks) == 0 {
		return nil, fmt.Errorf("node %q reports no disks", node.HumanReadableName())
	}

	var layout []model.Volume
	var total int64
	for i, disk := range disks {
		name, _ := disk["disk"].(string)
		if name == "" {
			name, _ = disk["name"].(string)
		}
		if name == "" {
			name = fmt.Sprintf("disk%d", i)
		}
		size, ok := disk["size"].(float64)
		if !ok || size <= 0 {
			return nil, fmt.Errorf("disk %q of node %q has no size", name, node.HumanReadableName())
		}
		layout = append(layout, model.Volume{Type: "disk", ID: name, Size: int64(size)})
		total += int64(size)
	}

	osSize := osVolumeSize
	if osSize > total {
		osSize = total
	}
	layout = append(layout, model.Volume{Type: "vg", ID: "os", Size: osSize})
	layout = append(layout, model.Volume{Type: "vg", ID: "storage", Size: total - osSize})
	return layout, nil
}

// NeedsRegeneration reports whether the node's current layout is stale.
func (m *Manager) NeedsRegeneration(node *model.Node) bool {
	var existing []model.Volume
	if node.Attributes != nil {
		existing = node.Attributes.Volumes
	}
	if m.Mismatch != nil {
		return m.Mismatch(node.Meta, existing)
	}
	disks := node.Meta.Disks()
	if len(disks) == 0 {
		return false
	}
	diskVolumes := 0
	for _, v := range existing {
		if v.Type == "disk" {
			diskVolumes++
		}
	}
	return len(disks) != diskVolumes
}

// FilterByType returns the layout entries of the given type; an empty type
// returns the layout unchanged.
func FilterByType(layout []model.Volume, volumeType string) []model.Volume {
	if volumeType == "" {
		return layout
	}
	var filtered []model.Volume
	for _, v := range layout {
		if v.Type == volumeType {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// MergeByType replaces the entries of the given type with the incoming
// ones, matching existing entries by (type, id). Entries of other types are
// kept untouched.
func MergeByType(layout []model.Volume, volumeType string, incoming []model.Volume) []model.Volume {
	var merged []model.Volume
	for _, v := range layout {
		if v.Type != volumeType {
			merged = append(merged, v)
		}
	}
	merged = append(merged, incoming...)
	return merged
}
