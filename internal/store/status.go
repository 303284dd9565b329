package store

import (
	"context"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// ListStatus returns the aggregated view backing GET /api/v1/status: one
// entry per device, joined against its cluster's matching baseline, its
// latest snapshot, and any unacknowledged controlled-files-change event.
//
// The files_changed state is sticky: the Reconciler writes it into
// devices.last_state like any other state, and it is also overlaid here from
// the most recent controlled_files_change event that has no later
// controlled_files_ack, so an operator's ack is what clears it rather than
// the next successful poll silently moving the device back to "ok".
func (s *Store) ListStatus(ctx context.Context, clusterID *int64) ([]*StatusEntry, error) {
	devices, err := s.ListDevices(ctx, clusterID, false)
	if err != nil {
		return nil, err
	}

	out := make([]*StatusEntry, 0, len(devices))
	for _, d := range devices {
		entry, err := s.buildStatusEntry(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) GetStatus(ctx context.Context, deviceID int64) (*StatusEntry, error) {
	d, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.buildStatusEntry(ctx, d)
}

func (s *Store) buildStatusEntry(ctx context.Context, d *Device) (*StatusEntry, error) {
	entry := &StatusEntry{Device: d, State: d.LastState}
	if entry.State == "" {
		entry.State = StateNeverPolled
	}

	baseline, err := s.GetBaseline(ctx, d.ClusterID, d.Vendor, d.Model)
	switch {
	case storeerr.Is(err, storeerr.KindNotFound):
		// no baseline configured; leave Baseline nil
	case err != nil:
		return nil, err
	default:
		entry.Baseline = baseline
	}

	snap, err := s.GetLatestSnapshot(ctx, d.ID)
	switch {
	case storeerr.Is(err, storeerr.KindNotFound):
		// never polled
	case err != nil:
		return nil, err
	default:
		entry.LatestSnapshot = snap
	}

	change, err := s.LatestUnackedControlledFilesChange(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if change != nil {
		entry.ControlledFilesChange = change
		entry.State = StateFilesChanged
	}

	return entry, nil
}
