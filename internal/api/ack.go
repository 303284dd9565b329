package api

import (
	"database/sql"
	"net/http"

	"github.com/xxrust/device-version-manager/internal/store"
)

// handleAckControlledFiles writes a controlled_files_ack event referencing
// the latest unacked controlled_files_change event for the device, and sets
// last_state back to "ok". This is the only thing that clears the sticky
// files_changed status (§4.4).
func (s *Server) handleAckControlledFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeInvalid(w, "invalid_device_id")
		return
	}

	device, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	change, err := s.store.LatestUnackedControlledFilesChange(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if change == nil {
		writeInvalid(w, "no_unacked_controlled_files_change")
		return
	}

	err = s.store.WithTx(r.Context(), func(tx *sql.Tx) error {
		_, err := s.store.CreateEvent(r.Context(), tx, &store.Event{
			DeviceID: id, EventType: store.EventControlledFilesAck,
			OldState: device.LastState, NewState: store.StateOK,
			Message: "acknowledged by operator",
		})
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.UpdateDeviceState(r.Context(), id, store.StateOK); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{OK: true, AckChangeEventID: change.ID})
}

type ackResponse struct {
	OK               bool  `json:"ok"`
	AckChangeEventID int64 `json:"ack_change_event_id"`
}
