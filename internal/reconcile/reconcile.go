// Package reconcile implements the Reconciler (C4): the per-device pipeline
// that polls a device, appends a snapshot, runs the controlled-files differ,
// derives the device's new state, and emits events (plus a best-effort
// webhook) on every transition.
package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xxrust/device-version-manager/internal/differ"
	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/metrics"
	"github.com/xxrust/device-version-manager/internal/store"
)

// Notifier is the narrow webhook interface the Reconciler fires events
// through; internal/webhook.Notifier satisfies it.
type Notifier interface {
	Notify(eventType string, payload map[string]any)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, map[string]any) {}

// Reconciler owns one pass of poll → snapshot → differ → state → events for
// a single device.
type Reconciler struct {
	store    *store.Store
	dvp      *dvp.Client
	differ   *differ.Differ
	notifier Notifier
	log      *slog.Logger
}

func New(st *store.Store, dvpClient *dvp.Client, diff *differ.Differ, notifier Notifier, log *slog.Logger) *Reconciler {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: st, dvp: dvpClient, differ: diff, notifier: notifier, log: log}
}

// Result summarizes one reconcile pass for callers that aggregate across a
// fan-out (the Scheduler's periodic loop and the on-demand poll endpoint).
type Result struct {
	DeviceID   int64  `json:"device_id"`
	Success    bool   `json:"success"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	NumChanges int    `json:"num_changes,omitempty"`
}

// Reconcile runs the full 9-step pipeline in §4.4 for one device.
// pollTimeout bounds only the DVP probe itself, not the store writes that follow.
func (r *Reconciler) Reconcile(ctx context.Context, device *store.Device, pollTimeout time.Duration) Result {
	pollStart := time.Now()
	prevSuccess, _ := r.store.GetLatestSuccessSnapshot(ctx, device.ID)
	var prevMain string
	var prevPayload map[string]any
	if prevSuccess != nil {
		prevMain = prevSuccess.MainVersion
		prevPayload = decodePayload(prevSuccess.Payload)
	}

	pollCtx := ctx
	if pollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, pollTimeout)
		defer cancel()
	}
	result := r.dvp.Poll(pollCtx, dvp.Target{
		Protocol: device.Protocol, IP: device.IP, Port: device.Port, Path: device.Path,
		AuthType: string(device.AuthType), AuthToken: device.AuthToken,
	})

	currPayload := result.Payload
	snap := &store.Snapshot{
		DeviceID: device.ID, ObservedAt: time.Now().UTC(), Success: result.Success, HTTPStatus: result.HTTPStatus,
		LatencyMS: result.LatencyMS, Error: result.Error, ProtocolVersion: result.ProtocolVersion,
		MainVersion: result.MainVersion, FirmwareVersion: result.FirmwareVersion, Payload: encodePayload(currPayload),
	}

	var snapshotID int64
	var changes []differ.Change

	txStart := time.Now()
	txErr := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := r.store.RecordSnapshot(ctx, tx, snap)
		if err != nil {
			return err
		}
		snapshotID = id

		if result.Success {
			if rule, err := r.store.GetControlledFileRule(ctx, device.ClusterID, device.Vendor, device.Model); err == nil {
				diffChanges, derr := r.differ.Run(ctx, tx, device, rule, currPayload, prevPayload, snapshotID)
				if derr != nil {
					r.log.Warn("controlled-files differ failed; continuing with zero changes", "device_id", device.ID, "error", derr)
				} else {
					changes = diffChanges
				}
			}
		}
		return nil
	})
	metrics.SnapshotWriteDuration.Observe(time.Since(txStart).Seconds())
	if txErr != nil {
		return Result{DeviceID: device.ID, Success: false, Error: txErr.Error()}
	}

	if result.Success && result.MainVersion != "" {
		if err := r.store.EnsureVersionCatalogEntry(ctx, device.Vendor, device.Model, result.MainVersion); err != nil {
			r.log.Warn("ensure version catalog entry failed", "device_id", device.ID, "error", err)
		}
	}

	baseline, _ := r.store.GetBaseline(ctx, device.ClusterID, device.Vendor, device.Model)
	newState, message := computeState(result, baseline, changes)

	if newState != device.LastState {
		if err := r.store.UpdateDeviceState(ctx, device.ID, newState); err != nil {
			r.log.Warn("update device state failed", "device_id", device.ID, "error", err)
		}
		evPayload := map[string]any{
			"device_id":      device.ID,
			"main_version":   result.MainVersion,
			"http_status":    result.HTTPStatus,
			"error":          result.Error,
			"num_changes":    len(changes),
		}
		r.emitEvent(ctx, device.ID, store.EventStateChange, device.LastState, newState, message, evPayload)
		r.notifier.Notify(store.EventStateChange, mergeEventFields(evPayload, map[string]any{
			"old_state": device.LastState, "new_state": newState, "message": message, "device_id": device.ID,
		}))
	}

	if result.Success && result.MainVersion != "" && result.MainVersion != prevMain {
		evType := store.EventVersionChange
		if prevMain == "" {
			evType = store.EventVersionObserved
		}
		catalogPayload := map[string]any{"device_id": device.ID, "main_version": result.MainVersion, "previous": prevMain}
		if entry, err := r.store.GetVersionCatalogEntry(ctx, device.Vendor, device.Model, result.MainVersion); err == nil {
			catalogPayload["risk_level"] = entry.RiskLevel
			catalogPayload["changelog_md"] = entry.ChangelogMD
		}
		r.emitEvent(ctx, device.ID, evType, "", "", "", catalogPayload)
		r.notifier.Notify(evType, catalogPayload)
	}

	if len(changes) > 0 {
		changesPayload := map[string]any{"device_id": device.ID, "changes": changes}
		r.emitEvent(ctx, device.ID, store.EventControlledFilesChange, "", "", "", changesPayload)
		r.notifier.Notify(store.EventControlledFilesChange, changesPayload)
	}

	metrics.RecordPoll(newState, time.Since(pollStart))
	return Result{DeviceID: device.ID, Success: result.Success, State: newState, Error: result.Error, NumChanges: len(changes)}
}

func (r *Reconciler) emitEvent(ctx context.Context, deviceID int64, eventType, oldState, newState, message string, payload map[string]any) {
	e := &store.Event{DeviceID: deviceID, EventType: eventType, OldState: oldState, NewState: newState, Message: message, Payload: encodePayload(payload)}
	if _, err := r.store.CreateEvent(ctx, nil, e); err != nil {
		r.log.Warn("emit event failed", "device_id", deviceID, "event_type", eventType, "error", err)
	}
}

// computeState is the pure state function f(device, result, changes) from §4.4.
func computeState(result dvp.PollResult, baseline *store.Baseline, changes []differ.Change) (state, message string) {
	if !result.Success {
		return store.StateOffline, result.Error
	}
	if baseline == nil {
		return store.StateNoBaseline, "no baseline configured for this cluster/vendor/model"
	}
	if store.BaselineAllows(baseline, result.MainVersion) {
		if len(changes) > 0 {
			return store.StateFilesChanged, fmt.Sprintf("%d controlled file(s) changed", len(changes))
		}
		return store.StateOK, ""
	}
	return store.StateMismatch, fmt.Sprintf("mismatch expected=%s observed=%s", baseline.ExpectedMainVersion, result.MainVersion)
}

func decodePayload(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func encodePayload(m map[string]any) []byte {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func mergeEventFields(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
