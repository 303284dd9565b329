package differ

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/metrics"
	"github.com/xxrust/device-version-manager/internal/store"
)

const diffMaxChars = 50_000

var errFetchFailed = errors.New("differ: file fetch failed")

// Differ compares the files payload of two successful polls and produces
// unified diffs for anything a ControlledFileRule watches.
type Differ struct {
	store      *store.Store
	httpClient *http.Client
}

func New(st *store.Store, httpClient *http.Client) *Differ {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Differ{store: st, httpClient: httpClient}
}

// Run computes the controlled-file changes for one reconcile pass. currPayload
// is the just-polled device payload; prevPayload is the previous successful
// poll's payload (nil if there was none). Both tx and snapshotID let the
// caller keep any newly-recorded observations inside the same transaction as
// the snapshot write.
func (d *Differ) Run(ctx context.Context, tx *sql.Tx, device *store.Device, rule *store.ControlledFileRule, currPayload, prevPayload map[string]any, snapshotID int64) ([]Change, error) {
	if rule == nil || len(rule.Paths) == 0 {
		return nil, nil
	}

	currFiles, hasCurrFiles := filesArray(currPayload)
	if !hasCurrFiles {
		return nil, nil
	}
	currSel := selectEntries(currFiles, rule.Paths)

	prevFiles, hasPrevFiles := filesArray(prevPayload)
	if !hasPrevFiles {
		// First poll where this device reports files: establish a baseline,
		// no changes to surface yet.
		for p, sel := range currSel {
			_, _ = d.ensureObservation(ctx, tx, device, rule, p, sel, snapshotID)
		}
		return nil, nil
	}
	prevSel := selectEntries(prevFiles, rule.Paths)

	paths := make(map[string]struct{}, len(currSel)+len(prevSel))
	for p := range currSel {
		paths[p] = struct{}{}
	}
	for p := range prevSel {
		paths[p] = struct{}{}
	}

	var changes []Change
	for p := range paths {
		curr, hasCurr := currSel[p]
		prev, hasPrev := prevSel[p]
		var oldFP, newFP string
		if hasPrev {
			oldFP = prev.fingerprint
		}
		if hasCurr {
			newFP = curr.fingerprint
		}
		if oldFP == newFP {
			continue
		}

		change := Change{Path: p, OldFingerprint: oldFP, NewFingerprint: newFP}

		var oldContent, newContent string
		var haveOld, haveNew bool
		if hasPrev {
			oldContent, haveOld = d.resolveOldContent(ctx, device.ID, p, prev)
		}
		if hasCurr {
			newContent, haveNew = d.ensureObservation(ctx, tx, device, rule, p, curr, snapshotID)
		}

		if haveOld && haveNew && rule.MaxBytes > 0 {
			change.Diff, change.DiffTruncated = unifiedDiff(p, oldFP, newFP, oldContent, newContent)
		}

		changes = append(changes, change)
	}

	return changes, nil
}

func (d *Differ) resolveOldContent(ctx context.Context, deviceID int64, p string, prev selected) (string, bool) {
	if prev.entry.ContentB64 != "" {
		return decodeB64(prev.entry.ContentB64)
	}
	obs, err := d.store.GetObservation(ctx, deviceID, p, prev.fingerprint)
	if err != nil || obs.ContentB64 == "" {
		return "", false
	}
	return decodeB64(obs.ContentB64)
}

// ensureObservation returns the current entry's content (decoded) and
// records it if not already cached, per the mode-driven procedure in §4.3.
func (d *Differ) ensureObservation(ctx context.Context, tx *sql.Tx, device *store.Device, rule *store.ControlledFileRule, p string, sel selected, snapshotID int64) (string, bool) {
	if existing, err := d.store.GetObservation(ctx, device.ID, p, sel.fingerprint); err == nil {
		return decodeB64(existing.ContentB64)
	}

	if rule.MaxBytes <= 0 {
		return "", false
	}

	var contentB64, encoding, contentType, source string
	truncated := false

	if (rule.Mode == store.ModeAuto || rule.Mode == store.ModeInline) && sel.entry.ContentB64 != "" {
		contentB64, truncated = truncateB64(sel.entry.ContentB64, rule.MaxBytes)
		encoding = sel.entry.Encoding
		contentType = sel.entry.ContentType
		source = "inline"
		metrics.RecordDifferFetch(source, nil)
	} else if rule.Mode == store.ModeAuto || rule.Mode == store.ModeFetch {
		fetched, fEncoding, fContentType, ok := d.fetchFileContent(ctx, device, p)
		if !ok {
			metrics.RecordDifferFetch("fetch", errFetchFailed)
			return "", false
		}
		contentB64, truncated = truncateB64(fetched, rule.MaxBytes)
		encoding = fEncoding
		contentType = fContentType
		source = "fetch"
		metrics.RecordDifferFetch(source, nil)
	} else {
		return "", false
	}

	if contentB64 == "" {
		return "", false
	}

	obs := &store.ControlledFileObservation{
		DeviceID: device.ID, Path: p, Fingerprint: sel.fingerprint, SnapshotID: snapshotID,
		ContentB64: contentB64, Encoding: encoding, ContentType: contentType,
		Truncated: truncated, Source: source,
	}
	_ = d.store.RecordObservation(ctx, tx, obs)
	return decodeB64(contentB64)
}

func (d *Differ) fetchFileContent(ctx context.Context, device *store.Device, p string) (contentB64, encoding, contentType string, ok bool) {
	u := url.URL{
		Scheme:   "http",
		Host:     fmt.Sprintf("%s:%d", device.IP, device.Port),
		Path:     dvp.DefaultPath + "/file",
		RawQuery: url.Values{"path": []string{p}}.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", "", false
	}
	req.Header.Set("Accept", "application/json")
	switch device.AuthType {
	case store.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+device.AuthToken)
	case store.AuthXDeviceToken:
		req.Header.Set("X-Device-Token", device.AuthToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", "", "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", "", false
	}

	var body struct {
		ContentB64  string `json:"content_b64"`
		Encoding    string `json:"encoding"`
		ContentType string `json:"content_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ContentB64 == "" {
		return "", "", "", false
	}
	return body.ContentB64, body.Encoding, body.ContentType, true
}

func filesArray(payload map[string]any) ([]any, bool) {
	if payload == nil {
		return nil, false
	}
	raw, ok := payload["files"]
	if !ok {
		return nil, false
	}
	arr, ok := raw.([]any)
	return arr, ok
}

// selectEntries normalizes every file entry and keeps the ones matching at
// least one of the rule's globs, keyed by normalized path.
func selectEntries(raw []any, globs []string) map[string]selected {
	out := make(map[string]selected)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := decodeEntry(m)
		if entry.Path == "" {
			continue
		}
		fp, ok := fingerprintOf(m)
		if !ok {
			continue
		}
		if !matchesAnyGlob(entry.Path, globs) {
			continue
		}
		out[entry.Path] = selected{entry: entry, fingerprint: fp}
	}
	return out
}

func decodeEntry(m map[string]any) FileEntry {
	e := FileEntry{}
	e.Path = strings.TrimSpace(stringField(m, "path"))
	e.Checksum = stringField(m, "checksum")
	e.Mtime = stringField(m, "mtime")
	e.Encoding = stringField(m, "encoding")
	e.ContentType = stringField(m, "content_type")
	e.ContentB64 = stringField(m, "content_b64")
	e.Content = stringField(m, "content")
	if sz, ok := m["size"].(float64); ok {
		v := int64(sz)
		e.Size = &v
	}
	if e.ContentB64 == "" && e.Content != "" {
		e.ContentB64 = base64.StdEncoding.EncodeToString([]byte(e.Content))
		e.Encoding = "utf-8"
	}
	return e
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func fingerprintOf(m map[string]any) (string, bool) {
	if cs, ok := m["checksum"].(string); ok && cs != "" {
		return cs, true
	}
	_, hasSize := m["size"]
	_, hasMtime := m["mtime"]
	if !hasSize && !hasMtime {
		return "", false
	}
	size := ""
	if sz, ok := m["size"].(float64); ok {
		size = strconv.FormatInt(int64(sz), 10)
	}
	mtime := stringField(m, "mtime")
	return fmt.Sprintf("size=%s|mtime=%s", size, mtime), true
}

// matchesAnyGlob compares both pattern and path with backslashes normalized
// to forward slashes, so POSIX-style rules still match Windows-style device
// reports.
func matchesAnyGlob(p string, globs []string) bool {
	normPath := strings.ReplaceAll(p, `\`, `/`)
	for _, g := range globs {
		normGlob := strings.ReplaceAll(g, `\`, `/`)
		if ok, err := path.Match(normGlob, normPath); err == nil && ok {
			return true
		}
	}
	return false
}

func decodeB64(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func truncateB64(contentB64 string, maxBytes int) (out string, truncated bool) {
	raw, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		return "", false
	}
	if len(raw) <= maxBytes {
		return contentB64, false
	}
	return base64.StdEncoding.EncodeToString(raw[:maxBytes]), true
}

func unifiedDiff(p, oldFP, newFP, oldContent, newContent string) (diff string, truncated bool) {
	oldLabel := fmt.Sprintf("%s@%s", p, oldFP)
	newLabel := fmt.Sprintf("%s@%s", p, newFP)
	edits := myers.ComputeEdits(span.URIFromPath(oldLabel), oldContent, newContent)
	unified := gotextdiff.ToUnified(oldLabel, newLabel, oldContent, edits)
	text := fmt.Sprint(unified)
	if len(text) > diffMaxChars {
		return text[:diffMaxChars], true
	}
	return text, false
}
