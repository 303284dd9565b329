package dvp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProtocolDVP1HTTP       = "dvp1-http"
	DefaultPath            = "/.well-known/device-version"
	defaultTimeout         = 2 * time.Second
	wantProtocolName       = "dvp"
	wantProtocolVersion    = 1
)

// Client probes devices over the DVP wire protocol. It holds no state beyond
// the HTTP client, so a single Client is shared across every concurrent poll
// issued by internal/scheduler and internal/discovery.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Poll dispatches on Target.Protocol; "dvp1-http" is the only protocol this
// manager understands today, so anything else fails closed with a tagged
// error rather than attempting a best-effort probe.
func (c *Client) Poll(ctx context.Context, t Target) PollResult {
	switch t.Protocol {
	case ProtocolDVP1HTTP:
		return c.pollDVP1HTTP(ctx, t)
	default:
		return PollResult{
			Success: false,
			Error:   fmt.Sprintf("unsupported_device_protocol:%s", t.Protocol),
		}
	}
}

func authHeaders(authType, authToken string) map[string]string {
	switch authType {
	case "bearer":
		return map[string]string{"Authorization": "Bearer " + authToken}
	case "x-device-token":
		return map[string]string{"X-Device-Token": authToken}
	default:
		return nil
	}
}

func (c *Client) pollDVP1HTTP(ctx context.Context, t Target) PollResult {
	path := t.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", t.IP, t.Port), Path: path}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return PollResult{Success: false, Error: fmt.Sprintf("exception:%T:%v", err, err)}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range authHeaders(t.AuthType, t.AuthToken) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return classifyTransportError(err, latency)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	status := resp.StatusCode
	if readErr != nil {
		return PollResult{
			Success:    false,
			HTTPStatus: &status,
			LatencyMS:  &latency,
			Error:      fmt.Sprintf("exception:%T:%v", readErr, readErr),
		}
	}

	if status != http.StatusOK {
		return PollResult{
			Success:    false,
			HTTPStatus: &status,
			LatencyMS:  &latency,
			Error:      fmt.Sprintf("http_status:%d", status),
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PollResult{
			Success:    false,
			HTTPStatus: &status,
			LatencyMS:  &latency,
			Error:      fmt.Sprintf("invalid_json:%T:%v", err, err),
		}
	}

	protocol, _ := payload["protocol"].(string)
	protocolVersionF, hasVersion := payload["protocol_version"].(float64)
	if protocol != wantProtocolName || !hasVersion || int(protocolVersionF) != wantProtocolVersion {
		result := PollResult{
			Success:    false,
			HTTPStatus: &status,
			LatencyMS:  &latency,
			Error:      "unsupported_protocol",
			Payload:    payload,
		}
		if hasVersion {
			v := int(protocolVersionF)
			result.ProtocolVersion = &v
		}
		return result
	}

	protocolVersion := wantProtocolVersion
	mainVersion, firmwareVersion := extractVersions(payload)
	if mainVersion == "" {
		return PollResult{
			Success:         false,
			HTTPStatus:      &status,
			LatencyMS:       &latency,
			Error:           "missing_versions.main",
			ProtocolVersion: &protocolVersion,
			FirmwareVersion: firmwareVersion,
			Payload:         payload,
		}
	}

	return PollResult{
		Success:         true,
		HTTPStatus:      &status,
		LatencyMS:       &latency,
		ProtocolVersion: &protocolVersion,
		MainVersion:     mainVersion,
		FirmwareVersion: firmwareVersion,
		Payload:         payload,
	}
}

func extractVersions(payload map[string]any) (main, firmware string) {
	versions, ok := payload["versions"].(map[string]any)
	if !ok {
		return "", ""
	}
	if mv, ok := versions["main"].(string); ok {
		main = strings.TrimSpace(mv)
	}
	if fv, ok := versions["firmware"].(string); ok {
		firmware = strings.TrimSpace(fv)
	}
	return main, firmware
}

// classifyTransportError tags a network-layer failure, distinguishing
// dial/timeout/connection errors from everything else, since neither carries
// an HTTP status to report. net/http wraps those in *url.Error; anything
// else is an unexpected exception.
func classifyTransportError(err error, latencyMS int) PollResult {
	lat := latencyMS
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return PollResult{Success: false, LatencyMS: &lat, Error: fmt.Sprintf("url_error:%v", urlErr.Err)}
	}
	return PollResult{Success: false, LatencyMS: &lat, Error: fmt.Sprintf("exception:%T:%v", err, err)}
}
