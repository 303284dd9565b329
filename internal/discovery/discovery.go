// Package discovery implements Discovery (C8): expanding a CIDR or host list
// into a bounded target set, probing each concurrently through the DVP
// client, and upserting responders by inferred identity.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/alitto/pond/v2"
	probing "github.com/prometheus-community/pro-bing"

	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/metrics"
	"github.com/xxrust/device-version-manager/internal/store"
)

const (
	maxTargets         = 1024
	defaultProbeTimeout = 800 * time.Millisecond
	defaultPingTimeout  = 300 * time.Millisecond
)

// Target is one host/port pair to probe.
type Target struct {
	IP   string
	Port int
}

// Outcome is the per-target result returned to the caller.
type Outcome struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	DeviceID int64  `json:"device_id,omitempty"`
	Action   string `json:"action,omitempty"` // "created" | "updated"
}

// Discoverer probes a target list and upserts responders into the Store.
type Discoverer struct {
	store      *store.Store
	dvp        *dvp.Client
	log        *slog.Logger
	pool       pond.ResultPool[Outcome]
	pingFilter bool
}

type Option func(*Discoverer)

// WithPingPreFilter enables an ICMP echo pre-check before the HTTP probe.
// A host that fails the ping is not probed over HTTP; it yields a failed
// outcome with error "unreachable:icmp" and is not upserted (§4.8).
func WithPingPreFilter(enabled bool) Option {
	return func(d *Discoverer) { d.pingFilter = enabled }
}

func New(st *store.Store, dvpClient *dvp.Client, log *slog.Logger, concurrency int, opts ...Option) *Discoverer {
	if log == nil {
		log = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 32
	}
	d := &Discoverer{store: st, dvp: dvpClient, log: log, pool: pond.NewResultPool[Outcome](concurrency)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExpandCIDR enumerates every address in cidr, network and broadcast
// addresses included, capped at maxTargets, paired with port.
func ExpandCIDR(cidr string, port int) ([]Target, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse cidr: %w", err)
	}

	var out []Target
	for cur := cloneIP(ip.Mask(ipnet.Mask)); ipnet.Contains(cur) && len(out) < maxTargets; incIP(cur) {
		out = append(out, Target{IP: cur.String(), Port: port})
	}
	return out, nil
}

// ExpandHosts pairs each host string with port, capped at maxTargets.
func ExpandHosts(hosts []string, port int) []Target {
	out := make([]Target, 0, len(hosts))
	for _, h := range hosts {
		if len(out) >= maxTargets {
			break
		}
		out = append(out, Target{IP: h, Port: port})
	}
	return out
}

// Run probes every target with bounded concurrency and upserts responders.
func (d *Discoverer) Run(ctx context.Context, targets []Target, path, authType, authToken string) []Outcome {
	group := d.pool.NewGroupContext(ctx)
	for _, t := range targets {
		target := t
		group.SubmitErr(func() (Outcome, error) {
			return d.probeOne(ctx, target, path, authType, authToken), nil
		})
	}
	results, _ := group.Wait()
	return results
}

func (d *Discoverer) probeOne(ctx context.Context, t Target, path, authType, authToken string) Outcome {
	if d.pingFilter && !d.pingReachable(ctx, t.IP) {
		metrics.RecordDiscoveryTarget("ping_filtered")
		return Outcome{IP: t.IP, Port: t.Port, Success: false, Error: "unreachable:icmp"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	result := d.dvp.Poll(probeCtx, dvp.Target{
		Protocol: dvp.ProtocolDVP1HTTP, IP: t.IP, Port: t.Port, Path: path,
		AuthType: authType, AuthToken: authToken,
	})
	if !result.Success {
		metrics.RecordDiscoveryTarget("no_response")
		return Outcome{IP: t.IP, Port: t.Port, Success: false, Error: result.Error}
	}
	metrics.RecordDiscoveryTarget("responded")

	identity := inferIdentity(result.Payload)
	if identity.Serial == "" {
		return Outcome{IP: t.IP, Port: t.Port, Success: false, Error: "missing_device_identity"}
	}

	id, action, err := d.store.UpsertDeviceByKey(ctx, &store.Device{
		DeviceKey: identity.Serial, Vendor: identity.Vendor, Model: identity.Model,
		IP: t.IP, Port: t.Port, Protocol: dvp.ProtocolDVP1HTTP, Path: path,
		AuthType: store.DeviceAuthType(authType), AuthToken: authToken, Enabled: true,
	})
	if err != nil {
		return Outcome{IP: t.IP, Port: t.Port, Success: false, Error: err.Error()}
	}

	snap := &store.Snapshot{
		DeviceID: id, ObservedAt: time.Now().UTC(), Success: true, HTTPStatus: result.HTTPStatus,
		LatencyMS: result.LatencyMS, ProtocolVersion: result.ProtocolVersion, MainVersion: result.MainVersion,
		FirmwareVersion: result.FirmwareVersion,
	}
	if _, err := d.store.RecordSnapshot(ctx, nil, snap); err != nil {
		d.log.Warn("discovery: failed to record initial snapshot", "ip", t.IP, "error", err)
	}

	return Outcome{IP: t.IP, Port: t.Port, Success: true, DeviceID: id, Action: action}
}

// pingReachable runs a single unprivileged ICMP echo with a short deadline.
// A failure here is purely a latency optimization ahead of the HTTP probe
// timeout; it is never itself treated as a definitive "unreachable" verdict
// beyond skipping the HTTP attempt (§4.8).
func (d *Discoverer) pingReachable(ctx context.Context, ip string) bool {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return true
	}
	defer pinger.Stop()
	pinger.SetPrivileged(false)
	pinger.Count = 1
	pinger.Timeout = defaultPingTimeout

	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	stats := pinger.Statistics()
	return stats.PacketsRecv > 0
}

type identity struct {
	Serial string
	Vendor string
	Model  string
}

// InferIdentity is the exported form of inferIdentity, shared with the
// register endpoint (C7) which performs the same probe-then-infer step
// outside of a CIDR/host sweep.
func InferIdentity(payload map[string]any) (serial, vendor, model string) {
	id := inferIdentity(payload)
	return id.Serial, id.Vendor, id.Model
}

// inferIdentity extracts {device_serial, supplier|vendor, device_type|model}
// from a DVP payload per §6's accepted spellings; serial takes precedence
// over id when both are present.
func inferIdentity(payload map[string]any) identity {
	dev, _ := payload["device"].(map[string]any)
	if dev == nil {
		return identity{}
	}

	id := identity{}
	if serial, ok := dev["serial"].(string); ok && serial != "" {
		id.Serial = serial
	} else if v, ok := dev["id"].(string); ok {
		id.Serial = v
	}
	if v, ok := dev["supplier"].(string); ok && v != "" {
		id.Vendor = v
	} else if v, ok := dev["vendor"].(string); ok {
		id.Vendor = v
	}
	if v, ok := dev["device_type"].(string); ok && v != "" {
		id.Model = v
	} else if v, ok := dev["model"].(string); ok {
		id.Model = v
	}
	return id
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}
