package store

import "time"

// Cluster is a logical grouping of devices that shares baselines and rules.
type Cluster struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeviceAuthType enumerates how the manager authenticates to a device.
type DeviceAuthType string

const (
	AuthNone          DeviceAuthType = "none"
	AuthBearer        DeviceAuthType = "bearer"
	AuthXDeviceToken  DeviceAuthType = "x-device-token"
)

// Device is a single on-prem appliance under management.
type Device struct {
	ID          int64          `json:"id"`
	ClusterID   int64          `json:"cluster_id"`
	DeviceKey   string         `json:"device_key"`
	Vendor      string         `json:"vendor"`
	Model       string         `json:"model"`
	LineNo      string         `json:"line_no,omitempty"`
	IP          string         `json:"ip"`
	Port        int            `json:"port"`
	Protocol    string         `json:"protocol"`
	Path        string         `json:"path"`
	AuthType    DeviceAuthType `json:"auth_type"`
	AuthToken   string         `json:"-"`
	Enabled     bool           `json:"enabled"`
	LastState   string         `json:"last_state,omitempty"`
	LastStateAt *time.Time     `json:"last_state_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DeviceUpdate carries the partial fields accepted by Store.UpdateDevice.
// A nil field means "leave unchanged".
type DeviceUpdate struct {
	ClusterID *int64
	DeviceKey *string
	Vendor    *string
	Model     *string
	LineNo    *string
	IP        *string
	Port      *int
	Protocol  *string
	Path      *string
	AuthType  *DeviceAuthType
	AuthToken *string
	Enabled   *bool
}

// Baseline is the expected main version (plus allowed globs) for a (cluster, vendor, model) triple.
type Baseline struct {
	ID                  int64     `json:"id"`
	ClusterID           int64     `json:"cluster_id"`
	Vendor              string    `json:"vendor"`
	Model               string    `json:"model"`
	ExpectedMainVersion string    `json:"expected_main_version"`
	AllowedMainGlobs    []string  `json:"allowed_main_globs"`
	Note                string    `json:"note,omitempty"`
	EffectiveFrom       string    `json:"effective_from,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// RuleMode controls how the differ obtains content for a controlled file.
type RuleMode string

const (
	ModeAuto   RuleMode = "auto"
	ModeInline RuleMode = "inline"
	ModeFetch  RuleMode = "fetch"
)

// ControlledFileRule names the globs the differ watches for a (cluster, vendor, model) triple.
type ControlledFileRule struct {
	ID        int64     `json:"id"`
	ClusterID int64     `json:"cluster_id"`
	Vendor    string    `json:"vendor"`
	Model     string    `json:"model"`
	Paths     []string  `json:"paths"`
	Mode      RuleMode  `json:"mode"`
	MaxBytes  int       `json:"max_bytes"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionCatalogEntry is metadata about one (vendor, model, main_version) release.
type VersionCatalogEntry struct {
	ID          int64     `json:"id"`
	Vendor      string    `json:"vendor"`
	Model       string    `json:"model"`
	MainVersion string    `json:"main_version"`
	ChangelogMD string    `json:"changelog_md,omitempty"`
	ReleasedAt  string    `json:"released_at,omitempty"`
	RiskLevel   string    `json:"risk_level,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is one append-only poll attempt for a device.
type Snapshot struct {
	ID              int64     `json:"id"`
	DeviceID        int64     `json:"device_id"`
	ObservedAt      time.Time `json:"observed_at"`
	Success         bool      `json:"success"`
	HTTPStatus      *int      `json:"http_status,omitempty"`
	LatencyMS       *int      `json:"latency_ms,omitempty"`
	Error           string    `json:"error,omitempty"`
	ProtocolVersion *int      `json:"protocol_version,omitempty"`
	MainVersion     string    `json:"main_version,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Payload         []byte    `json:"-"`
}

// ControlledFileObservation is a content-addressed cache entry for a (device, path, fingerprint).
type ControlledFileObservation struct {
	DeviceID    int64     `json:"device_id"`
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	SnapshotID  int64     `json:"snapshot_id"`
	ContentB64  string    `json:"content_b64,omitempty"`
	Encoding    string    `json:"encoding,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Truncated   bool      `json:"truncated"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event types emitted by the Reconciler.
const (
	EventStateChange           = "state_change"
	EventVersionObserved        = "version_observed"
	EventVersionChange          = "version_change"
	EventControlledFilesChange  = "controlled_files_change"
	EventControlledFilesAck     = "controlled_files_ack"
)

// Event is an append-only record raised by a reconcile pass.
type Event struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	EventType string    `json:"event_type"`
	OldState  string    `json:"old_state,omitempty"`
	NewState  string    `json:"new_state,omitempty"`
	Message   string    `json:"message,omitempty"`
	Payload   []byte    `json:"-"`
}

// Device states produced by the reconcile state function plus the view-only label.
const (
	StateNeverPolled  = "never_polled"
	StateOffline      = "offline"
	StateNoBaseline   = "no_baseline"
	StateOK           = "ok"
	StateMismatch     = "mismatch"
	StateFilesChanged = "files_changed"
)

// User is the principal a session resolves to; password storage itself is out of scope.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session backs the vm_session cookie.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatusEntry is one row of the GET /api/v1/status aggregated view.
type StatusEntry struct {
	Device                *Device   `json:"device"`
	Baseline              *Baseline `json:"baseline,omitempty"`
	LatestSnapshot        *Snapshot `json:"latest_snapshot,omitempty"`
	State                 string    `json:"state"`
	ControlledFilesChange *Event    `json:"controlled_files_change,omitempty"`
}
