// Package dvp implements the device-version-protocol client (C2): the
// single wire protocol the manager speaks to appliances, "dvp1-http" today.
package dvp

// PollResult is the outcome of one probe attempt. Exactly one of the success
// cases (MainVersion set, Error empty) or failure cases (Error set) holds;
// LatencyMS is populated on every path that reaches the network.
type PollResult struct {
	Success         bool
	HTTPStatus      *int
	LatencyMS       *int
	Error           string
	ProtocolVersion *int
	MainVersion     string
	FirmwareVersion string
	Payload         map[string]any
}

// Target names everything the client needs to reach and authenticate to one device.
type Target struct {
	Protocol  string
	IP        string
	Port      int
	Path      string
	AuthType  string
	AuthToken string
}
