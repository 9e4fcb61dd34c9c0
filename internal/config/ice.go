package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	errICEMissingURLs       = errors.New("missing urls")
	errICEMissingUsername   = errors.New("turn urls require username")
	errICEMissingCredential = errors.New("turn urls require credential")
)

// ICESource is the raw ICE server configuration handed to browsers by
// /webrtc/ice. ServersJSON wins over the convenience fields when set.
type ICESource struct {
	ServersJSON    string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

// Servers validates the source. turnCredsMinted is set when TURN REST stamps
// credentials on every response, so TURN entries may omit static ones.
func (src ICESource) Servers(turnCredsMinted bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(src.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnCredsMinted)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitCommaSeparated(src.STUNURLs); len(urls) > 0 {
		stun := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(stun, turnCredsMinted); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, stun)
	}

	if urls := splitCommaSeparated(src.TURNURLs); len(urls) > 0 {
		turn := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(src.TURNUsername),
		}
		if cred := strings.TrimSpace(src.TURNCredential); cred != "" {
			turn.Credential = cred
		}
		if err := checkICEServer(turn, turnCredsMinted); err != nil {
			if errors.Is(err, errICEMissingUsername) || errors.Is(err, errICEMissingCredential) {
				return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
			}
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, turn)
	}

	return servers, nil
}

// iceServerEntry is one element of AERO_ICE_SERVERS_JSON. "urls" may be a
// single string, as in RTCIceServer.
type iceServerEntry struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

func (e iceServerEntry) urls() ([]string, error) {
	if len(e.URLs) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(e.URLs, &one); err == nil {
		return trimNonEmpty([]string{one}), nil
	}
	var many []string
	if err := json.Unmarshal(e.URLs, &many); err != nil {
		return nil, errors.New("urls must be a string or an array of strings")
	}
	return trimNonEmpty(many), nil
}

// ParseICEServersJSON parses and validates a JSON array of RTCIceServer-shaped
// objects.
func ParseICEServersJSON(raw string, turnCredsMinted bool) ([]webrtc.ICEServer, error) {
	var entries []iceServerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		urls, err := entry.urls()
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		server := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(entry.Username),
		}
		if strings.TrimSpace(entry.Credential) != "" {
			server.Credential = entry.Credential
		}
		if err := checkICEServer(server, turnCredsMinted); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func checkICEServer(server webrtc.ICEServer, turnCredsMinted bool) error {
	if len(server.URLs) == 0 {
		return errICEMissingURLs
	}

	hasTURN := false
	for _, raw := range server.URLs {
		scheme, err := iceURLScheme(raw)
		if err != nil {
			return err
		}
		if scheme == "turn" || scheme == "turns" {
			hasTURN = true
		}
	}
	if !hasTURN || turnCredsMinted {
		return nil
	}

	if server.Username == "" {
		return errICEMissingUsername
	}
	if cred, _ := server.Credential.(string); strings.TrimSpace(cred) == "" {
		return errICEMissingCredential
	}
	return nil
}

// iceURLScheme returns the lower-cased scheme of a stun:, stuns:, turn: or
// turns: URL.
func iceURLScheme(raw string) (string, error) {
	url := strings.TrimSpace(raw)
	if url == "" {
		return "", errors.New("urls must not contain empty entries")
	}
	scheme, _, ok := strings.Cut(url, ":")
	scheme = strings.ToLower(scheme)
	if ok {
		switch scheme {
		case "stun", "stuns", "turn", "turns":
			return scheme, nil
		}
	}
	return "", fmt.Errorf("unsupported url scheme: %q", url)
}

func splitCommaSeparated(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return trimNonEmpty(strings.Split(value, ","))
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
