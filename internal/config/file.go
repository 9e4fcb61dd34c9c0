package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the optional TOML config file. Every key maps onto the env
// var of the same setting, so a file only supplies defaults: env vars and
// flags still win.
//
//	listen_addr = "0.0.0.0:8080"
//	allowed_origins = ["https://app.example.com"]
//
//	[signaling]
//	idle_timeout = "90s"
//	host_policy = "exclusive"
type fileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	PublicBaseURL   string   `toml:"public_base_url"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	Mode            string   `toml:"mode"`
	LogFormat       string   `toml:"log_format"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	StaticDir       string   `toml:"static_dir"`

	ICE       fileICEConfig       `toml:"ice"`
	TURNREST  fileTURNRESTConfig  `toml:"turn_rest"`
	Signaling fileSignalingConfig `toml:"signaling"`
}

type fileICEConfig struct {
	ServersJSON    string   `toml:"servers_json"`
	STUNURLs       []string `toml:"stun_urls"`
	TURNURLs       []string `toml:"turn_urls"`
	TURNUsername   string   `toml:"turn_username"`
	TURNCredential string   `toml:"turn_credential"`
}

type fileTURNRESTConfig struct {
	SharedSecret   string `toml:"shared_secret"`
	TTLSeconds     *int64 `toml:"ttl_seconds"`
	UsernamePrefix string `toml:"username_prefix"`
	Realm          string `toml:"realm"`
}

type fileSignalingConfig struct {
	IdleTimeout          string `toml:"idle_timeout"`
	PingInterval         string `toml:"ping_interval"`
	MaxMessageBytes      *int   `toml:"max_message_bytes"`
	MaxMessagesPerSecond *int   `toml:"max_messages_per_second"`
	SendQueueSize        *int   `toml:"send_queue_size"`
	MaxConnections       *int   `toml:"max_connections"`
	HostPolicy           string `toml:"host_policy"`
	MaxRoomIDLength      *int   `toml:"max_room_id_length"`
}

// readConfigFile decodes path and flattens it into env var keyed values.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func readConfigFile(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	md, err := toml.Decode(string(content), &fc)
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config file keys: %s", strings.Join(keys, ", "))
	}
	return fc.values(), nil
}

func (fc fileConfig) values() map[string]string {
	out := make(map[string]string)
	setString := func(key, v string) {
		if strings.TrimSpace(v) != "" {
			out[key] = v
		}
	}
	setList := func(key string, v []string) {
		if len(v) > 0 {
			out[key] = strings.Join(v, ",")
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			out[key] = strconv.Itoa(*v)
		}
	}

	setString(envVarListenAddr, fc.ListenAddr)
	setString(envVarPublicBaseURL, fc.PublicBaseURL)
	setList(envVarAllowedOrigins, fc.AllowedOrigins)
	setString(envVarMode, fc.Mode)
	setString(envVarLogFormat, fc.LogFormat)
	setString(envVarLogLevel, fc.LogLevel)
	setString(envVarShutdownTimeout, fc.ShutdownTimeout)
	setString(envVarStaticDir, fc.StaticDir)

	setString(envICEServersJSON, fc.ICE.ServersJSON)
	setList(envStunURLs, fc.ICE.STUNURLs)
	setList(envTurnURLs, fc.ICE.TURNURLs)
	setString(envTurnUsername, fc.ICE.TURNUsername)
	setString(envTurnCredential, fc.ICE.TURNCredential)

	setString(envVarTURNRESTSharedSecret, fc.TURNREST.SharedSecret)
	if fc.TURNREST.TTLSeconds != nil {
		out[envVarTURNRESTTTLSeconds] = strconv.FormatInt(*fc.TURNREST.TTLSeconds, 10)
	}
	setString(envVarTURNRESTUsernamePrefix, fc.TURNREST.UsernamePrefix)
	setString(envVarTURNRESTRealm, fc.TURNREST.Realm)

	setString(envVarSignalingWSIdleTimeout, fc.Signaling.IdleTimeout)
	setString(envVarSignalingWSPingInterval, fc.Signaling.PingInterval)
	setInt(envVarMaxSignalingMessageBytes, fc.Signaling.MaxMessageBytes)
	setInt(envVarMaxSignalingMessagesPerSecond, fc.Signaling.MaxMessagesPerSecond)
	setInt(envVarSignalingSendQueueSize, fc.Signaling.SendQueueSize)
	setInt(envVarMaxConnections, fc.Signaling.MaxConnections)
	setString(envVarHostPolicy, fc.Signaling.HostPolicy)
	setInt(envVarMaxRoomIDLength, fc.Signaling.MaxRoomIDLength)

	return out
}

// layeredLookup consults env first and falls back to the file values. An env
// var set to the empty string counts as unset, matching envOrDefault.
func layeredLookup(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}
