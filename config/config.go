// Package config holds the tunables that govern RUDP's keep-alive,
// disconnect, outrun, RTT-smoothing and send-id-reset behavior (spec
// §6.4), with YAML-file loading layered on top of hardcoded defaults.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config collects every recognised tunable option.
type Config struct {
	// KeepaliveFirstPingUS is the delay from last-received to the first
	// PING.
	KeepaliveFirstPingUS int64 `yaml:"keepalive_first_ping_us"`
	// KeepaliveNextPingUS is the interval between subsequent PINGs.
	KeepaliveNextPingUS int64 `yaml:"keepalive_next_ping_us"`
	// DisconnectTimeoutUS is the teardown threshold on last-received age.
	DisconnectTimeoutUS int64 `yaml:"disconnect_timeout_us"`
	// MapInitialCapacity is the initial channel-map capacity hint.
	MapInitialCapacity int `yaml:"map_initial_capacity"`
	// MaxOutrunning is the receive-queue outrun cap before the optional
	// RESET policy engages.
	MaxOutrunning int `yaml:"max_outrunning"`
	// TriptimeFactor is the RTT smoothing factor (§4.5.5).
	TriptimeFactor float64 `yaml:"triptime_factor"`
	// MaxTriptimeMiddleUS caps the smoothed RTT estimate.
	MaxTriptimeMiddleUS int64 `yaml:"max_triptime_middle_us"`
	// ResetAfterID is the send-id threshold for voluntary reset when
	// queues are empty.
	ResetAfterID uint32 `yaml:"reset_after_id"`
	// MaxRTTConstUS is the protocol-wide retransmit pacing constant added
	// twice to the smoothed RTT when scheduling a retransmit (§4.5.1).
	MaxRTTConstUS int64 `yaml:"max_rtt_const_us"`

	// EnableOutrunReset and EnableSendIDReset gate the two policies the
	// original implementation guarded with a `goto skip_reset` that never
	// executed (spec §9 Open Questions). Both default to false, matching
	// the original's observed behavior, while remaining available and
	// testable — see DESIGN.md.
	EnableOutrunReset  bool `yaml:"enable_outrun_reset"`
	EnableSendIDReset  bool `yaml:"enable_send_id_reset"`
	// EnableLongRetransmitDisconnect governs the §4.5.7 optional policy
	// of disconnecting a channel whose oldest retransmit attempt has run
	// longer than MaxTriptimeMiddleUS. Default true — unlike the two
	// policies above, the source does exercise this path.
	EnableLongRetransmitDisconnect bool `yaml:"enable_long_retransmit_disconnect"`

	// BackpressureSendQueueLen is the per-channel send-queue length at or
	// above which SendDataToAll skips the channel (§4.6).
	BackpressureSendQueueLen int `yaml:"backpressure_send_queue_len"`
}

// Default returns the documented §6.4 defaults.
func Default() Config {
	return Config{
		KeepaliveFirstPingUS:           10_000_000,
		KeepaliveNextPingUS:            1_000_000,
		DisconnectTimeoutUS:            14_393_937,
		MapInitialCapacity:             100,
		MaxOutrunning:                  500,
		TriptimeFactor:                 1.5,
		MaxTriptimeMiddleUS:            5_757_575 / 2,
		ResetAfterID:                   ^uint32(0) - 1024,
		MaxRTTConstUS:                  50_000,
		EnableOutrunReset:              false,
		EnableSendIDReset:              false,
		EnableLongRetransmitDisconnect: true,
		BackpressureSendQueueLen:       100,
	}
}

// Load reads path as YAML and overlays any fields it sets onto
// Default(). A missing file is not an error — hosts that don't ship a
// config file simply get the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
