package amb

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds the runtime switches of an Interface.
type Config struct {
	// NoTransmit completes every transaction with StatusTimeout without
	// touching the transport.
	NoTransmit bool

	// DebugLogFrames logs every frame written and read.
	DebugLogFrames bool

	// MonitorTimeout bounds the wait for a monitor reply.
	MonitorTimeout time.Duration

	// DiscoveryWindow is how long node discovery collects replies.
	DiscoveryWindow time.Duration

	MaxChannels int

	// QueueDepth limits pending transactions; zero means unbounded.
	QueueDepth int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MonitorTimeout:  10 * time.Millisecond,
		DiscoveryWindow: 500 * time.Millisecond,
		MaxChannels:     6,
	}
}

// Validate checks configuration values.
func (c Config) Validate() error {
	if c.MonitorTimeout <= 0 {
		return errors.New("amb: monitor timeout must be > 0")
	}
	if c.DiscoveryWindow <= 0 {
		return errors.New("amb: discovery window must be > 0")
	}
	if c.MaxChannels <= 0 {
		return errors.New("amb: max channels must be > 0")
	}
	if c.QueueDepth < 0 {
		return errors.New("amb: queue depth must be >= 0")
	}
	return nil
}

// LoadConfig reads the [amb] section of an INI file. Missing keys keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, *ini.File, error) {
	file, err := ini.Load(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("amb: load config: %w", err)
	}
	cfg, err := ConfigFromSection(file.Section("amb"))
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, file, nil
}

// ConfigFromSection builds a Config from an INI section.
func ConfigFromSection(sec *ini.Section) (Config, error) {
	def := DefaultConfig()
	cfg := Config{
		NoTransmit:      sec.Key("no_transmit").MustBool(def.NoTransmit),
		DebugLogFrames:  sec.Key("debug_log_frames").MustBool(def.DebugLogFrames),
		MonitorTimeout:  sec.Key("monitor_timeout").MustDuration(def.MonitorTimeout),
		DiscoveryWindow: sec.Key("discovery_window").MustDuration(def.DiscoveryWindow),
		MaxChannels:     sec.Key("max_channels").MustInt(def.MaxChannels),
		QueueDepth:      sec.Key("queue_depth").MustInt(def.QueueDepth),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
