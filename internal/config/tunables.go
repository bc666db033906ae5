// Package config holds the small set of tunables spec.md otherwise leaves
// as magic numbers scattered across the transport, lifecycle, and watchdog.
// Loaded from YAML the way samoyed and katzenpost load theirs; an absent
// or partial file falls back to the literal defaults the spec prescribes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunables are the timing and sizing constants the spec fixes by prose
// but that a deployment may reasonably want to override (slower CI
// machines, a plugin known to need a longer startup grace period, etc).
type Tunables struct {
	// RingCapacity is the SharedRing's fixed capacity C in bytes. §3.
	RingCapacity int `yaml:"ringCapacity"`

	// SemaphoreTimeout bounds both sem_timedwait calls on the audio path. §5.
	SemaphoreTimeout time.Duration `yaml:"semaphoreTimeout"`

	// StartupTimeout bounds the client's non-blocking open loop on the
	// request pipe while the helper is spawning. §4.3.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// WatchdogPeriod is how often the watchdog thread wakes to check liveness. §4.5.
	WatchdogPeriod time.Duration `yaml:"watchdogPeriod"`

	// WatchdogThreshold is the number of consecutive missed ticks before
	// the watchdog forces termination. §4.5.
	WatchdogThreshold int `yaml:"watchdogThreshold"`

	// ReapTimeout bounds how long the client waits for the helper child
	// process to be reaped on shutdown. §4.6.
	ReapTimeout time.Duration `yaml:"reapTimeout"`

	// PluginSearchPath is the default colon-separated search path used
	// when RPLUGIN_PATH is unset. §4.6.
	PluginSearchPath string `yaml:"pluginSearchPath"`

	// NotificationRingSize bounds the server-side parameter-change
	// notification ring destined for the UI side-channel. §5.
	NotificationRingSize int `yaml:"notificationRingSize"`
}

// Defaults returns the literal values spec.md names.
func Defaults() *Tunables {
	return &Tunables{
		RingCapacity:         2048,
		SemaphoreTimeout:     5 * time.Second,
		StartupTimeout:       40 * time.Second,
		WatchdogPeriod:       1 * time.Second,
		WatchdogThreshold:    20,
		ReapTimeout:          3 * time.Second,
		PluginSearchPath:     "/usr/local/lib/rplugin:/usr/lib/rplugin",
		NotificationRingSize: 200,
	}
}

// Load reads tunables from a YAML file, starting from Defaults and
// overlaying whatever fields the file sets. A missing file is not an
// error; it simply yields the defaults.
func Load(path string) (*Tunables, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return t, nil
}

// OrDefaults returns t if non-nil, otherwise a fresh Defaults().
func OrDefaults(t *Tunables) *Tunables {
	if t != nil {
		return t
	}
	return Defaults()
}
