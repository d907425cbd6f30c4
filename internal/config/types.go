package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration. Durations are Go duration strings
// ("500ms", "2h30m"); validation rejects unknown keys and bad values
// before anything is applied.
type Config struct {
	Log            LogConfig        `json:"log"`
	Timezone       string           `json:"timezone,omitempty"`
	Pool           PoolConfig       `json:"pool"`
	Journal        JournalConfig    `json:"journal"`
	ErrorLogPerSec int              `json:"error_log_per_sec,omitempty"`
	Schedules      []ScheduleConfig `json:"schedules,omitempty"`
}

type LogConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type PoolConfig struct {
	Name string `json:"name,omitempty"`
}

type JournalConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// ScheduleConfig describes one periodic job routed through the bridge.
// Via selects the submission path: "direct" (ScheduleDirect) or "worker"
// (a shared sequential worker). Delay is an extra per-fire delay passed
// along with the submission.
type ScheduleConfig struct {
	Name  string `json:"name"`
	Spec  string `json:"spec"`
	Via   string `json:"via,omitempty"`
	Delay string `json:"delay,omitempty"`
}

// Normalize fills defaults and validates. It is called by Load and by the
// watcher before a reloaded config is published.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if c.Pool.Name == "" {
		c.Pool.Name = "pool"
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return fmt.Errorf("journal.path is required when journal is enabled")
	}
	if c.Journal.HistorySize < 0 {
		return fmt.Errorf("journal.history_size must be >= 0")
	}
	if _, err := ParseDurationField("journal.busy_timeout", c.Journal.BusyTimeout); err != nil {
		return err
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(strings.TrimSpace(c.Timezone)); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	for i := range c.Schedules {
		s := &c.Schedules[i]
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if strings.TrimSpace(s.Spec) == "" {
			return fmt.Errorf("schedules[%d] (%s): spec is required", i, s.Name)
		}
		switch s.Via {
		case "":
			s.Via = "worker"
		case "worker", "direct":
		default:
			return fmt.Errorf("schedules[%d] (%s): via must be \"worker\" or \"direct\"", i, s.Name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("schedules[%d].delay", i), s.Delay); err != nil {
			return err
		}
	}
	return nil
}

// JournalBusyTimeout returns the parsed busy_timeout; call after Normalize.
func (c *Config) JournalBusyTimeout() time.Duration {
	d, _ := ParseDurationField("journal.busy_timeout", c.Journal.BusyTimeout)
	return d
}

// ScheduleDelay returns the parsed per-fire delay; call after Normalize.
func (s *ScheduleConfig) ScheduleDelay() time.Duration {
	d, _ := ParseDurationField("delay", s.Delay)
	return d
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
