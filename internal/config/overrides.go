package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Override keys, shared by flags, environment variables and kollab.yml.
const (
	KeyBoard         = "board"
	KeyRedisURL      = "redis.url"
	KeyServerAddr    = "server.addr"
	KeyGracePeriod   = "locks.grace_period"
	KeyStaleAfter    = "locks.stale_after"
	KeySweepInterval = "locks.sweep_interval"
	KeyEnforceLocks  = "locks.enforce"
	KeyKeepServer    = "merge.keep_server_fields"
	KeySendBuffer    = "realtime.send_buffer"
	KeyPingInterval  = "realtime.ping_interval"
	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
)

// NewViper returns a viper instance reading KOLLAB_* environment variables, with
// dots in keys mapped to underscores (KOLLAB_LOCKS_GRACE_PERIOD).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the named flags to their keys. Flags absent from fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, flagToKey map[string]string) error {
	for flagName, key := range flagToKey {
		f := fs.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", flagName, err)
		}
	}
	return nil
}

// ApplyOverrides copies every key explicitly set in v (by a changed flag or an
// environment variable) onto c.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	strs := map[string]*string{
		KeyBoard:      &c.Board,
		KeyRedisURL:   &c.Redis.URL,
		KeyServerAddr: &c.Server.Addr,
		KeyLogLevel:   &c.Log.Level,
		KeyLogFormat:  &c.Log.Format,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	durations := map[string]*time.Duration{
		KeyGracePeriod:   &c.Locks.GracePeriod,
		KeyStaleAfter:    &c.Locks.StaleAfter,
		KeySweepInterval: &c.Locks.SweepInterval,
		KeyPingInterval:  &c.Realtime.PingInterval,
	}
	for key, dst := range durations {
		if v.IsSet(key) {
			d, err := time.ParseDuration(v.GetString(key))
			if err != nil {
				return fmt.Errorf("invalid %s override: %w", key, err)
			}
			*dst = d
		}
	}

	if v.IsSet(KeyEnforceLocks) {
		c.Locks.Enforce = v.GetBool(KeyEnforceLocks)
	}
	if v.IsSet(KeySendBuffer) {
		c.Realtime.SendBuffer = v.GetInt(KeySendBuffer)
	}
	if v.IsSet(KeyKeepServer) {
		c.Merge.KeepServerFields = splitList(v.Get(KeyKeepServer))
	}

	return nil
}

// splitList accepts a comma-separated string (environment) or a string slice (flags).
func splitList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		for _, item := range val {
			parts = append(parts, strings.Split(item, ",")...)
		}
	case []any:
		for _, item := range val {
			parts = append(parts, strings.Split(fmt.Sprint(item), ",")...)
		}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
