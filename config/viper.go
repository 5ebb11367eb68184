package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Viper keys read by FromViper.
const (
	KeyPreset           = "printer.preset"
	KeyBaudRate         = "printer.baud_rate"
	KeyParity           = "printer.parity"
	KeyDataBits         = "printer.data_bits"
	KeyStopBits         = "printer.stop_bits"
	KeyOnlineTimeout    = "printer.online_timeout"
	KeyOfflineTimeout   = "printer.offline_timeout"
	KeyDetectionTimeout = "printer.detection_timeout"
	KeyWriteTimeout     = "printer.write_timeout"
	KeyInitSettle       = "printer.init_settle"
	KeyClearSettle      = "printer.clear_settle"
)

// FromViper builds a Configuration from the preset named by printer.preset
// and any per-field overrides set in v. Durations accept Go duration strings
// ("750ms") or bare integers, which are read as milliseconds.
func FromViper(v *viper.Viper) (Configuration, error) {
	base, err := Preset(v.GetString(KeyPreset))
	if err != nil {
		return Configuration{}, err
	}

	var opts []Option
	if v.IsSet(KeyBaudRate) {
		opts = append(opts, WithBaudRate(v.GetInt(KeyBaudRate)))
	}
	if v.IsSet(KeyParity) {
		opts = append(opts, WithParity(Parity(strings.ToLower(strings.TrimSpace(v.GetString(KeyParity))))))
	}
	if v.IsSet(KeyDataBits) {
		opts = append(opts, WithDataBits(v.GetInt(KeyDataBits)))
	}
	if v.IsSet(KeyStopBits) {
		opts = append(opts, WithStopBits(StopBits(strings.TrimSpace(v.GetString(KeyStopBits)))))
	}

	durations := []struct {
		key string
		opt func(time.Duration) Option
	}{
		{KeyOnlineTimeout, WithOnlineTimeout},
		{KeyOfflineTimeout, WithOfflineTimeout},
		{KeyDetectionTimeout, WithDetectionTimeout},
		{KeyWriteTimeout, WithWriteTimeout},
		{KeyInitSettle, WithInitSettle},
		{KeyClearSettle, WithClearSettle},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			continue
		}
		val, err := parseMillis(v.Get(d.key))
		if err != nil {
			return Configuration{}, fmt.Errorf("%s: %w", d.key, err)
		}
		opts = append(opts, d.opt(val))
	}

	return base.With(opts...)
}

func parseMillis(raw any) (time.Duration, error) {
	switch val := raw.(type) {
	case time.Duration:
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		if ms, err := cast.ToInt64E(s); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	default:
		ms, err := cast.ToInt64E(val)
		if err != nil {
			return 0, err
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}
