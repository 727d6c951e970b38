// File: control/config.go
// Author: momentics <momentics@gmail.com>
//
// Settings loading. Values layer in the usual order: library defaults,
// then the optional config file, then WSLOOP_* environment variables.

package control

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/momentics/wsloop/api"
)

// envPrefix namespaces environment overrides, e.g. WSLOOP_MAX_CONNECTIONS.
const envPrefix = "wsloop"

// LoadSettings builds engine settings from an optional config file and
// the environment. An empty path skips the file layer. The result is
// validated; a reload that produces an invalid combination is rejected
// as a whole rather than partially applied.
func LoadSettings(path string) (api.Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, api.DefaultSettings())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return api.Settings{}, fmt.Errorf("control: reading %s: %w", path, err)
		}
	}

	s, err := settingsFromViper(v)
	if err != nil {
		return api.Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return api.Settings{}, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper, d api.Settings) {
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("queue_size", d.QueueSize)
	v.SetDefault("in_buffer_capacity", d.InBufferCapacity)
	v.SetDefault("in_buffer_grow", d.InBufferGrow)
	v.SetDefault("out_buffer_capacity", d.OutBufferCapacity)
	v.SetDefault("out_buffer_grow", d.OutBufferGrow)
	v.SetDefault("fragment_size", d.FragmentSize)
	v.SetDefault("fragments_capacity", d.FragmentsCapacity)
	v.SetDefault("fragments_grow", d.FragmentsGrow)
	v.SetDefault("fatal_kinds", fatalKindNames(d.Fatal))
	v.SetDefault("fatal_on_address_exhaustion", d.FatalOnAddressExhaustion)
	v.SetDefault("fatal_on_shutdown", d.FatalOnShutdown)
	v.SetDefault("shutdown_on_interrupt", d.ShutdownOnInterrupt)
	v.SetDefault("tcp_nodelay", d.TCPNoDelay)
	v.SetDefault("reconnect_max_interval", d.ReconnectMaxInterval)
}

func settingsFromViper(v *viper.Viper) (api.Settings, error) {
	fatal, err := parseFatalKinds(v.GetStringSlice("fatal_kinds"))
	if err != nil {
		return api.Settings{}, err
	}
	return api.Settings{
		MaxConnections:           v.GetInt("max_connections"),
		QueueSize:                v.GetInt("queue_size"),
		InBufferCapacity:         v.GetInt("in_buffer_capacity"),
		InBufferGrow:             v.GetBool("in_buffer_grow"),
		OutBufferCapacity:        v.GetInt("out_buffer_capacity"),
		OutBufferGrow:            v.GetBool("out_buffer_grow"),
		FragmentSize:             v.GetInt("fragment_size"),
		FragmentsCapacity:        v.GetInt("fragments_capacity"),
		FragmentsGrow:            v.GetBool("fragments_grow"),
		Fatal:                    fatal,
		FatalOnAddressExhaustion: v.GetBool("fatal_on_address_exhaustion"),
		FatalOnShutdown:          v.GetBool("fatal_on_shutdown"),
		ShutdownOnInterrupt:      v.GetBool("shutdown_on_interrupt"),
		TCPNoDelay:               v.GetBool("tcp_nodelay"),
		ReconnectMaxInterval:     v.GetDuration("reconnect_max_interval"),
	}, nil
}

// errorKinds maps config names onto the error taxonomy. Names follow
// the Kind.String forms.
var errorKinds = map[string]api.Kind{
	"internal": api.KindInternal,
	"capacity": api.KindCapacity,
	"protocol": api.KindProtocol,
	"encoding": api.KindEncoding,
	"io":       api.KindIO,
	"tls":      api.KindTLS,
	"queue":    api.KindQueue,
	"timer":    api.KindTimer,
	"response": api.KindResponse,
	"custom":   api.KindCustom,
}

func parseFatalKinds(names []string) (api.FatalMask, error) {
	var mask api.FatalMask
	for _, name := range names {
		kind, ok := errorKinds[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("control: unknown error kind %q in fatal_kinds", name)
		}
		mask = mask.With(kind)
	}
	return mask, nil
}

func fatalKindNames(mask api.FatalMask) []string {
	names := make([]string, 0, 2)
	for name, kind := range errorKinds {
		if mask.Has(kind) {
			names = append(names, name)
		}
	}
	return names
}
