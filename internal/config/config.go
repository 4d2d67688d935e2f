// Package config implements the ambient configuration surface shared by
// every cmd/* daemon: socket path, serial line rate, cadence/timeout knobs
// and log verbosity are loaded once at startup from an optional YAML file
// layered over compiled-in defaults, and a fsnotify watch re-reads the file
// on change, swaps in the whole new Config and calls the OnChange callback.
// Axis calibration is not part of Config; it is compiled into axis.Table.
//
// It is grounded on cmd/multiserver/main.go's koanf setup: a
// structs.Provider seeded with Default()'s "koanf"-tagged
// values, then an optional file.Provider/yaml.Parser overlay that is
// tolerated missing (a fresh boat has no config file yet and runs on
// defaults).
package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

// Config holds every ambient tunable shared across the actuator core's
// daemons. Axis calibration itself lives in internal/axis.Table; Config
// only carries the knobs an operator might plausibly want to change without
// a rebuild.
type Config struct {
	// LineBusSocket is the Unix domain socket the bus clients dial;
	// linebusd listens on the path given on its own command line.
	LineBusSocket string `koanf:"linebus_socket"`
	// SerialPort names an RS-232 device; cmd/eposcom takes its device path
	// from the command line and does not read this field.
	SerialPort string `koanf:"serial_port"`
	// SerialBaud is the RS-232 line rate eposcom opens the port at.
	SerialBaud int `koanf:"serial_baud"`

	// ProbeHz is the periodic prober's request rate.
	ProbeHz int `koanf:"probe_hz"`

	// PendingTTLMs and ValidTTLMs tune the register cache client's
	// PENDING/VALID expiration windows.
	PendingTTLMs int `koanf:"pending_ttl_ms"`
	ValidTTLMs   int `koanf:"valid_ttl_ms"`

	// RudderStsMinMs and RudderStsMaxMs tune the status aggregator's
	// report cadence.
	RudderStsMinMs int `koanf:"ruddersts_min_ms"`
	RudderStsMaxMs int `koanf:"ruddersts_max_ms"`

	// DiagAddr is the listen address for the read-only diagnostic HTTP
	// surface; empty disables it.
	DiagAddr string `koanf:"diag_addr"`

	// Debug enables verbose (DEBUG-level) logging across every daemon.
	Debug bool `koanf:"debug"`
}

// Default returns the compiled-in configuration every daemon starts from
// before any file overlay is applied.
func Default() Config {
	return Config{
		LineBusSocket:  "/var/run/actuatorcore/lbus.sock",
		SerialPort:     "/dev/ttyS0",
		SerialBaud:     38400,
		ProbeHz:        8,
		PendingTTLMs:   1000,
		ValidTTLMs:     5000,
		RudderStsMinMs: 250,
		RudderStsMaxMs: 1000,
		DiagAddr:       ":8420",
		Debug:          false,
	}
}

func (c Config) PendingTTL() time.Duration { return time.Duration(c.PendingTTLMs) * time.Millisecond }
func (c Config) ValidTTL() time.Duration   { return time.Duration(c.ValidTTLMs) * time.Millisecond }
func (c Config) RudderStsMin() time.Duration {
	return time.Duration(c.RudderStsMinMs) * time.Millisecond
}
func (c Config) RudderStsMax() time.Duration {
	return time.Duration(c.RudderStsMaxMs) * time.Millisecond
}

// Loader owns the koanf instance and the file path a daemon was configured
// from, and hands out atomically-swapped snapshots of Config.
type Loader struct {
	k        *koanf.Koanf
	path     string
	log      *ratelog.Logger
	current  atomic.Pointer[Config]
	onChange func(Config)
}

// NewLoader loads path over the compiled-in defaults (tolerating a missing
// file) and returns a Loader holding the result.
func NewLoader(path string, log *ratelog.Logger) (*Loader, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}
	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	l := &Loader{k: k, path: path, log: log}
	c, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	l.current.Store(&c)
	return l, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	err := k.Load(file.Provider(path), yaml.Parser())
	if err != nil && !strings.Contains(err.Error(), "no such") {
		return err
	}
	return nil
}

func (l *Loader) unmarshal() (Config, error) {
	var c Config
	if err := l.k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Get returns the current configuration snapshot.
func (l *Loader) Get() Config {
	return *l.current.Load()
}

// OnChange registers a callback invoked (on the watch goroutine) after each
// successful hot-reload.
func (l *Loader) OnChange(fn func(Config)) { l.onChange = fn }

// Watch starts an fsnotify watch on the loader's config file, re-reading and
// atomically swapping Config on every write/create event until stop is
// closed. It is a no-op if the Loader was constructed with an empty path.
func (l *Loader) Watch(stop <-chan struct{}) error {
	if l.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				l.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warningf("config watch error: %v", err)
			}
		}
	}()
	return nil
}

func (l *Loader) reload() {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		l.log.Errorf("config reload: %v", err)
		return
	}
	if err := loadFile(k, l.path); err != nil {
		l.log.Errorf("config reload: %v", err)
		return
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		l.log.Errorf("config reload: %v", err)
		return
	}
	l.k = k
	l.current.Store(&c)
	l.log.Infof("config reloaded from %s", l.path)
	if l.onChange != nil {
		l.onChange(c)
	}
}
