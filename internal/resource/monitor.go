// Package resource implements the Resource Monitor (spec.md §4.A,
// Component A): periodic sysfs sampling of thermal zones and per-device
// frequency endpoints, published through a double-buffered snapshot with
// atomic head-swap and synchronous listener notification.
package resource

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/ids"
)

var log = logrus.WithField("component", "resource_monitor")

// key identifies one sampled resource.
type key struct {
	kind    string // "thermal", "cpu_freq", "dev_freq"
	flag    int    // CPUMaskFlag or DeviceFlag, depending on kind
	id      int    // thermal zone id
}

// Config groups the monitor's tunables (spec.md §6).
type Config struct {
	IntervalMs      int64
	LogPath         string
	DevFreqPaths    map[ids.DeviceFlag]string // optional override paths
}

// Monitor samples registered sysfs paths on a fixed interval and publishes a
// double-buffered snapshot. The zero value is not usable; construct with
// New.
type Monitor struct {
	cfg Config

	paths map[key]string // registered sysfs paths

	// buffers[head] is the published (readable) snapshot; the monitor
	// thread writes into buffers[1-head] then flips head atomically.
	buffers [2]map[key]float64
	head    int32

	mu        sync.Mutex // guards listeners and stop/done lifecycle
	listeners []func()
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
}

// New creates a Monitor. It does not start sampling until Start is called.
func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:     cfg,
		paths:   make(map[key]string),
		buffers: [2]map[key]float64{make(map[key]float64), make(map[key]float64)},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// RegisterThermalZone registers a thermal zone sysfs path. Registering the
// same zone id twice is an Internal error (spec.md §4.A).
func (m *Monitor) RegisterThermalZone(zoneID int, path string) error {
	return m.register(key{kind: "thermal", id: zoneID}, path)
}

// RegisterCPUFreq registers the frequency sysfs path for a CPU mask group.
func (m *Monitor) RegisterCPUFreq(mask ids.CPUMaskFlag, path string) error {
	return m.register(key{kind: "cpu_freq", flag: int(mask)}, path)
}

// RegisterDevFreq registers the frequency sysfs path for a device.
func (m *Monitor) RegisterDevFreq(dev ids.DeviceFlag, path string) error {
	return m.register(key{kind: "dev_freq", flag: int(dev)}, path)
}

func (m *Monitor) register(k key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.paths[k]; exists {
		return banderr.Newf("Monitor.Register", banderr.Internal, "resource key %+v registered twice", k)
	}
	m.paths[k] = path
	return nil
}

// AddListener registers fn to be invoked synchronously, under the callback
// mutex, after every snapshot flip.
func (m *Monitor) AddListener(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Available reports whether sysfs sampling is supported on this platform.
func Available() bool { return runtime.GOOS == "linux" }

// Start spawns the monitor thread. It is a no-op on subsequent calls.
func (m *Monitor) Start() error {
	if !Available() {
		return banderr.New("Monitor.Start", banderr.Unavailable, nil)
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
	return nil
}

// Stop terminates the monitor thread and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.mu.Unlock()
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)
	interval := time.Duration(m.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		start := time.Now()
		m.sampleOnce()

		elapsed := time.Since(start)
		wait := interval - elapsed
		if wait < 0 {
			wait = 0
		}
		select {
		case <-m.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

func (m *Monitor) sampleOnce() {
	curHead := atomic.LoadInt32(&m.head)
	inactive := m.buffers[1-curHead]

	m.mu.Lock()
	paths := make(map[key]string, len(m.paths))
	for k, v := range m.paths {
		paths[k] = v
	}
	m.mu.Unlock()

	for k, path := range paths {
		v, err := readSysfsFloat(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("resource monitor: read failed, keeping last value")
			if old, ok := m.buffers[curHead][k]; ok {
				inactive[k] = old
			}
			continue
		}
		inactive[k] = v
	}

	atomic.StoreInt32(&m.head, 1-curHead)

	m.mu.Lock()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (m *Monitor) snapshot() map[key]float64 {
	return m.buffers[atomic.LoadInt32(&m.head)]
}

// GetThermal returns the last-sampled temperature for zoneID; thermal zones
// are keyed by zone id alone.
func (m *Monitor) GetThermal(zoneID int) (float64, error) {
	snap := m.snapshot()
	v, ok := snap[key{kind: "thermal", id: zoneID}]
	if !ok {
		return 0, banderr.New("Monitor.GetThermal", banderr.NotFound, nil)
	}
	return v, nil
}

// GetCpuFreq returns the last-sampled frequency for the given CPU mask
// group.
func (m *Monitor) GetCpuFreq(mask ids.CPUMaskFlag) (float64, error) {
	snap := m.snapshot()
	v, ok := snap[key{kind: "cpu_freq", flag: int(mask)}]
	if !ok {
		return 0, banderr.New("Monitor.GetCpuFreq", banderr.NotFound, nil)
	}
	return v, nil
}

// GetDevFreq returns the last-sampled frequency for device.
func (m *Monitor) GetDevFreq(dev ids.DeviceFlag) (float64, error) {
	snap := m.snapshot()
	v, ok := snap[key{kind: "dev_freq", flag: int(dev)}]
	if !ok {
		return 0, banderr.New("Monitor.GetDevFreq", banderr.NotFound, nil)
	}
	return v, nil
}

func readSysfsFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	return strconv.ParseFloat(s, 64)
}
