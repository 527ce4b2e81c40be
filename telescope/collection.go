package telescope

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/w1xm/salsa_interface/internal/metrics"
	"github.com/w1xm/salsa_interface/receiver"
	"github.com/w1xm/salsa_interface/receiver/rtltcp"
	"github.com/w1xm/salsa_interface/receiver/simulated"
	"github.com/w1xm/salsa_interface/rot2prog"
)

// UpdateInterval is how often the service calls Update.
const UpdateInterval = time.Second

type Kind string

const (
	KindSimulated Kind = "simulated"
	KindHardware  Kind = "hardware"
)

// SimulatedReceiver selects the synthetic SDR for a hardware telescope.
const SimulatedReceiver = "sim"

// Definition describes one telescope at startup.
type Definition struct {
	Name        string
	Enabled     bool
	Location    Location
	MinAltitude float64
	Kind        Kind
	// ControllerAddress is a rot2prog address, host:port or
	// serial:///dev/ttyUSB0?baud=600.
	ControllerAddress string
	// ReceiverAddress is an rtl_tcp host:port, or SimulatedReceiver.
	ReceiverAddress string
}

func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("telescope has no name")
	}
	switch d.Kind {
	case KindSimulated:
	case KindHardware:
		if d.ControllerAddress == "" {
			return fmt.Errorf("telescope %q: missing controller address", d.Name)
		}
		if d.ReceiverAddress == "" {
			return fmt.Errorf("telescope %q: missing receiver address", d.Name)
		}
	default:
		return fmt.Errorf("telescope %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// New constructs the telescope a definition describes.
func New(def Definition, m *metrics.Collector) (Telescope, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	switch def.Kind {
	case KindSimulated:
		cfg := DefaultSimulatedConfig()
		cfg.Location = def.Location
		cfg.MinAltitude = def.MinAltitude
		return NewSimulated(def.Name, cfg), nil
	default:
		cfg := DefaultHardwareConfig()
		cfg.Tracker.Location = def.Location
		cfg.Tracker.MinAltitude = def.MinAltitude
		dialer, err := rot2prog.NewDialer(def.ControllerAddress, rot2prog.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("telescope %q: %w", def.Name, err)
		}
		return NewHardware(def.Name, dialer, ReceiverOpener(def.ReceiverAddress), cfg, m), nil
	}
}

// ReceiverOpener returns an opener for an rtl_tcp server, or for the
// synthetic receiver when addr is SimulatedReceiver.
func ReceiverOpener(addr string) receiver.Opener {
	if addr == SimulatedReceiver {
		return receiver.OpenerFunc(func(ctx context.Context) (receiver.Device, error) {
			cfg := simulated.DefaultConfig()
			cfg.Seed = time.Now().UnixNano()
			cfg.Realtime = true
			return simulated.New(cfg), nil
		})
	}
	return receiver.OpenerFunc(func(ctx context.Context) (receiver.Device, error) {
		d, err := rtltcp.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Handle serializes calls on one telescope.
type Handle struct {
	name string

	mu sync.Mutex
	t  Telescope
}

func NewHandle(name string, t Telescope) *Handle {
	return &Handle{name: name, t: t}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Direction() (Direction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Direction()
}

func (h *Handle) Target() (Target, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Target()
}

func (h *Handle) SetTarget(target Target) (Target, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.SetTarget(target)
}

func (h *Handle) SetReceiverConfiguration(cfg ReceiverConfiguration) (ReceiverConfiguration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.SetReceiverConfiguration(cfg)
}

func (h *Handle) Info() (Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Info()
}

func (h *Handle) Update(dt time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Update(dt)
}

func (h *Handle) Restart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Restart()
}

// Collection is the fixed set of telescopes, keyed by name. It is read-only
// after construction.
type Collection struct {
	handles map[string]*Handle
	enabled map[string]bool
	names   []string
}

func NewCollection(defs []Definition, m *metrics.Collector) (*Collection, error) {
	c := &Collection{
		handles: make(map[string]*Handle),
		enabled: make(map[string]bool),
	}
	for _, def := range defs {
		if _, ok := c.handles[def.Name]; ok {
			return nil, fmt.Errorf("duplicate telescope %q", def.Name)
		}
		t, err := New(def, m)
		if err != nil {
			return nil, err
		}
		log.Printf("created %s telescope %q", def.Kind, def.Name)
		c.add(NewHandle(def.Name, t), def.Enabled)
	}
	return c, nil
}

func (c *Collection) add(h *Handle, enabled bool) {
	c.handles[h.name] = h
	c.enabled[h.name] = enabled
	c.names = append(c.names, h.name)
	sort.Strings(c.names)
}

func (c *Collection) Get(name string) (*Handle, bool) {
	h, ok := c.handles[name]
	return h, ok
}

// Names returns the telescope names in sorted order.
func (c *Collection) Names() []string {
	return append([]string(nil), c.names...)
}

// Run services the enabled telescopes until ctx is canceled: background
// loops are started and Update is called every interval.
func (c *Collection) Run(ctx context.Context, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range c.names {
		if !c.enabled[name] {
			continue
		}
		h := c.handles[name]
		if r, ok := h.t.(Runner); ok {
			g.Go(func() error {
				return r.Run(ctx)
			})
		}
		g.Go(func() error {
			return service(ctx, h, interval)
		})
	}
	return g.Wait()
}

func service(ctx context.Context, h *Handle, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.Update(interval); err != nil {
			log.Printf("%s: update: %v", h.name, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
