package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/go391/kernel/internal/devbus"
	"github.com/go391/kernel/internal/fsimage"
	"github.com/go391/kernel/internal/keymap"
	"github.com/go391/kernel/internal/paging"
	"github.com/go391/kernel/internal/pic"
	"github.com/go391/kernel/internal/proc"
	"github.com/go391/kernel/internal/rtc"
	"github.com/go391/kernel/internal/sched"
	"github.com/go391/kernel/internal/screen"
	"github.com/go391/kernel/internal/timerdev"
	"github.com/go391/kernel/internal/userland"
	"github.com/go391/kernel/internal/vterm"
)

// Kernel is the root object: every subsystem wired together exactly once
// and driven by Run.
type Kernel struct {
	logger *slog.Logger

	img      *fsimage.Image
	paging   *paging.Directory
	pic      *pic.Chip
	terms    *vterm.Manager
	rtcDev   *rtc.Device
	timer    *timerdev.Device
	registry *proc.Registry
	manager  *proc.Manager
	sched    *sched.Scheduler
	video    *videoBridge
	bus      *devbus.Bus

	keys keymap.Source

	// runCtx is the context Run was called with; scheduler ticks (and the
	// root shells they spawn) inherit it so cancellation reaches every
	// process's blocking reads.
	runCtx atomic.Pointer[context.Context]
}

// New wires every component from cfg and an already-opened keyboard
// Source. logger may be nil, in which case slog.Default() is used
// throughout; the logger is always threaded explicitly rather than read
// from a package global.
func New(cfg Config, keys keymap.Source, logger *slog.Logger) (*Kernel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := loadImageBytes(cfg)
	if err != nil {
		return nil, err
	}
	img, err := fsimage.New(raw)
	if err != nil {
		return nil, fmt.Errorf("kernel: parse file system image: %w", err)
	}

	picChip := pic.New()

	pages := [vterm.NumTerminals]screen.Page{}
	for i := range pages {
		pages[i] = screen.NewPage()
	}
	terms := vterm.NewManager(pages)

	pg := paging.New(nil)
	rtcDev := rtc.NewWithStartHz(picChip, cfg.InitialRTCHz)

	registry := proc.NewRegistry()
	if err := userland.Register(registry); err != nil {
		return nil, fmt.Errorf("kernel: register userland programs: %w", err)
	}

	manager := proc.NewManager(img, pg, terms, rtcDev, registry, logger)

	video := &videoBridge{paging: pg, terms: terms}

	schedr := sched.New(picChip, video, manager, terms.Active, cfg.RootShellCommand, logger)

	k := &Kernel{
		logger:   logger,
		img:      img,
		paging:   pg,
		pic:      picChip,
		terms:    terms,
		rtcDev:   rtcDev,
		registry: registry,
		manager:  manager,
		sched:    schedr,
		video:    video,
		keys:     keys,
	}

	k.timer = timerdev.New(picChip, cfg.TimerHz, func() {
		schedr.Tick(k.tickContext())
	})

	bus := devbus.New()
	if err := bus.Register("rtc", rtcDev); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if err := bus.Register("timer", k.timer); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	k.bus = bus
	return k, nil
}

func (k *Kernel) tickContext() context.Context {
	if ctx := k.runCtx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}

func loadImageBytes(cfg Config) ([]byte, error) {
	if cfg.FSImagePath == "" {
		return userland.BuildDefaultImage()
	}
	raw, err := os.ReadFile(cfg.FSImagePath)
	if err != nil {
		return nil, fmt.Errorf("kernel: read file system image %s: %w", cfg.FSImagePath, err)
	}
	return raw, nil
}

// Terminals returns the terminal manager, for a renderer to read the
// currently visible terminal's backing store.
func (k *Kernel) Terminals() *vterm.Manager {
	return k.terms
}

// Run starts the timer and RTC driver goroutines through the device bus
// plus the keyboard input loop, and blocks until the keyboard loop ends:
// ctx is cancelled or the key Source closes. errgroup supervises only the
// keyboard loop; the timer and RTC devices are started and stopped as one
// unit by the device bus, which Run stops before it returns.
func (k *Kernel) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	k.runCtx.Store(&gctx)

	if err := k.bus.Start(); err != nil {
		return fmt.Errorf("kernel: start device bus: %w", err)
	}
	defer k.bus.Stop()

	// The keyboard loop's only exit conditions are gctx being cancelled or
	// its Source closing (the host-TTY reader in cmd/kernel does the
	// latter when ctx is cancelled); either way errgroup reports it and
	// Wait unblocks.
	g.Go(func() error {
		return k.runKeyboard(gctx)
	})

	return g.Wait()
}

func (k *Kernel) runKeyboard(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ev, ok := k.keys.Next()
		if !ok {
			return nil
		}
		if !k.pic.Enabled(pic.LineKeyboard) {
			continue // keyboard IRQ masked while not the visible terminal
		}
		k.terms.HandleKey(ev)
	}
}

// videoBridge implements sched.VideoRemapper over paging and vterm: it
// re-points the single vidmap page at whichever terminal slot the
// scheduler just switched to. Cursor restoration needs
// no bookkeeping of its own (see vterm.Terminal.Page's doc comment) so
// RestoreCursor is a deliberate no-op.
type videoBridge struct {
	paging *paging.Directory
	terms  *vterm.Manager
}

func (v *videoBridge) RemapVideo(slot int, onScreen bool) {
	v.paging.MapUserVidmem(uint32(slot))
}

func (v *videoBridge) RestoreCursor(int) {}
