// Package core wires supervisors, the scheduler, the catalog and the
// outer surfaces (MQTT, HTTP) into one video wall service.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/catalog"
	"github.com/e7canasta/stream-supervisor/internal/config"
	"github.com/e7canasta/stream-supervisor/internal/control"
	"github.com/e7canasta/stream-supervisor/internal/emitter"
	"github.com/e7canasta/stream-supervisor/internal/httpapi"
	"github.com/e7canasta/stream-supervisor/internal/notify"
)

// VideoWall is the main service orchestrator: one Supervisor per display
// slot, all sharing a single scheduler worker.
type VideoWall struct {
	cfg *config.Config

	engine   *streamsupervisor.Engine
	catalog  catalog.Catalog
	factory  streamsupervisor.BackendFactory
	policies *streamsupervisor.PolicyResolver
	bus      *notify.Bus
	registry *prometheus.Registry
	metrics  *streamsupervisor.Metrics
	hub      *httpapi.Hub

	slots map[string]*streamsupervisor.Supervisor
	order []string

	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	server         *httpapi.Server

	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// New creates the wall and one idle Supervisor per configured slot.
func New(cfg *config.Config, cat catalog.Catalog, factory streamsupervisor.BackendFactory) (*VideoWall, error) {
	policies, err := streamsupervisor.NewPolicyResolver(cfg.PolicyDefaults(), cfg.HonorCameraOverrides())
	if err != nil {
		return nil, fmt.Errorf("invalid policy defaults: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := streamsupervisor.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	v := &VideoWall{
		cfg:      cfg,
		engine:   streamsupervisor.NewEngine(),
		catalog:  cat,
		factory:  factory,
		policies: policies,
		bus:      notify.New(),
		registry: registry,
		metrics:  metrics,
		hub:      httpapi.NewHub(),
		slots:    make(map[string]*streamsupervisor.Supervisor, len(cfg.Slots)),
	}

	for _, slot := range cfg.Slots {
		sup, err := streamsupervisor.NewSupervisor(streamsupervisor.SupervisorConfig{
			Slot:          slot.ID,
			Scheduler:     v.engine,
			Factory:       factory,
			Resolver:      cat,
			Policies:      policies,
			Notifier:      v.bus,
			Metrics:       metrics,
			TickInterval:  cfg.TickInterval(),
			DebounceDelay: cfg.DebounceDelay(),
		})
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", slot.ID, err)
		}
		v.slots[slot.ID] = sup
		v.order = append(v.order, slot.ID)
	}

	v.server = httpapi.New(httpapi.Options{
		Addr:     cfg.HTTP.Addr,
		Wall:     v,
		Health:   v.HealthCheck,
		Gatherer: registry,
		Hub:      v.hub,
	})

	slog.Info("video wall configured",
		"instance_id", cfg.InstanceID,
		"slots", len(v.order),
		"catalog", cfg.Catalog.Driver,
	)
	return v, nil
}

// Run starts the scheduler, binds the configured slots and the outer
// surfaces, then blocks until ctx is cancelled.
func (v *VideoWall) Run(ctx context.Context) error {
	v.mu.Lock()
	if v.isRunning {
		v.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	v.isRunning = true
	v.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	v.cancelCtx = cancel
	v.mu.Unlock()
	defer cancel()

	slog.Info("video wall starting", "instance_id", v.cfg.InstanceID)

	v.engine.Start(ctx)

	for _, slot := range v.cfg.Slots {
		if slot.Camera == "" {
			continue
		}
		if err := v.Bind(slot.ID, slot.Camera); err != nil {
			// A missing camera leaves the slot idle; operators can bind later.
			slog.Error("initial bind failed", "slot", slot.ID, "camera", slot.Camera, "error", err)
		}
	}

	if err := v.startMQTT(ctx); err != nil {
		return err
	}

	latest, err := v.bus.SubscribeLatest("ws")
	if err != nil {
		return fmt.Errorf("failed to subscribe websocket hub: %w", err)
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.hub.Run(ctx, latest)
	}()

	v.server.Start()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.logStats(ctx, 30*time.Second)
	}()

	slog.Info("video wall running", "slots", len(v.order))

	<-ctx.Done()

	slog.Info("video wall run loop exiting")
	return nil
}

func (v *VideoWall) startMQTT(ctx context.Context) error {
	if v.cfg.MQTT.Broker == "" {
		slog.Info("mqtt disabled (no broker configured)")
		return nil
	}

	em := emitter.NewMQTTEmitter(v.cfg.MQTT)
	if err := em.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}
	handler := control.NewHandler(v.cfg.MQTT, em.Client, v)
	handler.OnShutdown = v.shutdownViaControl

	v.mu.Lock()
	v.emitter = em
	v.controlHandler = handler
	v.mu.Unlock()

	latest, err := v.bus.SubscribeLatest("mqtt")
	if err != nil {
		return fmt.Errorf("failed to subscribe mqtt emitter: %w", err)
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		em.Run(ctx, latest)
	}()

	if err := handler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	return nil
}

// Shutdown performs graceful shutdown of all components
func (v *VideoWall) Shutdown(ctx context.Context) error {
	v.mu.Lock()
	if !v.isRunning {
		v.mu.Unlock()
		return nil
	}
	handler, em, cancel := v.controlHandler, v.emitter, v.cancelCtx
	v.mu.Unlock()

	slog.Info("shutting down video wall")

	// 1. Stop the scheduler so no tick or wake can race the teardown.
	v.engine.Stop()

	// 2. Stop every backend. With the worker gone Close runs inline.
	for _, id := range v.order {
		if err := v.slots[id].Close(); err != nil {
			slog.Error("failed to close slot", "slot", id, "error", err)
		}
	}

	// 3. Stop control plane and HTTP
	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}
	if err := v.server.Shutdown(ctx); err != nil {
		slog.Error("failed to stop http server", "error", err)
	}

	// 4. Unblock and wait for fan-out goroutines
	v.bus.Close()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for goroutines")
	}

	// 5. Disconnect MQTT and close the catalog
	if em != nil {
		if err := em.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}
	if err := v.catalog.Close(); err != nil {
		slog.Error("failed to close catalog", "error", err)
	}

	v.mu.Lock()
	uptime := time.Since(v.started)
	v.isRunning = false
	v.mu.Unlock()

	slog.Info("video wall shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (v *VideoWall) ShutdownTimeout() time.Duration {
	return v.cfg.ShutdownTimeout()
}

func (v *VideoWall) shutdownViaControl() {
	v.mu.RLock()
	cancel := v.cancelCtx
	v.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (v *VideoWall) slot(id string) (*streamsupervisor.Supervisor, error) {
	sup, ok := v.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", control.ErrUnknownSlot, id)
	}
	return sup, nil
}

// Bind looks camera up in the catalog and binds it to the slot.
func (v *VideoWall) Bind(slot, camera string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	cam, err := v.catalog.Camera(camera)
	if err != nil {
		return err
	}
	return sup.Bind(cam)
}

// Unbind implements control.Wall.
func (v *VideoWall) Unbind(slot string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	return sup.Unbind()
}

// Next implements control.Wall.
func (v *VideoWall) Next(slot string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	return sup.Next()
}

// Previous implements control.Wall.
func (v *VideoWall) Previous(slot string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	return sup.Previous()
}

// Restart implements control.Wall.
func (v *VideoWall) Restart(slot string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	return sup.RestartCurrent()
}

// Pause implements control.Wall.
func (v *VideoWall) Pause(slot string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	return sup.Pause()
}

// Resume implements control.Wall.
func (v *VideoWall) Resume(slot string) error {
	sup, err := v.slot(slot)
	if err != nil {
		return err
	}
	return sup.Resume()
}

// Snapshot implements control.Wall.
func (v *VideoWall) Snapshot(slot string) (streamsupervisor.Snapshot, error) {
	sup, err := v.slot(slot)
	if err != nil {
		return streamsupervisor.Snapshot{}, err
	}
	return sup.Snapshot(), nil
}

// Snapshots returns every slot in configuration order.
func (v *VideoWall) Snapshots() []streamsupervisor.Snapshot {
	out := make([]streamsupervisor.Snapshot, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.slots[id].Snapshot())
	}
	return out
}
