package hal

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	uberatomic "go.uber.org/atomic"
	"go.uber.org/multierr"

	ifc "go.viam.com/icon/hal/interfaces"
	"go.viam.com/icon/logging"
	"go.viam.com/icon/shmem"
	"go.viam.com/icon/trigger"
	"go.viam.com/icon/utils"
)

// ModuleStateInterfaceName is the reserved interface carrying the
// lifecycle state of a module.
const ModuleStateInterfaceName = "hardware_module_state"

// Names of the trigger endpoints a module exposes. The controller composes
// the full segment base name with shmem.MemoryName.
const (
	TriggerActivate      = "activate"
	TriggerDeactivate    = "deactivate"
	TriggerPrepare       = "prepare"
	TriggerEnableMotion  = "enable_motion"
	TriggerDisableMotion = "disable_motion"
	TriggerClearFaults   = "clear_faults"
	TriggerReadStatus    = "read_status"
	TriggerApplyCommand  = "apply_command"
)

// Runtime drives one hardware module: it owns the shared memory segments,
// the lifecycle state machine and the trigger endpoints the controller
// invokes. Construction advertises the built-in interfaces and trigger
// segments; Run initializes the module, publishes the hardware info and
// starts serving.
type Runtime struct {
	config  ModuleConfig
	module  Module
	logger  logging.Logger
	handler *callbackHandler

	registry    *Registry
	moduleState *MutableHandle[*ifc.HardwareModuleState]
	iconState   *Handle[*ifc.IconState]

	activateServer      *trigger.Server
	deactivateServer    *trigger.Server
	prepareServer       *trigger.Server
	enableMotionServer  *trigger.Server
	disableMotionServer *trigger.Server
	clearFaultsServer   *trigger.Server
	readStatusServer    *trigger.Server
	applyCommandServer  *trigger.Server

	// runCtx is set once at the start of Run, before any server serves.
	runCtx  context.Context
	workers utils.StoppableWorkers
	started uberatomic.Bool
	stopped uberatomic.Bool
}

// NewRuntime creates the module's shared memory layout: the state and
// cycle interfaces plus one trigger endpoint per lifecycle action.
func NewRuntime(module Module, config ModuleConfig, logger logging.Logger) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid module config")
	}
	manager, err := shmem.NewManager(config.SharedMemoryNamespace, config.Name, logger)
	if err != nil {
		return nil, err
	}
	// Until the Runtime owns the manager, a failed construction must not
	// leave segments behind in /dev/shm.
	fail := func(err error) error {
		return multierr.Combine(err, manager.Close())
	}
	registry := NewRegistry(manager, logger)

	moduleState, err := AdvertiseMutableInterface(registry, ModuleStateInterfaceName,
		ifc.HardwareModuleStateType, ifc.HardwareModuleStatePayloadSize)
	if err != nil {
		return nil, fail(err)
	}
	iconState, err := registry.AdvertiseIconState()
	if err != nil {
		return nil, fail(err)
	}

	r := &Runtime{
		config:      config,
		module:      module,
		logger:      logger,
		registry:    registry,
		moduleState: moduleState,
		iconState:   iconState,
		runCtx:      context.Background(),
	}
	r.handler = newCallbackHandler(module, moduleState, clock.New(), logger)

	for _, endpoint := range []struct {
		action   string
		server   **trigger.Server
		callback trigger.Callback
	}{
		{TriggerActivate, &r.activateServer, r.handler.onActivate},
		{TriggerDeactivate, &r.deactivateServer, r.handler.onDeactivate},
		{TriggerPrepare, &r.prepareServer, func() { r.handler.onPrepare(r.runCtx) }},
		{TriggerEnableMotion, &r.enableMotionServer, func() { r.handler.onEnableMotion(r.runCtx) }},
		{TriggerDisableMotion, &r.disableMotionServer, func() { r.handler.onDisableMotion(r.runCtx) }},
		{TriggerClearFaults, &r.clearFaultsServer, func() { r.handler.onClearFaults(r.runCtx) }},
		{TriggerReadStatus, &r.readStatusServer, r.handler.onReadStatus},
		{TriggerApplyCommand, &r.applyCommandServer, r.handler.onApplyCommand},
	} {
		server, err := trigger.NewServer(manager, r.triggerName(endpoint.action), endpoint.callback, logger)
		if err != nil {
			return nil, fail(multierr.Combine(err, moduleState.Close(), iconState.Close()))
		}
		*endpoint.server = server
	}
	return r, nil
}

func (r *Runtime) triggerName(action string) string {
	return shmem.MemoryName(r.config.SharedMemoryNamespace, r.config.Name, action)
}

// Registry returns the module's interface registry, e.g. for Init-time
// advertising or for obtaining the file descriptor map.
func (r *Runtime) Registry() *Registry { return r.registry }

// State returns the current lifecycle state and message.
func (r *Runtime) State() (ifc.StateCode, string) { return r.handler.State() }

// IsStarted reports whether Run completed successfully and the trigger
// endpoints are serving.
func (r *Runtime) IsStarted() bool { return r.started.Load() }

// Run initializes the module, publishes the hardware info and starts all
// trigger endpoints. An Init failure leaves the module in the InitFailed
// state with the hardware info still published, so the controller can
// observe the failure.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runtime is already running")
	}

	initFailed := func(err error) error {
		if err != nil {
			r.handler.setStateDirectly(ifc.StateInitFailed, err.Error(), false, false)
		}
		return err
	}

	initErr := initFailed(r.module.Init(ctx, &InitContext{
		Registry: r.registry,
		Config:   r.config,
		Logger:   r.logger,
	}))
	if initErr != nil {
		r.logger.Errorw("initializing the module failed", "error", initErr)
	}
	// The hardware info is published even on init failure so the
	// controller can connect and read the failed state.
	if err := initFailed(r.registry.AdvertiseHardwareInfo()); err != nil {
		return err
	}
	if initErr != nil {
		return initErr
	}

	// runCtx must be in place before any goroutine that can invoke a
	// trigger callback starts, so the workers are created empty first.
	r.workers = utils.NewStoppableWorkers()
	r.runCtx = r.workers.Context()
	r.workers.Add(r.stateChangeLoop)

	r.activateServer.StartAsync()
	r.deactivateServer.StartAsync()
	r.prepareServer.StartAsync()
	r.readStatusServer.StartAsync()
	r.applyCommandServer.StartAsync()
	return nil
}

// stateChangeLoop cooperatively polls the queued-apply trigger endpoints
// so their callbacks share a single thread.
func (r *Runtime) stateChangeLoop(ctx context.Context) {
	for ctx.Err() == nil {
		for _, server := range []*trigger.Server{
			r.enableMotionServer, r.disableMotionServer, r.clearFaultsServer,
		} {
			if _, err := server.Query(); err != nil {
				r.logger.Errorw("state change query failed",
					"trigger", server.BaseName(), "error", err)
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// Stop shuts the runtime down: pending requests are cancelled, all
// endpoints stop serving, the module's Shutdown runs and the shared
// memory is unlinked. Idempotent; never blocks on the real-time thread.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	r.handler.shutdown()

	r.applyCommandServer.Stop()
	r.readStatusServer.Stop()
	r.prepareServer.Stop()
	r.deactivateServer.Stop()
	r.activateServer.Stop()
	if r.workers != nil {
		r.workers.Stop()
	}

	err := r.module.Shutdown(ctx)
	err = multierr.Combine(err, r.moduleState.Close(), r.iconState.Close())
	return multierr.Combine(err, r.registry.Manager().Close())
}

// RunUntilShutdown runs the module until ctx is cancelled or the runtime
// reaches a terminal state, then stops it and returns the process exit
// code for the supervisor.
func RunUntilShutdown(ctx context.Context, r *Runtime) int {
	if err := r.Run(ctx); err != nil {
		if stopErr := r.Stop(context.Background()); stopErr != nil {
			r.logger.Errorw("stopping after failed init", "error", stopErr)
		}
		return ExitCodeFatalFaultDuringInit
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Stop(context.Background()); err != nil {
				r.logger.Errorw("error during shutdown", "error", err)
			}
			return ExitCodeNormalShutdown
		case <-ticker.C:
			code, message := r.State()
			if code != ifc.StateFatallyFaulted {
				continue
			}
			r.logger.Errorw("module is fatally faulted, exiting", "message", message)
			if err := r.Stop(context.Background()); err != nil {
				r.logger.Errorw("error during shutdown", "error", err)
			}
			return ExitCodeFatalFaultDuringExec
		}
	}
}
