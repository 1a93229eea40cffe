package hal

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	uberatomic "go.uber.org/atomic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ifc "go.viam.com/icon/hal/interfaces"
	"go.viam.com/icon/logging"
)

const (
	// requestQueueCapacity bounds the number of pending state change
	// requests. The real-time thread drains one per cycle, so the queue
	// only fills when the control loop stalls.
	requestQueueCapacity = 10

	// stateChangeTimeout bounds how long a non-real-time caller waits for
	// the real-time thread to pick up its request. The request is
	// processed every cycle, so this should never be reached.
	stateChangeTimeout = 10 * time.Second
)

// asyncRequest asks the real-time thread to apply one state transition.
// The result channel is buffered so the real-time side can always resolve
// it without blocking, even after the requester gave up waiting.
type asyncRequest struct {
	from      ifc.StateCode
	to        ifc.StateCode
	message   string
	timestamp time.Time
	result    chan error
}

// stateSnapshot is the immutable state view published for readers outside
// the real-time thread.
type stateSnapshot struct {
	Code    ifc.StateCode
	Message string
}

// callbackHandler owns the lifecycle state machine. The state in shared
// memory is written only by setStateDirectly, which runs either on the
// real-time thread or while the real-time loop is provably not running
// (activation, deactivation, preparation).
type callbackHandler struct {
	module Module
	logger logging.Logger
	clock  clock.Clock

	moduleState *MutableHandle[*ifc.HardwareModuleState]

	// actionMu serializes the queued-apply callbacks (enable, disable,
	// clear faults) so at most one lifecycle action is in flight.
	actionMu sync.Mutex

	// mirror of the shared memory state code for concurrent readers.
	mirror   uberatomic.Uint32
	snapshot uberatomic.Pointer[stateSnapshot]

	queue     chan asyncRequest
	enqueueMu sync.Mutex
	rejectNew uberatomic.Bool

	// stateUpdateTime is the wall clock of the last applied transition,
	// used to drop requests that raced a newer state change.
	stateUpdateTime uberatomic.Int64

	cycle uberatomic.Uint64

	// motionWasEnabled tracks the enabled edge for notifications; only
	// touched on the real-time thread.
	motionWasEnabled bool
}

func newCallbackHandler(
	module Module,
	moduleState *MutableHandle[*ifc.HardwareModuleState],
	clk clock.Clock,
	logger logging.Logger,
) *callbackHandler {
	h := &callbackHandler{
		module:      module,
		logger:      logger,
		clock:       clk,
		moduleState: moduleState,
		queue:       make(chan asyncRequest, requestQueueCapacity),
	}
	h.setStateDirectly(ifc.StateDeactivated, "", true, false)
	return h
}

func (h *callbackHandler) currentState() ifc.StateCode {
	return ifc.StateCode(h.mirror.Load())
}

// State returns the latest published state snapshot.
func (h *callbackHandler) State() (ifc.StateCode, string) {
	snap := h.snapshot.Load()
	return snap.Code, snap.Message
}

func faultStateFor(err error) ifc.StateCode {
	if IsFatal(err) {
		return ifc.StateFatallyFaulted
	}
	return ifc.StateFaulted
}

// onActivate applies the activation transition directly: the real-time
// loop is guaranteed not to be running outside the activated window.
func (h *callbackHandler) onActivate() {
	if !h.setStateDirectly(ifc.StateActivating, "", false, false) {
		return
	}
	h.cancelPendingRequests("request cancelled due to activation")
	if err := h.module.Activate(); err != nil {
		h.logger.Errorw("call to Activate failed", "error", err)
		h.setStateDirectly(faultStateFor(err), err.Error(), false, false)
	} else {
		h.setStateDirectly(ifc.StateActivated, "", false, false)
	}
	h.rejectNew.Store(false)
}

// onDeactivate applies the deactivation transition directly.
func (h *callbackHandler) onDeactivate() {
	if !h.setStateDirectly(ifc.StateDeactivating, "", false, false) {
		return
	}
	// In-flight actions may miss this cancellation; they time out and
	// their results are dropped through the buffered channels.
	h.rejectNew.Store(true)
	h.cancelPendingRequests("request cancelled due to deactivation")

	if err := h.module.Deactivate(); err != nil {
		h.logger.Errorw("call to Deactivate failed", "error", err)
		h.setStateDirectly(faultStateFor(err), err.Error(), false, false)
	} else {
		h.setStateDirectly(ifc.StateDeactivated, "", false, false)
	}
}

// onPrepare runs the optional long-running bring-up phase before
// activation, also with the real-time loop not running.
func (h *callbackHandler) onPrepare(ctx context.Context) {
	if !h.setStateDirectly(ifc.StatePreparing, "", false, false) {
		return
	}
	if err := h.module.Prepare(ctx); err != nil {
		h.logger.Errorw("call to Prepare failed", "error", err)
		h.setStateDirectly(faultStateFor(err), err.Error(), false, false)
	} else {
		h.setStateDirectly(ifc.StatePrepared, "", false, false)
	}
}

func (h *callbackHandler) onEnableMotion(ctx context.Context) {
	h.actionMu.Lock()
	defer h.actionMu.Unlock()
	if !h.setStateAndWait(h.currentState(), ifc.StateMotionEnabling, "") {
		return
	}
	if err := h.module.EnableMotion(ctx); err != nil {
		h.logger.Errorw("call to EnableMotion failed", "error", err)
		h.setStateAndWait(ifc.StateMotionEnabling, faultStateFor(err), err.Error())
	} else {
		h.setStateAndWait(ifc.StateMotionEnabling, ifc.StateMotionEnabled, "")
	}
}

func (h *callbackHandler) onDisableMotion(ctx context.Context) {
	h.actionMu.Lock()
	defer h.actionMu.Unlock()
	if !h.setStateAndWait(h.currentState(), ifc.StateMotionDisabling, "") {
		return
	}
	if err := h.module.DisableMotion(ctx); err != nil {
		h.logger.Errorw("call to DisableMotion failed", "error", err)
		h.setStateAndWait(ifc.StateMotionDisabling, faultStateFor(err), err.Error())
	} else {
		h.setStateAndWait(ifc.StateMotionDisabling, ifc.StateActivated, "")
	}
}

func (h *callbackHandler) onClearFaults(ctx context.Context) {
	h.actionMu.Lock()
	defer h.actionMu.Unlock()
	if !h.setStateAndWait(h.currentState(), ifc.StateClearingFaults, "") {
		return
	}
	if err := h.module.ClearFaults(ctx); err != nil {
		h.logger.Errorw("call to ClearFaults failed", "error", err)
		h.setStateAndWait(ifc.StateClearingFaults, faultStateFor(err), err.Error())
	} else {
		h.setStateAndWait(ifc.StateClearingFaults, ifc.StateActivated, "")
	}
}

// onReadStatus is the real-time heartbeat. State change requests are
// processed here because the shared memory state must only be written on
// this thread while the module is activated.
func (h *callbackHandler) onReadStatus() {
	h.cycle.Inc()
	h.processNextPendingRequest()
	h.notifyMotionEdges()

	if err := h.module.ReadStatus(); err != nil &&
		h.currentState() != ifc.StateClearingFaults {
		h.logger.Errorw("call to ReadStatus failed", "error", err)
		if h.setStateDirectly(faultStateFor(err), err.Error(), false, false) {
			h.cancelPendingRequests("request cancelled due to error in ReadStatus")
		}
	}
}

func (h *callbackHandler) onApplyCommand() {
	if h.currentState() != ifc.StateMotionEnabled {
		const message = "apply command called while motion is not enabled"
		h.logger.Warn(message)
		if h.setStateDirectly(ifc.StateFaulted, message, false, false) {
			h.cancelPendingRequests("request cancelled due to error in ApplyCommand")
		}
		return
	}

	if err := h.module.ApplyCommand(); err != nil {
		h.logger.Errorw("call to ApplyCommand failed", "error", err)
		if h.setStateDirectly(faultStateFor(err), err.Error(), false, false) {
			h.cancelPendingRequests("request cancelled due to error in ApplyCommand")
		}
	}
}

// notifyMotionEdges informs the module when motion became enabled or
// disabled, in the first cycle after the edge and before ReadStatus.
func (h *callbackHandler) notifyMotionEdges() {
	notifier, ok := h.module.(MotionNotifier)
	enabled := h.currentState() == ifc.StateMotionEnabled
	if enabled != h.motionWasEnabled {
		h.motionWasEnabled = enabled
		if !ok {
			return
		}
		if enabled {
			notifier.Enabled()
		} else {
			notifier.Disabled()
		}
	}
}

// setStateDirectly writes the state to shared memory and all mirrors.
// Only call when the caller knows no other thread can be writing the
// state at the same time. Returns whether the state actually changed.
func (h *callbackHandler) setStateDirectly(to ifc.StateCode, message string, force, silent bool) bool {
	from := h.currentState()
	if result := CheckTransition(from, to); !force && result != TransitionAllowed {
		if !silent && result == TransitionProhibited {
			h.logger.Errorw("state transition prohibited", "from", from.String(), "to", to.String())
		}
		return false
	}
	if !force && from == to && h.moduleState.Value().Message() == message {
		// Same state and message: keep the previous update timestamp.
		return false
	}
	changed := from != to
	if !silent && changed {
		h.logger.Infow("switching state",
			"from", from.String(), "to", to.String(), "message", message)
	}
	h.mirror.Store(uint32(to))
	h.stateUpdateTime.Store(h.clock.Now().UnixNano())
	h.moduleState.Value().Set(to, message)
	h.moduleState.UpdatedAt(h.clock.Now(), h.cycle.Load())
	h.snapshot.Store(&stateSnapshot{Code: to, Message: message})
	return changed
}

// setStateAndWait enqueues a transition request for the real-time thread
// and blocks until it was applied, rejected or timed out. Returns whether
// the transition was applied.
func (h *callbackHandler) setStateAndWait(from, to ifc.StateCode, message string) bool {
	if result := CheckTransition(from, to); result != TransitionAllowed {
		if result == TransitionProhibited {
			h.logger.Errorw("state transition prohibited", "from", from.String(), "to", to.String())
		}
		return false
	}

	req := asyncRequest{
		from:      from,
		to:        to,
		message:   message,
		timestamp: h.clock.Now(),
		result:    make(chan error, 1),
	}
	h.enqueueMu.Lock()
	if h.rejectNew.Load() {
		h.enqueueMu.Unlock()
		h.logger.Warnw("state change request rejected during shutdown",
			"to", to.String())
		return false
	}
	select {
	case h.queue <- req:
		h.enqueueMu.Unlock()
	default:
		h.enqueueMu.Unlock()
		h.logger.Errorw("state change request queue is full", "to", to.String())
		return false
	}

	select {
	case err := <-req.result:
		if err != nil {
			h.logger.Errorw("state change request failed",
				"to", to.String(), "error", err)
			return false
		}
		return true
	case <-h.clock.After(stateChangeTimeout):
		// The request may still be resolved later; the buffered result
		// channel makes that resolution a harmless no-op.
		h.logger.Errorw("state change request timed out", "to", to.String())
		return false
	}
}

// processNextPendingRequest applies at most one queued transition on the
// real-time thread. Requests that raced a newer state change are resolved
// as cancelled instead of being applied.
func (h *callbackHandler) processNextPendingRequest() {
	select {
	case req := <-h.queue:
		updateTime := time.Unix(0, h.stateUpdateTime.Load())
		if !req.timestamp.Before(updateTime) && req.from == h.currentState() {
			if h.setStateDirectly(req.to, req.message, false, true) {
				req.result <- nil
			} else {
				req.result <- status.Errorf(codes.FailedPrecondition,
					"transition from %s to %s is prohibited",
					h.currentState(), req.to)
			}
		} else {
			req.result <- status.Error(codes.Canceled,
				"request cancelled due to newer request")
		}
	default:
	}
}

// cancelPendingRequests resolves every queued request as cancelled. Call
// only from the real-time thread or when it is provably not running.
func (h *callbackHandler) cancelPendingRequests(reason string) {
	for {
		select {
		case req := <-h.queue:
			h.logger.Infow("cancelling state change request",
				"to", req.to.String(), "reason", reason)
			req.result <- status.Error(codes.Canceled, reason)
		default:
			return
		}
	}
}

// shutdown rejects all new requests and cancels pending ones. Idempotent.
func (h *callbackHandler) shutdown() {
	h.enqueueMu.Lock()
	defer h.enqueueMu.Unlock()
	h.rejectNew.Store(true)
	h.cancelPendingRequests("request cancelled due to shutdown")
}
