// Package trigger implements a minimal cross-process call mechanism on top
// of a pair of shared memory futexes. A server owns a request and a
// response futex; a client posts the request futex and waits on the
// response futex while the server runs its callback in between. There is no
// payload, only the rendezvous.
package trigger

import (
	"context"
	"time"

	uberatomic "go.uber.org/atomic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.viam.com/icon/futex"
	"go.viam.com/icon/logging"
	"go.viam.com/icon/shmem"
	"go.viam.com/icon/utils"
)

const (
	// RequestSuffix and ResponseSuffix are appended to a trigger's base
	// segment name to form the two futex segment names.
	RequestSuffix  = ".req"
	ResponseSuffix = ".res"

	// pollInterval bounds every blocking wait so the serving loop
	// observes shutdown promptly.
	pollInterval = 100 * time.Millisecond
)

// Callback is invoked once per received trigger, on the serving goroutine.
type Callback func()

// Server listens for triggers on a futex pair and runs a callback for each
// one. A Server either serves continuously (Start or StartAsync) or is
// polled one trigger at a time (Query); the two modes must not be mixed.
type Server struct {
	baseName string
	callback Callback
	logger   logging.Logger

	request  *futex.Futex
	response *futex.Futex

	started uberatomic.Bool
	workers utils.StoppableWorkers
}

// NewServer creates the request and response futex segments under baseName
// in the given manager and returns a Server ready to serve.
func NewServer(manager *shmem.Manager, baseName string, callback Callback, logger logging.Logger) (*Server, error) {
	if callback == nil {
		return nil, status.Error(codes.InvalidArgument, "trigger callback cannot be nil")
	}
	request, err := addFutexSegment(manager, baseName+RequestSuffix)
	if err != nil {
		return nil, err
	}
	response, err := addFutexSegment(manager, baseName+ResponseSuffix)
	if err != nil {
		return nil, err
	}
	return &Server{
		baseName: baseName,
		callback: callback,
		logger:   logger,
		request:  request,
		response: response,
	}, nil
}

func addFutexSegment(manager *shmem.Manager, name string) (*futex.Futex, error) {
	if err := manager.AddSegment(name, false, futex.PayloadSize, futex.TypeID); err != nil {
		return nil, err
	}
	value, err := manager.SegmentValue(name)
	if err != nil {
		return nil, err
	}
	return futex.New(value)
}

// BaseName returns the segment name prefix the futex pair lives under.
func (s *Server) BaseName() string { return s.baseName }

// IsStarted reports whether a serving loop is currently running.
func (s *Server) IsStarted() bool { return s.started.Load() }

// Start serves triggers until ctx is canceled or Stop is called. It blocks
// the calling goroutine.
func (s *Server) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer s.started.Store(false)
	s.serve(ctx)
}

// StartAsync serves triggers on a background goroutine until Stop.
func (s *Server) StartAsync() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer s.started.Store(false)
		s.serve(ctx)
	})
}

// Stop ends an async serving loop and waits for it to exit.
func (s *Server) Stop() {
	if s.workers != nil {
		s.workers.Stop()
		s.workers = nil
	}
}

func (s *Server) serve(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.request.WaitFor(pollInterval)
		switch status.Code(err) {
		case codes.OK:
		case codes.DeadlineExceeded:
			continue
		default:
			s.logger.Errorw("trigger server stopping after wait failure",
				"trigger", s.baseName, "error", err)
			return
		}
		s.handleOne()
	}
}

// Query serves at most one pending trigger without blocking and reports
// whether one was handled. This is the mode the state-change thread uses
// so the callback runs on the caller's goroutine.
func (s *Server) Query() (bool, error) {
	if s.IsStarted() {
		return false, status.Error(codes.FailedPrecondition,
			"cannot query a trigger server with a running serving loop")
	}
	posted, err := s.request.TryWait()
	if err != nil || !posted {
		return false, err
	}
	s.handleOne()
	return true, nil
}

func (s *Server) handleOne() {
	s.callback()
	if err := s.response.Post(); err != nil {
		s.logger.Errorw("failed to post trigger response",
			"trigger", s.baseName, "error", err)
	}
}
