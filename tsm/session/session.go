// Package session implements Session, the entry point applications are
// run through: it validates an Application, dispatches it to one of its
// named scheduler backends, and returns the resulting AppHandle. Status,
// log and stop calls are addressed by that full handle, which is parsed to
// find the backend and app_id (spec §4.7).
package session

import (
	"fmt"
	"regexp"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/torchdeploy/tsm"
	"github.com/torchdeploy/tsm/scheduler"
)

// defaultBackend is used by Run/DryRun when the caller doesn't name one.
const defaultBackend = "local"

// Session binds a name to a set of scheduler backends, and is the
// normal entry point for running, inspecting and stopping applications.
type Session struct {
	Name     string
	backends map[string]scheduler.Backend
	handles  map[string]tsm.AppHandle
	logger   log15.Logger
}

// New builds a Session with the given name and backends, keyed by the
// scheduler name used in an AppHandle's scheme (eg. "local", "kubernetes").
func New(name string, backends map[string]scheduler.Backend, logger log15.Logger) (*Session, error) {
	if name == "" {
		return nil, &tsm.ValueError{Op: "session.New", Reason: "session name must not be empty"}
	}
	if len(backends) == 0 {
		return nil, &tsm.ValueError{Op: "session.New", Reason: "at least one scheduler backend is required"}
	}
	if logger == nil {
		logger = log15.New()
	}
	return &Session{
		Name:     name,
		backends: backends,
		handles:  map[string]tsm.AppHandle{},
		logger:   logger.New("session", name),
	}, nil
}

// SchedulerBackends returns the names of the schedulers this session was
// built with, in no particular order.
func (s *Session) SchedulerBackends() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	return names
}

func (s *Session) resolveBackend(name string) (string, scheduler.Backend, error) {
	if name == "" {
		name = defaultBackend
	}
	backend, ok := s.backends[name]
	if !ok {
		return "", nil, &tsm.ValueError{Op: "session." + s.Name, Reason: fmt.Sprintf("unknown scheduler backend %q", name)}
	}
	return name, backend, nil
}

// Run validates app and submits it to the named scheduler backend
// (spec §4.7, §4.8), returning the AppHandle addressing it.
func (s *Session) Run(app *tsm.Application, cfg *tsm.RunConfig, backendName string) (tsm.AppHandle, error) {
	if err := app.Validate(); err != nil {
		return "", err
	}
	name, backend, err := s.resolveBackend(backendName)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		cfg = tsm.NewRunConfig()
	}

	appID, err := backend.Submit(app, cfg)
	if err != nil {
		return "", err
	}

	handle := tsm.MakeAppHandle(name, s.Name, appID)
	s.handles[appID] = handle
	s.logger.Info("ran application", "app_id", appID, "scheduler", name)
	return handle, nil
}

// DryRun resolves what Run would submit, without submitting it.
func (s *Session) DryRun(app *tsm.Application, cfg *tsm.RunConfig, backendName string) (tsm.AppDryRunInfo, error) {
	if err := app.Validate(); err != nil {
		return tsm.AppDryRunInfo{}, err
	}
	_, backend, err := s.resolveBackend(backendName)
	if err != nil {
		return tsm.AppDryRunInfo{}, err
	}
	if cfg == nil {
		cfg = tsm.NewRunConfig()
	}
	return backend.SubmitDryRun(app, cfg)
}

// backendFor resolves an AppHandle to the scheduler.Backend that owns it,
// failing if the handle's session doesn't match this one or its backend
// is unknown.
func (s *Session) backendFor(handle tsm.AppHandle) (string, scheduler.Backend, error) {
	backendName, sessionName, appID, err := tsm.ParseAppHandle(handle)
	if err != nil {
		return "", nil, err
	}
	if sessionName != s.Name {
		return "", nil, &tsm.ValueError{Op: "session." + s.Name, Reason: fmt.Sprintf("handle belongs to session %q", sessionName)}
	}
	backend, ok := s.backends[backendName]
	if !ok {
		return "", nil, &tsm.ValueError{Op: "session." + s.Name, Reason: fmt.Sprintf("unknown scheduler backend %q", backendName)}
	}
	return appID, backend, nil
}

// Status returns the current AppStatus for handle.
func (s *Session) Status(handle tsm.AppHandle) (*tsm.AppStatus, error) {
	desc, err := s.Describe(handle)
	if err != nil || desc == nil {
		return nil, err
	}
	return &tsm.AppStatus{State: desc.State, Roles: desc.Roles, StructuredErrorMsg: desc.StructuredErrorMsg}, nil
}

// Describe returns the backend's full DescribeAppResponse for handle, or
// nil if the app_id is unknown to its backend.
func (s *Session) Describe(handle tsm.AppHandle) (*tsm.DescribeAppResponse, error) {
	appID, backend, err := s.backendFor(handle)
	if err != nil {
		return nil, err
	}
	return backend.Describe(appID)
}

// Stop cancels the application addressed by handle. A no-op if it's
// already terminal or unknown (spec §4.4).
func (s *Session) Stop(handle tsm.AppHandle) error {
	appID, backend, err := s.backendFor(handle)
	if err != nil {
		return err
	}
	return backend.Cancel(appID)
}

// Wait blocks until handle's application reaches a terminal state or is
// absent (spec §5), delegating to its backend's own bounded-backoff poll.
func (s *Session) Wait(handle tsm.AppHandle) (*tsm.AppStatus, error) {
	appID, backend, err := s.backendFor(handle)
	if err != nil {
		return nil, err
	}
	return backend.Wait(appID)
}

// LogLines returns a LineIterator over the k-th replica of roleName's log
// for the application addressed by handle, optionally filtered.
func (s *Session) LogLines(handle tsm.AppHandle, roleName string, k int, regex *regexp.Regexp, since, until *time.Time) (scheduler.LineIterator, error) {
	appID, backend, err := s.backendFor(handle)
	if err != nil {
		return nil, err
	}
	return backend.LogIter(appID, roleName, k, regex, since, until)
}

// List returns every AppHandle this Session has Run, in no particular
// order. Only reflects apps submitted through this Session instance, not
// a backend's full history.
func (s *Session) List() []tsm.AppHandle {
	out := make([]tsm.AppHandle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}
