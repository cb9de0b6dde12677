// Package scheduler defines the Scheduler contract every execution
// backend implements (submit, submit_dryrun, describe, cancel, log_iter,
// run_opts — spec §4.4), and hosts the local process-supervisor backend
// plus the image fetcher contract.
package scheduler

import (
	"regexp"
	"time"

	"github.com/jpillora/backoff"

	"github.com/torchdeploy/tsm"
)

// LineIterator is a finite, single-pass sequence of log lines, returned by
// Backend.LogIter.
type LineIterator interface {
	// Next advances the iterator. ok is false once the sequence is
	// exhausted; Next must not be called again after that.
	Next() (line string, ok bool)
	// Close releases any resources (eg. an open file) held by the
	// iterator. Safe to call multiple times.
	Close() error
}

// backend is the narrow, backend-private half of the contract: the
// operations a concrete scheduler implements itself, before the shared
// Validating wrapper's bookkeeping (run-config resolution) runs. This
// mirrors the source's Scheduler base class calling into
// _submit/_submit_dryrun after it has resolved cfg.
type backend interface {
	RunOpts() *tsm.RunOpts
	doSubmit(app *tsm.Application, cfg *tsm.RunConfig) (string, error)
	doSubmitDryRun(app *tsm.Application, cfg *tsm.RunConfig) (tsm.AppDryRunInfo, error)
	Describe(appID string) (*tsm.DescribeAppResponse, error)
	cancelExisting(appID string) error
	LogIter(appID, roleName string, k int, regex *regexp.Regexp, since, until *time.Time) (LineIterator, error)
}

// Backend is the full, public Scheduler contract (spec §4.4): it adds
// run-config validation, existence checking, and a no-op-safe Cancel on
// top of a backend's private operations.
type Backend interface {
	RunOpts() *tsm.RunOpts
	Submit(app *tsm.Application, cfg *tsm.RunConfig) (string, error)
	SubmitDryRun(app *tsm.Application, cfg *tsm.RunConfig) (tsm.AppDryRunInfo, error)
	Describe(appID string) (*tsm.DescribeAppResponse, error)
	Cancel(appID string) error
	Exists(appID string) bool
	Wait(appID string) (*tsm.AppStatus, error)
	LogIter(appID, roleName string, k int, regex *regexp.Regexp, since, until *time.Time) (LineIterator, error)
}

// Validating wraps a backend, resolving a caller's RunConfig against the
// backend's own RunOpts before delegating to its private Submit/SubmitDryRun,
// and making Cancel a no-op for unknown or already-terminal apps (spec §4.4).
type Validating struct {
	impl backend
}

// Wrap returns a Backend that validates run-config before delegating to
// impl. Concrete backends (LocalScheduler, the kubernetes stub) are built
// already wrapped by their constructors.
func Wrap(impl backend) Backend {
	return &Validating{impl: impl}
}

func (v *Validating) RunOpts() *tsm.RunOpts { return v.impl.RunOpts() }

func (v *Validating) Submit(app *tsm.Application, cfg *tsm.RunConfig) (string, error) {
	resolved, err := v.impl.RunOpts().Resolve(cfg)
	if err != nil {
		return "", err
	}
	return v.impl.doSubmit(app, resolved)
}

func (v *Validating) SubmitDryRun(app *tsm.Application, cfg *tsm.RunConfig) (tsm.AppDryRunInfo, error) {
	resolved, err := v.impl.RunOpts().Resolve(cfg)
	if err != nil {
		return tsm.AppDryRunInfo{}, err
	}
	return v.impl.doSubmitDryRun(app, resolved)
}

func (v *Validating) Describe(appID string) (*tsm.DescribeAppResponse, error) {
	return v.impl.Describe(appID)
}

func (v *Validating) Exists(appID string) bool {
	desc, err := v.impl.Describe(appID)
	return err == nil && desc != nil
}

func (v *Validating) Cancel(appID string) error {
	desc, err := v.impl.Describe(appID)
	if err != nil || desc == nil {
		return nil // unknown app_id: silent no-op, spec §7
	}
	if (tsm.AppStatus{State: desc.State}).IsTerminal() {
		return nil // already terminal: silent no-op, spec §4.4
	}
	return v.impl.cancelExisting(appID)
}

func (v *Validating) LogIter(appID, roleName string, k int, regex *regexp.Regexp, since, until *time.Time) (LineIterator, error) {
	return v.impl.LogIter(appID, roleName, k, regex, since, until)
}

// Wait polls Describe at a capped backoff until appID's application is
// terminal or absent (spec §4.4, §5). Implemented once here since it
// needs nothing backend-specific beyond Describe.
func (v *Validating) Wait(appID string) (*tsm.AppStatus, error) {
	b := &backoff.Backoff{Min: 10 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	for {
		desc, err := v.impl.Describe(appID)
		if err != nil {
			return nil, err
		}
		if desc == nil {
			return nil, nil
		}
		status := &tsm.AppStatus{State: desc.State, Roles: desc.Roles, StructuredErrorMsg: desc.StructuredErrorMsg}
		if status.IsTerminal() {
			return status, nil
		}
		time.Sleep(b.Duration())
	}
}
