package scheduler

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/carbocation/runningvariance"
	"github.com/creasty/defaults"
	"github.com/inconshreveable/log15"
	deadlock "github.com/sasha-s/go-deadlock"
	"github.com/sb10/l15h"
	waitgroup "github.com/sb10/waitgroup"

	"github.com/torchdeploy/tsm"
	"github.com/torchdeploy/tsm/internal/procutil"
	"github.com/torchdeploy/tsm/macro"
	"github.com/torchdeploy/tsm/rp"
)

// LocalSchedulerConfig configures a LocalScheduler. Zero-valued fields are
// defaulted by NewLocalScheduler via struct tags, in the manner of the
// teacher's own config structs.
type LocalSchedulerConfig struct {
	// CacheSize bounds how many app records the scheduler retains at
	// once (spec §4.6). Must be >= 1.
	CacheSize int `default:"1000"`

	// LogRoot is where per-replica log files and the scheduler's own log
	// are written.
	LogRoot string `default:"/tmp/tsm-local-scheduler"`

	// ImageCacheSize bounds the local image fetcher's LRU cache.
	ImageCacheSize int `default:"128"`

	// MaxConcurrentSpawns bounds how many replica processes may be
	// mid-spawn at once, enforced via tsm/rp.
	MaxConcurrentSpawns int `default:"32"`

	// MaxTotalMemMB, if non-zero, additionally bounds submission: if the
	// sum of memMB across all non-terminal apps (including the one being
	// submitted) would exceed it, submission fails with
	// CapacityExceededError even when the record cache has room. Default
	// 0 disables this check (only CacheSize bounds capacity).
	MaxTotalMemMB int `default:"0"`

	// CancelGrace is how long Cancel waits after SIGTERM before SIGKILL.
	CancelGrace time.Duration `default:"5s"`

	// MemorySampleInterval governs how often a running replica's memory
	// (PSS) is sampled for the EWMA surfaced in RoleStatus.Msg.
	MemorySampleInterval time.Duration `default:"2s"`
}

// stderrTailBytes bounds how much of a replica's raw stderr is retained
// for StructuredErrorMsg, via procutil.PrefixSuffixSaver.
const stderrTailBytes = 4096

// replicaProc tracks one spawned replica process.
type replicaProc struct {
	role       string
	index      int
	cmd        *exec.Cmd
	logPath    string
	startedAt  time.Time
	exitCode   *int
	stopSample chan struct{}

	stderrSaver      *procutil.PrefixSuffixSaver
	compressedStderr []byte
}

// appRecord is the local scheduler's bookkeeping for one submitted
// application (spec §4.6).
type appRecord struct {
	app        *tsm.Application
	imageRoots map[string]string
	replicas   []*replicaProc
	cancelled  bool
	startedAt  time.Time
	dir        string
}

// LocalScheduler is the local process-supervisor scheduler backend: it
// spawns, tracks, logs and cancels child processes representing an
// Application's replicas, behind a bounded app-record cache.
type LocalScheduler struct {
	cfg     LocalSchedulerConfig
	fetcher ImageFetcher
	logger  log15.Logger
	limiter *rp.Protector

	mu       deadlock.RWMutex
	order    []string
	records  map[string]*appRecord
	counters map[string]int

	memEWMA    map[string]ewma.MovingAverage
	runtimeVar map[string]*runningvariance.RunningStat

	wg     *waitgroup.WaitGroup
	closed bool

	// MakeUniqueID assigns app ids; overridable by tests, per spec §4.6.
	MakeUniqueID func(name string) string
}

// NewLocalScheduler builds a Backend wrapping a LocalScheduler, applying
// cfg's defaults and failing with a *tsm.ValueError if the resolved
// CacheSize is non-positive (spec §4.6).
func NewLocalScheduler(cfg LocalSchedulerConfig, logger log15.Logger) (Backend, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	if cfg.CacheSize < 1 {
		return nil, &tsm.ValueError{Op: "NewLocalScheduler", Reason: "cache_size must be >= 1"}
	}

	if logger == nil {
		logger = log15.New()
	}
	logger = logger.New("scheduler", "local")
	if cfg.LogRoot != "" {
		if err := os.MkdirAll(cfg.LogRoot, 0o755); err == nil {
			if fh, ferr := log15.FileHandler(filepath.Join(cfg.LogRoot, "local_scheduler.log"), log15.LogfmtFormat()); ferr == nil {
				l15h.AddHandler(logger, fh)
			}
		}
	}

	s := &LocalScheduler{
		cfg:        cfg,
		fetcher:    NewLocalDirectoryImageFetcher(cfg.ImageCacheSize),
		logger:     logger,
		limiter:    rp.New("local-scheduler-spawns", 0, cfg.MaxConcurrentSpawns, time.Minute),
		records:    map[string]*appRecord{},
		counters:   map[string]int{},
		memEWMA:    map[string]ewma.MovingAverage{},
		runtimeVar: map[string]*runningvariance.RunningStat{},
		wg:         waitgroup.New(),
	}
	s.MakeUniqueID = s.makeUniqueID
	return Wrap(s), nil
}

func (s *LocalScheduler) makeUniqueID(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counters[name]
	s.counters[name] = n + 1
	return fmt.Sprintf("%s_%d", name, n)
}

// RunOpts returns the local backend's option schema. The local scheduler
// requires nothing of a RunConfig; all behaviour is driven by
// LocalSchedulerConfig at construction time.
func (s *LocalScheduler) RunOpts() *tsm.RunOpts {
	return tsm.NewRunOpts()
}

// doSubmit implements spec §4.6's submission algorithm.
func (s *LocalScheduler) doSubmit(app *tsm.Application, cfg *tsm.RunConfig) (string, error) {
	if err := s.reserveCapacity(app); err != nil {
		return "", err
	}

	appID := s.MakeUniqueID(app.Name)
	dir, err := procutil.MkHashedDir(s.cfg.LogRoot, appID)
	if err != nil {
		return "", err
	}

	imageRoots := map[string]string{}
	for _, role := range app.Roles {
		root, ferr := s.fetcher.Fetch(role.Container.Image)
		if ferr != nil {
			return "", ferr
		}
		imageRoots[role.Name] = root
	}

	replicas, err := s.spawnAllReplicas(appID, dir, app, imageRoots)
	if err != nil {
		return "", err
	}

	rec := &appRecord{app: app, imageRoots: imageRoots, replicas: replicas, startedAt: time.Now(), dir: dir}

	s.mu.Lock()
	s.records[appID] = rec
	s.order = append(s.order, appID)
	s.mu.Unlock()

	s.logger.Info("submitted application", "app_id", appID, "roles", len(app.Roles))
	return appID, nil
}

// spawnJob identifies one replica to spawn, by role and replica index.
type spawnJob struct {
	role  *tsm.Role
	index int
}

// spawnAllReplicas spawns every replica of every role in app concurrently,
// so s.limiter's MaxConcurrentSpawns throttle actually gates how many
// cmd.Start() calls are in flight at once (spec §4.6). Results preserve
// the same (role, index) order a serial spawn would have produced, which
// LogIter's k-th-replica-of-role indexing depends on. If any replica
// fails to start, already-started replicas are killed and the first
// error encountered is returned.
func (s *LocalScheduler) spawnAllReplicas(appID, dir string, app *tsm.Application, imageRoots map[string]string) ([]*replicaProc, error) {
	var jobs []spawnJob
	for _, role := range app.Roles {
		n := role.NumReplicas
		if n < 1 {
			n = 1
		}
		for r := 0; r < n; r++ {
			jobs = append(jobs, spawnJob{role: role, index: r})
		}
	}

	replicas := make([]*replicaProc, len(jobs))
	errs := make([]error, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job spawnJob) {
			defer wg.Done()
			rep, err := s.spawnReplica(appID, dir, job.role, imageRoots[job.role.Name], job.index)
			replicas[i] = rep
			errs[i] = err
		}(i, job)
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil {
			continue
		}
		for _, rep := range replicas {
			if rep != nil && rep.cmd.Process != nil {
				_ = rep.cmd.Process.Kill()
			}
		}
		return nil, err
	}
	return replicas, nil
}

// spawnReplica expands macros, starts one replica process, and wires up
// its log capture and exit-code reconciliation goroutine.
func (s *LocalScheduler) spawnReplica(appID, dir string, role *tsm.Role, imageRoot string, index int) (*replicaProc, error) {
	mv := macro.Values{ImgRoot: imageRoot, AppID: appID, ReplicaID: strconv.Itoa(index)}
	entrypoint := mv.Substitute(role.Entrypoint)
	args := mv.SubstituteAll(role.Args)
	env := mv.SubstituteEnv(role.Env)

	logPath := filepath.Join(dir, fmt.Sprintf("%s.%d.log", role.Name, index))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, err
	}
	shared := &syncWriter{w: logFile}

	cmd := exec.Command(entrypoint, args...)
	cmd.Dir = imageRoot
	cmd.Env = procutil.EnvOverride(os.Environ(), mapToEnvSlice(env))

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		logFile.Close()
		return nil, err
	}

	receipt, err := s.limiter.Request(1)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	s.limiter.WaitUntilGranted(receipt)

	if err := cmd.Start(); err != nil {
		s.limiter.Release(receipt)
		logFile.Close()
		return nil, err
	}
	s.limiter.Release(receipt)

	saver := &procutil.PrefixSuffixSaver{N: stderrTailBytes}
	stdoutDone := procutil.StdFilter(stdoutPipe, &timestampedLineWriter{w: shared})
	stderrDone := procutil.StdFilter(io.TeeReader(stderrPipe, saver), &timestampedLineWriter{w: shared})

	rep := &replicaProc{
		role:        role.Name,
		index:       index,
		cmd:         cmd,
		logPath:     logPath,
		startedAt:   time.Now(),
		stopSample:  make(chan struct{}),
		stderrSaver: saver,
	}

	s.wg.Add(1)
	go s.sampleMemory(appID, rep)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-stdoutDone
		<-stderrDone
		waitErr := cmd.Wait()
		code := exitCodeFromErr(waitErr)

		close(rep.stopSample)
		s.recordExit(appID, role.Name, rep, code)

		logFile.Close()
	}()

	return rep, nil
}

// recordExit stores a replica's exit code, compresses its stderr tail if
// it failed, and updates the role's diagnostic runtime-variance statistic.
func (s *LocalScheduler) recordExit(appID, roleName string, rep *replicaProc, code int) {
	var compressed []byte
	if code != 0 {
		if c, err := procutil.Compress(rep.stderrSaver.Bytes()); err == nil {
			compressed = c
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rep.exitCode = &code
	rep.compressedStderr = compressed

	key := appID + "/" + roleName
	stat, ok := s.runtimeVar[key]
	if !ok {
		stat = &runningvariance.RunningStat{}
		s.runtimeVar[key] = stat
	}
	stat.Push(time.Since(rep.startedAt).Seconds())
}

// sampleMemory periodically records a running replica's PSS into an EWMA
// for the role, stopping when stopSample is closed.
func (s *LocalScheduler) sampleMemory(appID string, rep *replicaProc) {
	defer s.wg.Done()
	interval := s.cfg.MemorySampleInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rep.stopSample:
			return
		case <-ticker.C:
			if rep.cmd.Process == nil {
				continue
			}
			mem, err := procutil.CurrentMemory(rep.cmd.Process.Pid)
			if err != nil {
				continue
			}
			s.mu.Lock()
			key := appID + "/" + rep.role
			avg, ok := s.memEWMA[key]
			if !ok {
				avg = ewma.NewMovingAverage()
				s.memEWMA[key] = avg
			}
			avg.Add(float64(mem))
			s.mu.Unlock()
		}
	}
}

// doSubmitDryRun implements spec §4.6's dry-run request shape.
func (s *LocalScheduler) doSubmitDryRun(app *tsm.Application, cfg *tsm.RunConfig) (tsm.AppDryRunInfo, error) {
	type replicaDescriptor struct {
		Args []string          `json:"args"`
		Env  map[string]string `json:"env"`
	}

	request := make([]map[string][]replicaDescriptor, 0, len(app.Roles))
	for _, role := range app.Roles {
		imageRoot := role.Container.Image
		if fetched, err := s.fetcher.Fetch(role.Container.Image); err == nil {
			imageRoot = fetched
		}

		n := role.NumReplicas
		if n < 1 {
			n = 1
		}
		descs := make([]replicaDescriptor, 0, n)
		for r := 0; r < n; r++ {
			mv := macro.Values{ImgRoot: imageRoot, AppID: "<app_id>", ReplicaID: strconv.Itoa(r)}
			args := append([]string{mv.Substitute(role.Entrypoint)}, mv.SubstituteAll(role.Args)...)
			descs = append(descs, replicaDescriptor{Args: args, Env: mv.SubstituteEnv(role.Env)})
		}
		request = append(request, map[string][]replicaDescriptor{role.Name: descs})
	}

	formatter := func(r interface{}) string {
		reqs, ok := r.([]map[string][]replicaDescriptor)
		if !ok {
			return fmt.Sprintf("%v", r)
		}
		var b bytes.Buffer
		for _, roleReq := range reqs {
			for name, descs := range roleReq {
				fmt.Fprintf(&b, "role: %s (%d replicas)\n", name, len(descs))
				for i, d := range descs {
					fmt.Fprintf(&b, "  replica %d: args=%v env=%v\n", i, d.Args, d.Env)
				}
			}
		}
		return b.String()
	}

	return tsm.AppDryRunInfo{Request: request, Formatter: formatter}, nil
}

// Describe implements spec §4.6's state reconciliation.
func (s *LocalScheduler) Describe(appID string) (*tsm.DescribeAppResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[appID]
	if !ok {
		return nil, nil
	}

	state := stateFor(rec)
	return &tsm.DescribeAppResponse{
		AppID:              appID,
		State:              state,
		Roles:              s.roleStatusesLocked(appID, rec),
		StructuredErrorMsg: s.structuredErrorMsgLocked(rec),
	}, nil
}

// structuredErrorMsgLocked decompresses and returns the first failed
// replica's captured stderr tail, in submission order, or "" if none
// failed or none captured cleanly.
func (s *LocalScheduler) structuredErrorMsgLocked(rec *appRecord) string {
	for _, rep := range rec.replicas {
		if rep.exitCode == nil || *rep.exitCode == 0 || rep.compressedStderr == nil {
			continue
		}
		tail, err := procutil.Decompress(rep.compressedStderr)
		if err != nil {
			continue
		}
		return string(tail)
	}
	return ""
}

func (s *LocalScheduler) roleStatusesLocked(appID string, rec *appRecord) []tsm.RoleStatus {
	statuses := make([]tsm.RoleStatus, 0, len(rec.app.Roles))
	for _, role := range rec.app.Roles {
		msg := ""
		key := appID + "/" + role.Name
		if avg, ok := s.memEWMA[key]; ok {
			msg = fmt.Sprintf("avg mem (ewma): %.1fMB", avg.Value())
		}
		if stat, ok := s.runtimeVar[key]; ok && stat.NumSamples() > 0 {
			if msg != "" {
				msg += "; "
			}
			msg += fmt.Sprintf("runtime mean=%.1fs var=%.2f", stat.Mean(), stat.PopulationVariance())
		}
		statuses = append(statuses, tsm.RoleStatus{Name: role.Name, NumReplicas: role.NumReplicas, Msg: msg})
	}
	return statuses
}

// stateFor reconciles a record's replicas into an AppState, per spec §4.6:
// success if every replica exited 0, failure if any exited non-zero,
// cancelled if Cancel was called and neither of the above applies yet,
// else running.
func stateFor(rec *appRecord) tsm.AppState {
	allExited := true
	anyNonZero := false
	for _, rep := range rec.replicas {
		if rep.exitCode == nil {
			allExited = false
			continue
		}
		if *rep.exitCode != 0 {
			anyNonZero = true
		}
	}
	switch {
	case allExited && !anyNonZero:
		return tsm.Succeeded
	case anyNonZero:
		return tsm.Failed
	case rec.cancelled:
		return tsm.Cancelled
	default:
		return tsm.Running
	}
}

// cancelExisting terminates all non-exited replicas of appID: best-effort
// SIGTERM, then SIGKILL after CancelGrace (spec §4.6, §5).
func (s *LocalScheduler) cancelExisting(appID string) error {
	s.mu.Lock()
	rec, ok := s.records[appID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	rec.cancelled = true

	var toSignal []*os.Process
	for _, rep := range rec.replicas {
		if rep.exitCode == nil && rep.cmd.Process != nil {
			toSignal = append(toSignal, rep.cmd.Process)
		}
	}
	s.mu.Unlock()

	for _, proc := range toSignal {
		_ = proc.Signal(syscall.SIGTERM)
		s.wg.Add(1)
		go func(p *os.Process) {
			defer s.wg.Done()
			time.Sleep(s.cfg.CancelGrace)
			_ = p.Signal(syscall.Signal(0)) // best-effort liveness probe; ignore error
			_ = p.Kill()
		}(proc)
	}
	return nil
}

// LogIter returns a single-pass, line-filtered view of the k-th replica of
// roleName's combined stdout/stderr log (spec §4.6, Open Question in §9:
// k indexes replicas, not lines).
func (s *LocalScheduler) LogIter(appID, roleName string, k int, regex *regexp.Regexp, since, until *time.Time) (LineIterator, error) {
	s.mu.RLock()
	rec, ok := s.records[appID]
	if !ok {
		s.mu.RUnlock()
		return nil, &tsm.ValueError{Op: "LogIter", Reason: "unknown app_id: " + appID}
	}

	var logPath string
	found := false
	idx := 0
	for _, rep := range rec.replicas {
		if rep.role != roleName {
			continue
		}
		if idx == k {
			logPath = rep.logPath
			found = true
			break
		}
		idx++
	}
	s.mu.RUnlock()

	if !found {
		return nil, &tsm.ValueError{Op: "LogIter", Reason: fmt.Sprintf("no replica %d of role %q", k, roleName)}
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	return &logLineIterator{f: f, scanner: bufio.NewScanner(f), regex: regex, since: since, until: until}, nil
}

// Close cancels every non-terminal app and releases the scheduler's
// resources, in the manner of the teacher's scheduler cleanup() methods.
func (s *LocalScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.mu.Unlock()

	var errs error
	for _, id := range ids {
		if desc, _ := s.Describe(id); desc != nil && !(tsm.AppStatus{State: desc.State}).IsTerminal() {
			if err := s.cancelExisting(id); err != nil {
				errs = appendErr(errs, err)
			}
		}
	}
	s.wg.Wait()
	return errs
}

func appendErr(existing error, next error) error {
	if existing == nil {
		return next
	}
	return fmt.Errorf("%w; %s", existing, next)
}

func exitCodeFromErr(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func mapToEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// syncWriter serializes concurrent writes from the stdout and stderr
// copy-goroutines into one shared log file.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// timestampedLineWriter prefixes each newline-terminated line written to
// it with an RFC3339Nano timestamp and a tab, so LogIter can apply
// since/until filtering without a second side-channel.
type timestampedLineWriter struct {
	w   io.Writer
	buf []byte
}

func (t *timestampedLineWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	for {
		idx := bytes.IndexByte(t.buf, '\n')
		if idx < 0 {
			break
		}
		line := t.buf[:idx]
		ts := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := fmt.Fprintf(t.w, "%s\t%s\n", ts, line); err != nil {
			return len(p), err
		}
		t.buf = t.buf[idx+1:]
	}
	return len(p), nil
}

// logLineIterator is the LineIterator LogIter returns: a single-pass scan
// of a replica's log file, applying regex and time-window filtering.
type logLineIterator struct {
	f       *os.File
	scanner *bufio.Scanner
	regex   *regexp.Regexp
	since   *time.Time
	until   *time.Time
}

func (it *logLineIterator) Next() (string, bool) {
	for it.scanner.Scan() {
		raw := it.scanner.Text()
		ts, content := splitTimestampedLine(raw)

		if it.since != nil && !ts.IsZero() && ts.Before(*it.since) {
			continue
		}
		if it.until != nil && !ts.IsZero() && ts.After(*it.until) {
			continue
		}
		if it.regex != nil && !it.regex.MatchString(content) {
			continue
		}
		return content, true
	}
	return "", false
}

func (it *logLineIterator) Close() error {
	return it.f.Close()
}

func splitTimestampedLine(raw string) (time.Time, string) {
	idx := bytes.IndexByte([]byte(raw), '\t')
	if idx < 0 {
		return time.Time{}, raw
	}
	ts, err := time.Parse(time.RFC3339Nano, raw[:idx])
	if err != nil {
		return time.Time{}, raw
	}
	return ts, raw[idx+1:]
}

// reserveCapacity enforces spec §4.6's cache-size eviction policy, plus
// the optional MaxTotalMemMB ceiling from SPEC_FULL §13.
func (s *LocalScheduler) reserveCapacity(app *tsm.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.cfg.CacheSize {
		if !s.evictOldestTerminalLocked() {
			return &tsm.CapacityExceededError{Reason: "cache is full and no record is terminal"}
		}
	}

	if s.cfg.MaxTotalMemMB > 0 {
		total := totalAppMemMB(app)
		for _, rec := range s.records {
			if !(tsm.AppStatus{State: stateFor(rec)}).IsTerminal() {
				total += totalAppMemMB(rec.app)
			}
		}
		if total > s.cfg.MaxTotalMemMB {
			return &tsm.CapacityExceededError{Reason: "would exceed configured max total memory"}
		}
	}

	return nil
}

// evictOldestTerminalLocked drops the oldest record (by submission order)
// whose state is terminal, returning whether one was found.
func (s *LocalScheduler) evictOldestTerminalLocked() bool {
	for i, id := range s.order {
		rec := s.records[id]
		if (tsm.AppStatus{State: stateFor(rec)}).IsTerminal() {
			delete(s.records, id)
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			_ = procutil.RemoveAllExcept(rec.dir, nil)
			_ = procutil.RmEmptyDirs(rec.dir, s.cfg.LogRoot)
			return true
		}
	}
	return false
}

func totalAppMemMB(app *tsm.Application) int {
	total := 0
	for _, role := range app.Roles {
		if role.Container == nil || role.Container.Resources == nil {
			continue
		}
		n := role.NumReplicas
		if n < 1 {
			n = 1
		}
		total += role.Container.Resources.MemMB * n
	}
	return total
}
