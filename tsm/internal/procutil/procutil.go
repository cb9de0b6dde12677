// Package procutil holds process- and filesystem-plumbing helpers used by
// the local scheduler: environment merging, stdout/stderr trimming, hashed
// working-directory allocation, and live resource accounting. Adapted from
// the teacher's jobqueue/utils.go.
package procutil

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/process"
)

// mkHashedLevels is the number of directory levels created in MkHashedDir.
const mkHashedLevels = 4

var cr = []byte("\r")
var lf = []byte("\n")
var ellipses = []byte("[...]\n")

// EnvOverride overlays values from over on top of orig (both in os.Environ
// "KEY=VALUE" form), with over winning on key collision. Used to build a
// replica's process environment as role.Env merged over the driver's own
// environment.
func EnvOverride(orig, over []string) []string {
	override := make(map[string]string)
	for _, envvar := range over {
		pair := strings.SplitN(envvar, "=", 2)
		override[pair[0]] = envvar
	}

	env := append([]string(nil), orig...)
	for i, envvar := range env {
		pair := strings.SplitN(envvar, "=", 2)
		if replace, do := override[pair[0]]; do {
			env[i] = replace
			delete(override, pair[0])
		}
	}
	for _, envvar := range override {
		env = append(env, envvar)
	}
	return env
}

// ByteKey calculates a short, stable key describing a byte slice, using
// the same farm hash the teacher uses for job working-directory names.
func ByteKey(b []byte) string {
	l, h := farm.Hash128(b)
	return fmt.Sprintf("%016x%016x", l, h)
}

// CalculateHashedDir returns the hashed directory structure for tohash
// (expected to be the output of ByteKey, so >= mkHashedLevels runes),
// rooted at baseDir, and the leaf directory name.
func CalculateHashedDir(baseDir, tohash string) (string, string) {
	dirs := strings.SplitN(tohash, "", mkHashedLevels)
	dirs, leaf := dirs[0:mkHashedLevels-1], dirs[mkHashedLevels-1]
	dirs = append([]string{baseDir}, dirs...)
	return filepath.Join(dirs...), leaf
}

// MkHashedDir creates a scheduler-owned log directory for tohash (an
// app_id, typically) nested within baseDir, and returns it. Safe to call
// concurrently for different tohash values.
func MkHashedDir(baseDir, tohash string) (string, error) {
	dir, leaf := CalculateHashedDir(baseDir, ByteKey([]byte(tohash)))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	leafDir := filepath.Join(dir, leaf)
	if err := os.MkdirAll(leafDir, os.ModePerm); err != nil {
		return "", err
	}
	return leafDir, nil
}

// RmEmptyDirs deletes leafDir and its parents while they're empty,
// stopping at (and not deleting) baseDir. It's fine if leafDir doesn't
// exist.
func RmEmptyDirs(leafDir, baseDir string) error {
	err := os.Remove(leafDir)
	if err != nil && !os.IsNotExist(err) {
		if strings.Contains(err.Error(), "directory not empty") {
			return nil
		}
		return err
	}
	current := leafDir
	parent := filepath.Dir(current)
	for ; parent != baseDir; parent = filepath.Dir(current) {
		if thisErr := os.Remove(parent); thisErr != nil {
			break
		}
		current = parent
	}
	return nil
}

// RemoveAllExcept deletes the contents of path, except for the named
// (relative) exceptions. Used by the local scheduler to clear an evicted
// app's log directory of its per-replica log files before RmEmptyDirs
// reclaims the now-empty directory tree.
func RemoveAllExcept(path string, exceptions []string) error {
	keepDirs := make(map[string]bool)
	checkDirs := make(map[string]bool)
	path = filepath.Clean(path)
	for _, dir := range exceptions {
		abs := filepath.Join(path, dir)
		keepDirs[abs] = true
		for parent := filepath.Dir(abs); parent != path; parent = filepath.Dir(parent) {
			checkDirs[parent] = true
		}
	}
	return removeWithExceptions(path, keepDirs, checkDirs)
}

func removeWithExceptions(path string, keepDirs, checkDirs map[string]bool) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		abs := filepath.Join(path, entry.Name())
		if !entry.IsDir() {
			if err := os.Remove(abs); err != nil {
				return err
			}
			continue
		}
		if keepDirs[abs] {
			continue
		}
		if checkDirs[abs] {
			if err := removeWithExceptions(abs, keepDirs, checkDirs); err != nil {
				return err
			}
		} else if err := os.RemoveAll(abs); err != nil {
			return err
		}
	}
	return nil
}

// Compress zlib-compresses data. Used by the local scheduler to retain a
// failed replica's captured stderr tail as AppStatus.StructuredErrorMsg
// without holding the uncompressed bytes for the life of the app record.
func Compress(data []byte) ([]byte, error) {
	var compressed bytes.Buffer
	w, err := zlib.NewWriterLevel(&compressed, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrefixSuffixSaver is an io.Writer retaining the first N and last N bytes
// written to it, reconstructing a readable summary via Bytes(). Lifted
// from the unexported type of the same purpose in os/exec.
type PrefixSuffixSaver struct {
	N         int
	prefix    []byte
	suffix    []byte
	suffixOff int
	skipped   int64
}

func (w *PrefixSuffixSaver) Write(p []byte) (int, error) {
	lenp := len(p)
	p = w.fill(&w.prefix, p)
	if overage := len(p) - w.N; overage > 0 {
		p = p[overage:]
		w.skipped += int64(overage)
	}
	p = w.fill(&w.suffix, p)
	for len(p) > 0 {
		n := copy(w.suffix[w.suffixOff:], p)
		p = p[n:]
		w.skipped += int64(n)
		w.suffixOff += n
		if w.suffixOff == w.N {
			w.suffixOff = 0
		}
	}
	return lenp, nil
}

func (w *PrefixSuffixSaver) fill(dst *[]byte, p []byte) []byte {
	if remain := w.N - len(*dst); remain > 0 {
		add := minInt(len(p), remain)
		*dst = append(*dst, p[:add]...)
		p = p[add:]
	}
	return p
}

// Bytes reconstructs the saved prefix/suffix, noting how much was skipped.
func (w *PrefixSuffixSaver) Bytes() []byte {
	if w.suffix == nil {
		return w.prefix
	}
	if w.skipped == 0 {
		return append(w.prefix, w.suffix...)
	}
	var buf bytes.Buffer
	buf.Grow(len(w.prefix) + len(w.suffix) + 50)
	buf.Write(w.prefix)
	buf.WriteString("\n... omitting ")
	buf.WriteString(strconv.FormatInt(w.skipped, 10))
	buf.WriteString(" bytes ...\n")
	buf.Write(w.suffix[w.suffixOff:])
	buf.Write(w.suffix[:w.suffixOff])
	return buf.Bytes()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// StdFilter keeps only the first and last line of any contiguous block of
// \r terminated lines (mostly eliminating progress bars), copying std into
// out. Returns a channel to wait on for completion (nil error if clean).
func StdFilter(std io.Reader, out io.Writer) chan error {
	reader := bufio.NewReader(std)
	done := make(chan error)
	go func() {
		var merr *multierror.Error
		for {
			p, err := reader.ReadBytes('\n')

			lines := bytes.Split(p, cr)
			if _, errw := out.Write(lines[0]); errw != nil {
				merr = multierror.Append(merr, errw)
			}
			if len(lines) > 2 {
				if _, errw := out.Write(lf); errw != nil {
					merr = multierror.Append(merr, errw)
				}
				if len(lines) > 3 {
					if _, errw := out.Write(ellipses); errw != nil {
						merr = multierror.Append(merr, errw)
					}
				}
				if _, errw := out.Write(lines[len(lines)-2]); errw != nil {
					merr = multierror.Append(merr, errw)
				}
				if _, errw := out.Write(lf); errw != nil {
					merr = multierror.Append(merr, errw)
				}
			}

			if err != nil {
				break
			}
		}
		done <- merr.ErrorOrNil()
	}()
	return done
}

// CurrentMemory returns the current PSS memory usage (in MB) of pid and
// all its children, via /proc/*/smaps.
func CurrentMemory(pid int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/smaps", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var pss = []byte("Pss:")
	kb := uint64(0)
	r := bufio.NewScanner(f)
	for r.Scan() {
		line := r.Bytes()
		if bytes.HasPrefix(line, pss) {
			var size uint64
			if _, err := fmt.Sscanf(string(line[4:]), "%d", &size); err != nil {
				return 0, err
			}
			kb += size
		}
	}
	if err := r.Err(); err != nil {
		return 0, err
	}

	mem := int(kb / 1024)

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return mem, nil
	}
	children, err := p.Children()
	if err != nil {
		return mem, nil
	}
	for _, child := range children {
		if childMem, errr := CurrentMemory(int(child.Pid)); errr == nil {
			mem += childMem
		}
	}

	return mem, nil
}
