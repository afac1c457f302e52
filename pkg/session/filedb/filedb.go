package filedb

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultPrefix = "sess_"
	backendName   = "file"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9,_-]{1,128}$`)

// Options configures an Adapter.
type Options struct {
	// Prefix is prepended to session ids to form file names, defaults to DefaultPrefix.
	Prefix string
}

// Adapter is a session.Adapter that stores one file per session in a directory.
type Adapter struct {
	dir    string
	prefix string
}

// New returns an Adapter storing session files in dir.
// It errors if dir is not a writable directory or if opts are not valid.
func New(dir string, opts Options) (*Adapter, error) {
	prefix := opts.Prefix
	if "" == prefix {
		prefix = DefaultPrefix
	}
	if !validName.MatchString(prefix) {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "invalid file prefix %q", prefix)
	}

	dir, err := filepath.Abs(dir)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "invalid session directory")
	}
	info, err := os.Stat(dir)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "session directory unavailable")
	}
	if !info.IsDir() {
		return nil, utils.NewError(0, session.ErrBackend, "%s is not a directory", dir)
	}

	// checks that dir is writable
	probe, err := os.CreateTemp(dir, "."+prefix+"probe-*")
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "session directory not writable")
	}
	probe.Close()
	os.Remove(probe.Name())

	return &Adapter{dir: dir, prefix: prefix}, nil
}

// Dir returns the directory containing the session files.
func (self *Adapter) Dir() string {
	return self.dir
}

// path returns the file path for id, or "" if id can not be used in a file name.
func (self *Adapter) path(id string) string {
	if !validName.MatchString(id) {
		return ""
	}
	return filepath.Join(self.dir, self.prefix+id)
}

// Read returns the content of the session file.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	path := self.path(id)
	if "" == path {
		return nil, utils.NewError(0, session.ErrNotFound, "invalid session id")
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, utils.NewError(0, session.ErrNotFound, "no session file")
	case nil != err:
		self.logFault(ctx, "read", err)
		return nil, utils.NewError(0, session.ErrUnavailable, "failed reading session file")
	}

	return data, nil
}

// Write atomically replaces the session file content with data.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	path := self.path(id)
	if "" == path {
		return false
	}

	err := self.replace(path, data)
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}

	return true
}

func (self *Adapter) replace(path string, data []byte) error {
	tmp, err := os.CreateTemp(self.dir, "."+self.prefix+"tmp-*")
	if nil != err {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if nil == err {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); nil == err {
		err = cerr
	}
	if nil == err {
		err = os.Rename(tmpName, path)
	}
	if nil != err {
		os.Remove(tmpName)
	}

	return err
}

// Destroy removes the session file.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	path := self.path(id)
	if "" == path {
		return true
	}

	err := os.Remove(path)
	if nil != err && !errors.Is(err, fs.ErrNotExist) {
		self.logFault(ctx, "destroy", err)
		return false
	}

	return true
}

// GC removes session files not modified for maxAge.
//
// A lock file prevents concurrent sweeps of the same directory, GC returns (0, true)
// without scanning when another sweep holds the lock.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	lock := flock.New(filepath.Join(self.dir, "."+self.prefix+"gc.lock"))
	locked, err := lock.TryLock()
	if nil != err {
		self.logFault(ctx, "gc", err)
		return 0, false
	}
	if !locked {
		observability.Log(ctx).Debug("session gc already running", "backend", backendName)
		return 0, true
	}
	defer lock.Unlock()

	entries, err := os.ReadDir(self.dir)
	if nil != err {
		self.logFault(ctx, "gc", err)
		return 0, false
	}

	now := time.Now()
	var count int
	for _, entry := range entries {
		if nil != ctx.Err() {
			break
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, self.prefix) {
			continue
		}
		if !validName.MatchString(strings.TrimPrefix(name, self.prefix)) {
			continue
		}
		info, err := entry.Info()
		if nil != err {
			continue
		}
		if info.ModTime().Add(maxAge).After(now) {
			continue
		}
		err = os.Remove(filepath.Join(self.dir, name))
		if nil != err && !errors.Is(err, fs.ErrNotExist) {
			self.logFault(ctx, "gc", err)
			continue
		}
		count += 1
	}

	return count, true
}

// Close is a no-op.
func (self *Adapter) Close() error {
	return nil
}

func (self *Adapter) logFault(ctx context.Context, op string, err error) {
	observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", op, "error", err)
}

var _ session.Adapter = &Adapter{}
