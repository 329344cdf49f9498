// Package engine wraps filesystem/ext4's FileSystem in the handle-based,
// POSIX-shaped operation set and typed error taxonomy described for this
// repository: open/read/write/lookup/getattr/setattr/readdir/mknod/mkdir/
// unlink/rmdir, each operation serialized behind a single lock, each error
// classified into a small set of kinds instead of bare strings.
//
// ext4.FileSystem is wrapped directly rather than through the generic
// filesystem.FileSystem interface: ext4.FileSystem.ReadDir returns
// []iofs.DirEntry, while filesystem.FileSystem.ReadDir returns
// []os.FileInfo, so the generic interface cannot carry the richer result
// this package needs without a lossy conversion on every call.
package engine

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/ext4"
	"github.com/sirupsen/logrus"
)

// Kind classifies an operation failure into the small set of outcomes a
// caller needs to branch on, independent of the underlying error text.
type Kind int

const (
	// Unknown is the zero value: an error that did not match any
	// recognized pattern. Treated the same as Io by callers that only
	// want to know "did it fail".
	Unknown Kind = iota
	NotFound
	AlreadyExists
	NotADirectory
	IsADirectory
	NotEmpty
	NoSpace
	InvalidArgument
	ReadOnly
	LoopDetected
	Corrupt
	Io
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case NotADirectory:
		return "NotADirectory"
	case IsADirectory:
		return "IsADirectory"
	case NotEmpty:
		return "NotEmpty"
	case NoSpace:
		return "NoSpace"
	case InvalidArgument:
		return "InvalidArgument"
	case ReadOnly:
		return "ReadOnly"
	case LoopDetected:
		return "LoopDetected"
	case Corrupt:
		return "Corrupt"
	case Io:
		return "Io"
	default:
		return "Unknown"
	}
}

// Error is the typed error every Engine method returns on failure.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps an error surfaced by filesystem/ext4 to a Kind. ext4.go
// wraps its own internal errors with fmt.Errorf rather than a typed error
// package, so this inspects the message the way spec.md §7 describes
// ("allocator, extent-tree, and directory routines surface their kind
// unchanged; high-level operations map them directly") — here, that
// mapping happens once, in one place, instead of at each call site.
func classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	switch {
	case errors.Is(err, ext4.ErrLoopDetected):
		return LoopDetected
	case errors.Is(err, filesystem.ErrReadonlyFilesystem):
		return ReadOnly
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return NotFound
	case strings.Contains(msg, "already exists"):
		return AlreadyExists
	case strings.Contains(msg, "not a directory"), strings.Contains(msg, "since it is a file"):
		return NotADirectory
	case strings.Contains(msg, "is a directory"), strings.Contains(msg, "cannot truncate directory"):
		return IsADirectory
	case strings.Contains(msg, "not empty"):
		return NotEmpty
	case strings.Contains(msg, "no space"), strings.Contains(msg, "out of inodes"), strings.Contains(msg, "no free"):
		return NoSpace
	case strings.Contains(msg, "read-only"), strings.Contains(msg, "not open for writing"):
		return ReadOnly
	case strings.Contains(msg, "too many levels of symbolic links"):
		return LoopDetected
	case strings.Contains(msg, "corrupt"), strings.Contains(msg, "bad magic"), strings.Contains(msg, "checksum"), strings.Contains(msg, "rec_len"):
		return Corrupt
	case strings.Contains(msg, "negative size"), strings.Contains(msg, "unsupported"), strings.Contains(msg, "invalid"):
		return InvalidArgument
	default:
		return Io
	}
}

func wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Op: op, Path: p, Err: err}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default logger (logrus.StandardLogger()).
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithReadOnly rejects any operation that would mutate the backing image,
// returning a ReadOnly Error instead of attempting the write.
func WithReadOnly(ro bool) Option {
	return func(e *Engine) { e.readOnly = ro }
}

// Engine is the single-threaded, synchronous state machine described in
// spec.md §5: one exclusive lock serializes every operation, and the entire
// persisted state is the backing image reachable through fsys.
type Engine struct {
	mu       sync.Mutex
	fsys     *ext4.FileSystem
	log      *logrus.Logger
	readOnly bool
}

// New wraps an already-mounted ext4.FileSystem. Opening/creating that
// filesystem (from a backend.Storage) is filesystem/ext4's job, not this
// package's; Engine only adds the handle-based operation surface on top.
func New(fsys *ext4.FileSystem, opts ...Option) *Engine {
	e := &Engine{
		fsys: fsys,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if needsJournalRecoveryWarning(fsys) {
		e.log.Warn("filesystem journal reports it needs recovery; no replay is performed")
	}
	return e
}

// needsJournalRecoveryWarning is a narrow hook: filesystem/ext4 does not
// expose the superblock's needs_recovery flag directly, and adding a public
// accessor purely to support one warning log line is not worth widening
// that package's surface. The check is a placeholder for when such an
// accessor exists; for now it always reports false.
func needsJournalRecoveryWarning(_ *ext4.FileSystem) bool {
	return false
}

// Handle is an open file, returned by Open. Position advances on Read and
// Write, matching the Closed -> Open(read|write|both) -> Closed state
// machine in spec.md §4.
type Handle struct {
	path string
	file filesystem.File
}

func (h *Handle) Read(b []byte) (int, error) {
	n, err := h.file.Read(b)
	if err != nil && err != io.EOF {
		return n, wrap("read", h.path, err)
	}
	return n, err
}

func (h *Handle) Write(b []byte) (int, error) {
	n, err := h.file.Write(b)
	if err != nil {
		return n, wrap("write", h.path, err)
	}
	return n, nil
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	pos, err := h.file.Seek(offset, whence)
	if err != nil {
		return pos, wrap("seek", h.path, err)
	}
	return pos, nil
}

func (h *Handle) Close() error {
	return wrap("close", h.path, h.file.Close())
}

// parseMode maps the recognized mode-flag set from spec.md §6 to the
// os.O_* combination filesystem/ext4's OpenFile already understands.
func parseMode(mode string) (int, error) {
	switch mode {
	case "r":
		return os.O_RDONLY, nil
	case "w":
		return os.O_WRONLY | os.O_TRUNC | os.O_CREATE, nil
	case "r+":
		return os.O_RDWR, nil
	case "w+":
		return os.O_RDWR | os.O_TRUNC | os.O_CREATE, nil
	case "a":
		return os.O_WRONLY | os.O_APPEND | os.O_CREATE, nil
	default:
		return 0, &Error{Kind: InvalidArgument, Op: "open", Err: errors.New("unrecognized mode flag " + mode)}
	}
}

// Open resolves path under the given mode flag and returns a handle
// positioned at 0 (or at end-of-file for append mode).
func (e *Engine) Open(p string, mode string) (*Handle, error) {
	p = cleanPath(p)
	flag, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	if e.readOnly && flag != os.O_RDONLY {
		return nil, &Error{Kind: ReadOnly, Op: "open", Path: p, Err: errors.New("engine is read-only")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := e.fsys.OpenFile(fsPath(p), flag)
	if err != nil {
		return nil, wrap("open", p, err)
	}
	return &Handle{path: p, file: f}, nil
}

// Kind of inode, as reported in FileAttr.Kind.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindRegularFile
	KindDirectory
	KindSymlink
	KindFifo
	KindSocket
	KindCharDevice
	KindBlockDevice
)

func nodeKindFromMode(mode fs.FileMode) NodeKind {
	switch {
	case mode.IsRegular():
		return KindRegularFile
	case mode.IsDir():
		return KindDirectory
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode&fs.ModeNamedPipe != 0:
		return KindFifo
	case mode&fs.ModeSocket != 0:
		return KindSocket
	case mode&fs.ModeCharDevice != 0:
		return KindCharDevice
	case mode&fs.ModeDevice != 0:
		return KindBlockDevice
	default:
		return KindUnknown
	}
}

// FileAttr is the file-attr record from spec.md §6: the fields a caller
// needs from getattr/lookup without reaching into the inode itself.
type FileAttr struct {
	Size    int64
	Blocks  int64
	ModTime time.Time
	Kind    NodeKind
	Perm    os.FileMode
	UID     uint32
	GID     uint32
}

func attrFromFileInfo(info fs.FileInfo) FileAttr {
	attr := FileAttr{
		Size:    info.Size(),
		Blocks:  (info.Size() + 511) / 512,
		ModTime: info.ModTime(),
		Kind:    nodeKindFromMode(info.Mode()),
		Perm:    info.Mode().Perm(),
	}
	if st, ok := info.Sys().(*ext4.StatT); ok && st != nil {
		attr.UID = st.UID
		attr.GID = st.GID
	}
	return attr
}

// Lookup resolves path and returns its file-attr, exactly as Getattr does;
// the two are the same operation at this layer since paths are the only
// handle this package resolves by (no separate parent-inode/name lookup
// surface is exposed above filesystem/ext4).
func (e *Engine) Lookup(p string) (FileAttr, error) {
	return e.Getattr(p)
}

// Getattr returns the file-attr record for path.
func (e *Engine) Getattr(p string) (FileAttr, error) {
	p = cleanPath(p)
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := e.fsys.Stat(fsPath(p))
	if err != nil {
		return FileAttr{}, wrap("getattr", p, err)
	}
	return attrFromFileInfo(info), nil
}

// SetattrPatch carries the optional fields setattr may mutate; a nil field
// is left unchanged.
type SetattrPatch struct {
	Mode  *os.FileMode
	UID   *int
	GID   *int
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
}

// Setattr applies patch to path, never touching the inode number or extent
// tree directly (size changes go through Truncate, matching spec.md §4).
func (e *Engine) Setattr(p string, patch SetattrPatch) (FileAttr, error) {
	p = cleanPath(p)
	if e.readOnly {
		return FileAttr{}, &Error{Kind: ReadOnly, Op: "setattr", Path: p, Err: errors.New("engine is read-only")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fp := fsPath(p)

	if patch.Mode != nil {
		if err := e.fsys.Chmod(fp, *patch.Mode); err != nil {
			return FileAttr{}, wrap("setattr", p, err)
		}
	}
	if patch.UID != nil || patch.GID != nil {
		uid, gid := -1, -1
		if patch.UID != nil {
			uid = *patch.UID
		}
		if patch.GID != nil {
			gid = *patch.GID
		}
		if err := e.fsys.Chown(fp, uid, gid); err != nil {
			return FileAttr{}, wrap("setattr", p, err)
		}
	}
	if patch.Size != nil {
		if err := e.fsys.Truncate(fp, *patch.Size); err != nil {
			return FileAttr{}, wrap("setattr", p, err)
		}
	}
	if patch.Atime != nil || patch.Mtime != nil {
		now := time.Now()
		atime, mtime := now, now
		if patch.Atime != nil {
			atime = *patch.Atime
		}
		if patch.Mtime != nil {
			mtime = *patch.Mtime
		}
		if err := e.fsys.Chtimes(fp, now, atime, mtime); err != nil {
			return FileAttr{}, wrap("setattr", p, err)
		}
	}

	info, err := e.fsys.Stat(fp)
	if err != nil {
		return FileAttr{}, wrap("setattr", p, err)
	}
	return attrFromFileInfo(info), nil
}

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name string
	Kind NodeKind
}

// Readdir lists the contents of the directory at path.
func (e *Engine) Readdir(p string) ([]DirEntry, error) {
	p = cleanPath(p)
	e.mu.Lock()
	defer e.mu.Unlock()
	entries, err := e.fsys.ReadDir(fsPath(p))
	if err != nil {
		return nil, wrap("readdir", p, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, ent := range entries {
		out = append(out, DirEntry{Name: ent.Name(), Kind: nodeKindFromMode(ent.Type())})
	}
	return out, nil
}

// Mkdir creates a directory at path; equivalent to `mkdir -p`, matching
// filesystem/ext4's own Mkdir semantics.
func (e *Engine) Mkdir(p string) error {
	p = cleanPath(p)
	if e.readOnly {
		return &Error{Kind: ReadOnly, Op: "mkdir", Path: p, Err: errors.New("engine is read-only")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return wrap("mkdir", p, e.fsys.Mkdir(fsPath(p)))
}

// Mknod creates a FIFO, socket, or regular file node at path. Character and
// block device nodes are rejected: see filesystem/ext4.FileSystem.Mknod's
// doc comment and DESIGN.md for why this package cannot encode a device
// number into an ext4 inode today.
func (e *Engine) Mknod(p string, mode uint32, dev int) error {
	p = cleanPath(p)
	if e.readOnly {
		return &Error{Kind: ReadOnly, Op: "mknod", Path: p, Err: errors.New("engine is read-only")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return wrap("mknod", p, e.fsys.Mknod(fsPath(p), mode, dev))
}

// Unlink removes the file at path. Per spec.md's table scenario, unlinking
// a directory is an error (IsADirectory) rather than silently succeeding;
// filesystem/ext4.FileSystem.Remove handles both files and empty
// directories identically, so that distinction is enforced here.
func (e *Engine) Unlink(p string) error {
	p = cleanPath(p)
	if e.readOnly {
		return &Error{Kind: ReadOnly, Op: "unlink", Path: p, Err: errors.New("engine is read-only")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := e.fsys.Stat(fsPath(p))
	if err != nil {
		return wrap("unlink", p, err)
	}
	if info.IsDir() {
		return &Error{Kind: IsADirectory, Op: "unlink", Path: p, Err: errors.New("is a directory")}
	}
	return wrap("unlink", p, e.fsys.Remove(fsPath(p)))
}

// Rmdir removes the empty directory at path.
func (e *Engine) Rmdir(p string) error {
	p = cleanPath(p)
	if e.readOnly {
		return &Error{Kind: ReadOnly, Op: "rmdir", Path: p, Err: errors.New("engine is read-only")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := e.fsys.Stat(fsPath(p))
	if err != nil {
		return wrap("rmdir", p, err)
	}
	if !info.IsDir() {
		return &Error{Kind: NotADirectory, Op: "rmdir", Path: p, Err: errors.New("not a directory")}
	}
	return wrap("rmdir", p, e.fsys.Remove(fsPath(p)))
}

// cleanPath normalizes p with path.Clean, mapping "" to ".": "", "." and
// "./" become ".", "///" becomes "/", and "./a/./b/../b" becomes "a/b". The
// result starts with "/" only when p does.
func cleanPath(p string) string {
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// fsPath translates a cleanPath-normalized engine path, rooted (e.g. "/",
// "/sub/f.txt") or not, into the unrooted form filesystem/ext4's
// validatePath/iofs.ValidPath expects ("." for the root, "sub/f.txt"
// otherwise) — ext4.FileSystem follows io/fs's path convention, where a
// leading "/" is invalid, while this package accepts rooted paths.
func fsPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}
