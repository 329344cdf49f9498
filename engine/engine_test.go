package engine

import (
	"errors"
	"io/fs"
	"os"
	"testing"

	"github.com/diskfs/go-diskfs/filesystem/ext4"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{NotFound, "NotFound"},
		{AlreadyExists, "AlreadyExists"},
		{NotADirectory, "NotADirectory"},
		{IsADirectory, "IsADirectory"},
		{NotEmpty, "NotEmpty"},
		{NoSpace, "NoSpace"},
		{InvalidArgument, "InvalidArgument"},
		{ReadOnly, "ReadOnly"},
		{LoopDetected, "LoopDetected"},
		{Corrupt, "Corrupt"},
		{Io, "Io"},
		{Kind(999), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"loop sentinel", ext4.ErrLoopDetected, LoopDetected},
		{"does not exist text", errors.New("target file /a does not exist"), NotFound},
		{"already exists text", errors.New("/a already exists"), AlreadyExists},
		{"not a directory text", errors.New("cannot create directory at /a since it is a file"), NotADirectory},
		{"is a directory text", errors.New("is a directory"), IsADirectory},
		{"not empty text", errors.New("directory not empty: /a"), NotEmpty},
		{"no space text", errors.New("no space left to allocate block"), NoSpace},
		{"read only text", errors.New("file is not open for writing"), ReadOnly},
		{"corrupt text", errors.New("corrupt directory entry at block offset 4"), Corrupt},
		{"unsupported text", errors.New("cannot create character or block device /a: unsupported"), InvalidArgument},
		{"unrecognized text", errors.New("something broke"), Io},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("boom")
	e := &Error{Kind: NotFound, Op: "open", Path: "/a/b", Err: inner}
	if !errors.Is(e, inner) {
		t.Errorf("expected errors.Is to find the wrapped error")
	}
	want := "open /a/b: NotFound: boom"
	if got := e.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	e2 := &Error{Kind: Io, Op: "readdir", Err: inner}
	want2 := "readdir: Io: boom"
	if got := e2.Error(); got != want2 {
		t.Errorf("got %q, want %q", got, want2)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		mode    string
		want    int
		wantErr bool
	}{
		{"r", os.O_RDONLY, false},
		{"w", os.O_WRONLY | os.O_TRUNC | os.O_CREATE, false},
		{"r+", os.O_RDWR, false},
		{"w+", os.O_RDWR | os.O_TRUNC | os.O_CREATE, false},
		{"a", os.O_WRONLY | os.O_APPEND | os.O_CREATE, false},
		{"bogus", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got, err := parseMode(tt.mode)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for mode %q", tt.mode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseMode(%q) = %#o, want %#o", tt.mode, got, tt.want)
			}
		})
	}
}

func TestNodeKindFromMode(t *testing.T) {
	tests := []struct {
		name string
		mode fs.FileMode
		want NodeKind
	}{
		{"regular", 0o644, KindRegularFile},
		{"directory", fs.ModeDir | 0o755, KindDirectory},
		{"symlink", fs.ModeSymlink | 0o777, KindSymlink},
		{"fifo", fs.ModeNamedPipe | 0o644, KindFifo},
		{"socket", fs.ModeSocket | 0o644, KindSocket},
		{"char device", fs.ModeCharDevice | fs.ModeDevice | 0o644, KindCharDevice},
		{"block device", fs.ModeDevice | 0o644, KindBlockDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nodeKindFromMode(tt.mode); got != tt.want {
				t.Errorf("nodeKindFromMode(%v) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "."},
		{".", "."},
		{"./", "."},
		{"///", "/"},
		{"./a/./b/../b", "a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cleanPath(tt.in); got != tt.want {
				t.Errorf("cleanPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithReadOnlyOption(t *testing.T) {
	e := &Engine{}
	WithReadOnly(true)(e)
	if !e.readOnly {
		t.Errorf("expected readOnly to be true after WithReadOnly(true)")
	}
}
