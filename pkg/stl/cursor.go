package stl

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"

	"github.com/go-ndbg/ndbg/pkg/logflags"
	"github.com/go-ndbg/ndbg/pkg/proc"
)

const (
	// DefaultMaxDepth is the default cap on the height of a tree. A
	// red-black tree holding 2^32 elements is at most 64 levels deep.
	DefaultMaxDepth = 512
	// DefaultMaxSize is the default cap on the size of a container, sizes
	// above it are considered a corrupt header.
	DefaultMaxSize = 1 << 28
)

// ErrNilContainer is returned when the container address is zero.
var ErrNilContainer = errors.New("container address is nil")

// DepthError is returned when a tree is deeper than the configured cap.
type DepthError struct {
	Addr  uint64
	Depth int
}

func (err *DepthError) Error() string {
	return fmt.Sprintf("tree deeper than %d levels at node %#x, the container is probably corrupt", err.Depth, err.Addr)
}

// Config describes one enumeration.
type Config struct {
	Kind Kind
	Addr uint64

	// Skip is the number of elements to skip.
	Skip uint64
	// Max is the maximum number of elements to emit, zero means no limit.
	Max uint64

	Verbose bool

	// Command is executed for every element, instead of printing its
	// address, when not empty. It needs a Host, see SinkFor.
	Command string

	// ElemSize is the size of the elements of a vector.
	ElemSize uint64

	// MaxDepth caps the height of trees, zero means DefaultMaxDepth.
	MaxDepth int
	// MaxSize caps the size of containers, zero means DefaultMaxSize.
	MaxSize uint64
}

// Cursor enumerates the elements of one container. A Cursor is built for
// a single invocation: create it with New, call Execute once and discard
// it.
type Cursor struct {
	cfg    Config
	mem    *proc.Memory
	layout Layout
	out    io.Writer
	sink   Sink
	log    logflags.Logger

	count uint64 // position of the next visited element
}

// New returns a cursor that reads the container described by cfg from mem,
// writes its report to out and passes the elements inside the window to
// sink.
func New(mem *proc.Memory, cfg Config, out io.Writer, sink Sink) (*Cursor, error) {
	layout, err := LayoutFor(cfg.Kind, mem.PtrSize())
	if err != nil {
		return nil, err
	}
	if cfg.Kind == Vector && cfg.ElemSize == 0 {
		return nil, errors.New("the element size of a vector must be set")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if out == nil {
		out = ioutil.Discard
	}
	return &Cursor{
		cfg:    cfg,
		mem:    mem,
		layout: layout,
		out:    out,
		sink:   sink,
		log:    logflags.WalkerLogger(),
	}, nil
}

// Execute reads the container header and walks the container.
func (c *Cursor) Execute() error {
	if c.cfg.Addr == 0 {
		return ErrNilContainer
	}
	var size, head uint64
	var err error
	if c.cfg.Kind == Vector {
		head, size, err = c.vectorBounds()
		if err != nil {
			return err
		}
	} else {
		size, err = c.mem.ReadPointer(c.cfg.Addr + c.layout.Size)
		if err != nil {
			return fmt.Errorf("could not read size of %v at %#x: %v", c.cfg.Kind, c.cfg.Addr, err)
		}
	}
	if size > c.cfg.MaxSize {
		return fmt.Errorf("size of %v at %#x is %d, larger than the limit of %d elements", c.cfg.Kind, c.cfg.Addr, size, c.cfg.MaxSize)
	}
	fmt.Fprintf(c.out, "Size=%d\n", size)

	if size == 0 {
		return nil
	}
	if c.cfg.Skip >= size {
		fmt.Fprintf(c.out, "Skipped all elements.\n")
		return nil
	}

	if c.cfg.Kind != Vector {
		head, err = c.mem.ReadPointer(c.cfg.Addr + c.layout.Root)
		if err != nil {
			return fmt.Errorf("could not read head of %v at %#x: %v", c.cfg.Kind, c.cfg.Addr, err)
		}
	}

	if logflags.Walker() {
		c.log.Debugf("walking %v at %#x: size=%d head=%#x skip=%d max=%d", c.cfg.Kind, c.cfg.Addr, size, head, c.cfg.Skip, c.cfg.Max)
	}
	if c.cfg.Verbose {
		fmt.Fprintf(c.out, "Skip=%d, Max=%d\n", c.cfg.Skip, c.cfg.Max)
	}

	c.count = 0
	switch {
	case c.cfg.Kind.IsTree():
		return c.walkTree(head, size)
	case c.cfg.Kind == Vector:
		return c.walkVector(head, size)
	}
	return c.walkList(head, size)
}

// windowEnd returns the position of the first element after the window.
func (c *Cursor) windowEnd() uint64 {
	if c.cfg.Max == 0 || c.cfg.Skip > math.MaxUint64-c.cfg.Max {
		return math.MaxUint64
	}
	return c.cfg.Skip + c.cfg.Max
}

// admit advances the cursor by one element and reports whether that
// element is inside the window.
func (c *Cursor) admit() bool {
	i := c.count
	c.count++
	return i >= c.cfg.Skip && i < c.windowEnd()
}

// done reports whether no more elements need to be visited.
func (c *Cursor) done(size uint64) bool {
	return c.count >= size || c.count >= c.windowEnd()
}

func (c *Cursor) emit(value uint64) {
	if err := c.sink.HandleElement(value); err != nil {
		c.mem.Diagnose(err)
		if logflags.Walker() {
			c.log.WithError(err).Warnf("element %#x", value)
		}
	}
}

func (c *Cursor) skipped(node uint64) {
	if c.cfg.Verbose {
		fmt.Fprintf(c.out, "v:Skipping node at %s\n", c.mem.FormatAddr(node))
	}
}

// Elements returns the value addresses of the elements of the container
// described by cfg that fall inside its window. cfg.Command is ignored.
func Elements(mem *proc.Memory, cfg Config) ([]uint64, error) {
	sink := &CollectSink{}
	cfg.Verbose = false
	c, err := New(mem, cfg, nil, sink)
	if err != nil {
		return nil, err
	}
	err = c.Execute()
	return sink.Elements, err
}
