package stl

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-ndbg/ndbg/pkg/proc"
)

// ElementAlias is the name of the text replacement bound to the address
// of the current element while a per element command runs. Commands refer
// to it as ${e}.
const ElementAlias = "e"

// Sink receives the value address of every element inside the window.
type Sink interface {
	HandleElement(addr uint64) error
}

// PrintSink writes each element address on its own line.
type PrintSink struct {
	W       io.Writer
	PtrSize int
}

func (s *PrintSink) HandleElement(addr uint64) error {
	_, err := fmt.Fprintln(s.W, proc.FormatAddr(addr, s.PtrSize))
	return err
}

// Host executes commands on behalf of an InvokeSink.
type Host interface {
	// SetTextReplacement binds name to value, so that ${name} is expanded
	// in the commands executed afterwards.
	SetTextReplacement(name, value string)
	// ClearTextReplacement removes the binding for name.
	ClearTextReplacement(name string)
	// Execute runs a command.
	Execute(cmd string) error
}

// InvocationError is returned by InvokeSink when the command fails for
// one element.
type InvocationError struct {
	Addr    uint64
	Command string
	Err     error
}

func (err *InvocationError) Error() string {
	return fmt.Sprintf("command %q failed for element %#x: %v", err.Command, err.Addr, err.Err)
}

func (err *InvocationError) Unwrap() error {
	return err.Err
}

// InvokeSink runs Command on Host for every element, with ${e} bound to
// the element's address.
type InvokeSink struct {
	Host    Host
	Command string
	PtrSize int
}

func (s *InvokeSink) HandleElement(addr uint64) error {
	s.Host.SetTextReplacement(ElementAlias, proc.FormatAddr(addr, s.PtrSize))
	defer s.Host.ClearTextReplacement(ElementAlias)
	if err := s.Host.Execute(s.Command); err != nil {
		return &InvocationError{Addr: addr, Command: s.Command, Err: err}
	}
	return nil
}

// CollectSink records the element addresses.
type CollectSink struct {
	Elements []uint64
}

func (s *CollectSink) HandleElement(addr uint64) error {
	s.Elements = append(s.Elements, addr)
	return nil
}

// SinkFor returns an InvokeSink running cfg.Command on host if cfg has a
// command, a PrintSink writing to out otherwise.
func SinkFor(cfg Config, host Host, out io.Writer, ptrSize int) (Sink, error) {
	if cfg.Command == "" {
		return &PrintSink{W: out, PtrSize: ptrSize}, nil
	}
	if host == nil {
		return nil, errors.New("per element commands are not available here")
	}
	return &InvokeSink{Host: host, Command: cfg.Command, PtrSize: ptrSize}, nil
}
