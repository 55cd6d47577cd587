// Package logging holds the small Logger contract shared by the node's packages.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger is the leveled printf-style logger every component accepts.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Std writes through a standard library logger, tagging each line with a component.
type Std struct {
	logger    *log.Logger
	component string
	debug     bool
}

func New(component string, debug bool) *Std {
	return &Std{
		logger:    log.New(os.Stdout, "", log.LstdFlags),
		component: component,
		debug:     debug,
	}
}

// With returns a logger for a sub-component sharing the same output.
func (s *Std) With(component string) *Std {
	return &Std{logger: s.logger, component: component, debug: s.debug}
}

func (s *Std) Debugf(format string, args ...any) {
	if s.debug {
		s.output("DEBUG", format, args...)
	}
}

func (s *Std) Infof(format string, args ...any)  { s.output("INFO", format, args...) }
func (s *Std) Warnf(format string, args ...any)  { s.output("WARN", format, args...) }
func (s *Std) Errorf(format string, args ...any) { s.output("ERROR", format, args...) }

func (s *Std) output(level, format string, args ...any) {
	s.logger.Printf("[%s] [%s] %s", level, s.component, fmt.Sprintf(format, args...))
}

// Default returns l, or a std logger for component when l is nil.
func Default(l Logger, component string) Logger {
	if l != nil {
		return l
	}
	return New(component, false)
}

// Nop discards everything. Handy in tests.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}

// Asynq adapts a Logger to the asynq.Logger interface.
type Asynq struct {
	L Logger
}

func (a Asynq) Debug(args ...interface{}) { a.L.Debugf("%s", fmt.Sprint(args...)) }
func (a Asynq) Info(args ...interface{})  { a.L.Infof("%s", fmt.Sprint(args...)) }
func (a Asynq) Warn(args ...interface{})  { a.L.Warnf("%s", fmt.Sprint(args...)) }
func (a Asynq) Error(args ...interface{}) { a.L.Errorf("%s", fmt.Sprint(args...)) }

func (a Asynq) Fatal(args ...interface{}) {
	a.L.Errorf("%s", fmt.Sprint(args...))
	os.Exit(1)
}
