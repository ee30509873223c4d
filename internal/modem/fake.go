package modem

import (
	"context"
	"fmt"
	"sync"
)

// FakeRadio is an in-process Radio for tests and the -simulate agent. It
// records every directive, fails the ones it is told to, and runs
// per-directive hooks that simulate network registration arriving after an
// attach request.
type FakeRadio struct {
	mu       sync.Mutex
	executed []Directive
	failures map[string]int // remaining failures; negative means always
	hooks    map[string]func()
}

// NewFakeRadio returns a FakeRadio on which every directive succeeds.
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{
		failures: make(map[string]int),
		hooks:    make(map[string]func()),
	}
}

// FailAlways makes every directive called name fail.
func (f *FakeRadio) FailAlways(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = -1
}

// FailTimes makes the next n directives called name fail.
func (f *FakeRadio) FailTimes(name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = n
}

// Heal removes any configured failure for name.
func (f *FakeRadio) Heal(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, name)
}

// OnDirective runs fn after each successful directive called name.
func (f *FakeRadio) OnDirective(name string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[name] = fn
}

// Execute implements Radio.
func (f *FakeRadio) Execute(ctx context.Context, d Directive) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.executed = append(f.executed, d)
	fail := false
	if n, ok := f.failures[d.Name]; ok {
		switch {
		case n < 0:
			fail = true
		case n > 0:
			fail = true
			f.failures[d.Name] = n - 1
		}
	}
	hook := f.hooks[d.Name]
	f.mu.Unlock()

	if fail {
		return "ERROR", fmt.Errorf("%s: %w", d.Name, ErrCommandFailed)
	}
	if hook != nil {
		hook()
	}
	return "", nil
}

// Executed returns the names of all directives issued so far, in order.
func (f *FakeRadio) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.executed))
	for i, d := range f.executed {
		names[i] = d.Name
	}
	return names
}

// Commands returns the AT text of all directives issued so far.
func (f *FakeRadio) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	for i, d := range f.executed {
		out[i] = d.Command
	}
	return out
}

// Count returns how many directives called name were issued.
func (f *FakeRadio) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.executed {
		if d.Name == name {
			n++
		}
	}
	return n
}

// ClearHistory forgets issued directives but keeps failures and hooks.
func (f *FakeRadio) ClearHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = nil
}
