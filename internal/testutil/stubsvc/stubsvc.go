// Package stubsvc provides a scripted wire.Invoker for component tests.
package stubsvc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"

	"github.com/openrecord/hvlink/wire"
)

// Step is one scripted reply. An empty Info with a nil Err reproduces the
// protocol's "no data" signal.
type Step struct {
	Info string
	Err  error
}

// Invoker replays Steps in order, falling back to Handler once the script is
// exhausted. It records every call it sees.
type Invoker struct {
	Handler func(call wire.Call) (string, error)

	mu    sync.Mutex
	steps []Step
	calls []wire.Call
}

func New(steps ...Step) *Invoker {
	return &Invoker{steps: steps}
}

func (s *Invoker) Invoke(_ context.Context, call wire.Call) (*xmlquery.Node, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	var step Step
	scripted := false
	if len(s.steps) > 0 {
		step = s.steps[0]
		s.steps = s.steps[1:]
		scripted = true
	}
	handler := s.Handler
	s.mu.Unlock()

	if !scripted {
		if handler == nil {
			return nil, fmt.Errorf("stubsvc: no scripted response for %s", call.Method)
		}
		info, err := handler(call)
		if err != nil {
			return nil, err
		}
		return parseInfo(info)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return parseInfo(step.Info)
}

func (s *Invoker) Calls() []wire.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Invoker) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func parseInfo(info string) (*xmlquery.Node, error) {
	if info == "" {
		return nil, nil
	}
	doc, err := xmlquery.Parse(strings.NewReader(info))
	if err != nil {
		return nil, fmt.Errorf("stubsvc: bad scripted info: %w", err)
	}
	return xmlquery.FindOne(doc, "/*"), nil
}
