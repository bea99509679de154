package helpers

import (
	"context"
	"sync"
)

/**
ProcessRunner that records what it was asked to run and hands back whatever OnRun returns.
if OnRun is nil every process "succeeds" with no output
*/
type ProcessRunnerMock struct {
	OnRun func(spec ProcessSpec) (*ProcessResult, error)
	Calls []ProcessSpec
	mutex sync.Mutex
}

func (m *ProcessRunnerMock) Run(ctx context.Context, spec ProcessSpec) (*ProcessResult, error) {
	m.mutex.Lock()
	m.Calls = append(m.Calls, spec)
	m.mutex.Unlock()

	if m.OnRun == nil {
		return &ProcessResult{}, nil
	}
	return m.OnRun(spec)
}

func (m *ProcessRunnerMock) CallsFor(command string) []ProcessSpec {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	rtn := make([]ProcessSpec, 0)
	for _, c := range m.Calls {
		if len(c.Argv) > 0 && c.Argv[0] == command {
			rtn = append(rtn, c)
		}
	}
	return rtn
}
