package cloudsim

import (
	"context"
	"sync"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
)

// PlaybookSim implements [domain.ConfigurationClient] without running
// anything. Every execution reports the scripted outcome, successful by
// default.
type PlaybookSim struct {
	mu    sync.Mutex
	calls []domain.PlaybookRequest

	// Outcome fields applied to every run. Zero values mean success.
	Status   domain.PlaybookStatus
	ExitCode int
	Message  string
}

func (p *PlaybookSim) RunPlaybook(_ context.Context, req domain.PlaybookRequest) (domain.PlaybookResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	status := p.Status
	if status == "" {
		status = domain.PlaybookSuccessful
	}
	return domain.PlaybookResult{
		ExecutionID: req.ExecutionID,
		Status:      status,
		ExitCode:    p.ExitCode,
		Message:     p.Message,
	}, nil
}

// Calls returns the playbook requests run so far.
func (p *PlaybookSim) Calls() []domain.PlaybookRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PlaybookRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
