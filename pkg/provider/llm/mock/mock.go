// Package mock provides a test double for the llm.Provider interface.
//
// Queue responses with Responses (consumed one per call, last repeats) or set
// a single Response; every Generate call is recorded for assertions.
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe-ai/voxpipe/pkg/provider/llm"
	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned by every Generate call when Responses is empty.
	Response *types.LLMResponse

	// Responses, when non-empty, is consumed one entry per call; the last
	// entry repeats once exhausted.
	Responses []*types.LLMResponse

	// Err, if non-nil, is returned by Generate.
	Err error

	// Calls records every request passed to Generate, in order.
	Calls []llm.Request

	calls int
}

var _ llm.Provider = (*Provider)(nil)

// Generate implements llm.Provider.
func (p *Provider) Generate(_ context.Context, req llm.Request) (*types.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) > 0 {
		i := p.calls
		if i >= len(p.Responses) {
			i = len(p.Responses) - 1
		}
		p.calls++
		return p.Responses[i], nil
	}
	if p.Response != nil {
		return p.Response, nil
	}
	return &types.LLMResponse{Content: "ok"}, nil
}

// CallCount returns the number of Generate invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or the zero value if Generate
// was never called.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}
	}
	return p.Calls[len(p.Calls)-1]
}
