package toolproviders

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// cdpInvokeRateLimit caps how often this provider issues CDP commands
// against the underlying browser — a misbehaving tool-call loop (see
// internal/kernel/loopguard.go) can otherwise hammer the browser process
// faster than pages actually settle.
const cdpInvokeRateLimit = 10 // invocations/sec

// CDPProvider drives a real browser tab through the Chrome DevTools
// Protocol via go-rod/rod — the kernel's cdp mode and the browser.* builtin
// capabilities' fallback target (internal/tools/capability_policy.go seeds
// FallbackMode: ModeCDP for all three browser.* capabilities).
type CDPProvider struct {
	id string

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	limiter *rate.Limiter
}

// NewCDPProvider connects to a browser reachable at the given DevTools
// control URL ("" lets rod launch and manage its own instance).
func NewCDPProvider(controlURL string) (*CDPProvider, error) {
	l := rod.New()
	if controlURL != "" {
		l = l.ControlURL(controlURL)
	}
	browser := l
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("toolproviders: connect browser: %w", err)
	}
	return &CDPProvider{
		id:      "cdp.rod",
		browser: browser,
		limiter: rate.NewLimiter(rate.Limit(cdpInvokeRateLimit), cdpInvokeRateLimit),
	}, nil
}

func (p *CDPProvider) ID() string           { return p.id }
func (p *CDPProvider) Mode() kerntypes.Mode { return kerntypes.ModeCDP }
func (p *CDPProvider) Priority() int        { return 0 }

func (p *CDPProvider) CanHandle(ctx context.Context, input kerntypes.ExecuteStepInput) bool {
	return true
}

func (p *CDPProvider) currentPage() (*rod.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page != nil {
		return p.page, nil
	}
	page, err := p.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	p.page = page
	return page, nil
}

// Invoke dispatches input.Action against the current page. Supported
// actions mirror the verify gate's critical-action vocabulary: navigate,
// click, type/fill, select, and a read-only snapshot.
func (p *CDPProvider) Invoke(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &kerntypes.StepError{Message: fmt.Sprintf("cdp provider: rate limit wait: %v", err), Code: "ECDP_THROTTLED", Retryable: true}
	}

	page, err := p.currentPage()
	if err != nil {
		return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_CONNECT", Retryable: true}
	}
	page = page.Context(ctx)

	switch input.Action {
	case "navigate":
		url, _ := input.Args["url"].(string)
		if url == "" {
			return nil, &kerntypes.StepError{Message: "navigate requires args.url", Code: "EINVAL"}
		}
		if err := page.Navigate(url); err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_NAVIGATE"}
		}
		if err := page.WaitLoad(); err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_NAVIGATE"}
		}
		return map[string]any{"url": url}, nil

	case "click":
		selector, _ := input.Args["selector"].(string)
		el, err := page.Element(selector)
		if err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_ELEMENT"}
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_CLICK"}
		}
		return map[string]any{"selector": selector}, nil

	case "type", "fill":
		selector, _ := input.Args["selector"].(string)
		text, _ := input.Args["text"].(string)
		el, err := page.Element(selector)
		if err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_ELEMENT"}
		}
		if err := el.Input(text); err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_INPUT"}
		}
		return map[string]any{"selector": selector}, nil

	case "select":
		selector, _ := input.Args["selector"].(string)
		option, _ := input.Args["option"].(string)
		el, err := page.Element(selector)
		if err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_ELEMENT"}
		}
		if err := el.Select([]string{option}, true, rod.SelectorTypeText); err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_SELECT"}
		}
		return map[string]any{"selector": selector, "option": option}, nil

	case "snapshot":
		html, err := page.HTML()
		if err != nil {
			return nil, &kerntypes.StepError{Message: err.Error(), Code: "ECDP_SNAPSHOT"}
		}
		return map[string]any{"html": html}, nil

	default:
		return nil, &kerntypes.StepError{Message: fmt.Sprintf("cdp provider: unsupported action %q", input.Action), Code: "EUNSUPPORTED"}
	}
}

// Close releases the underlying browser connection.
func (p *CDPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	return p.browser.Close()
}

var _ tools.StepToolProvider = (*CDPProvider)(nil)
