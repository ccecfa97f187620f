// Package screenshot is the host platform's capture primitive: one
// full-viewport, physical-resolution bitmap per request, addressed by the
// session's underlying browser target.
package screenshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/uiforensics/elementcap/internal/protocol"
)

type tabContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Service captures screenshots over a dedicated chromedp connection, kept
// separate from the agent's event channel so a slow capture never stalls
// selection traffic.
type Service struct {
	cdpURL      string
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[string]*tabContext
}

// NewService creates a Service for the given DevTools HTTP URL.
func NewService(cdpURL string) *Service {
	return &Service{cdpURL: cdpURL, tabs: make(map[string]*tabContext)}
}

// Connect establishes the remote allocator and verifies the browser is
// reachable.
func (s *Service) Connect(ctx context.Context) error {
	s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), s.cdpURL)

	probeCtx, probeCancel := chromedp.NewContext(s.allocCtx)
	defer probeCancel()
	if err := chromedp.Run(probeCtx); err != nil {
		return protocol.NewError(protocol.CodeCDPUnavailable, "connect screenshot service", err)
	}
	slog.Info("screenshot service connected", "cdp_url", s.cdpURL)
	_ = ctx
	return nil
}

// Close drops all tab contexts and the allocator.
func (s *Service) Close() {
	s.mu.Lock()
	for key, tab := range s.tabs {
		tab.cancel()
		delete(s.tabs, key)
	}
	s.mu.Unlock()
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// Forget drops the cached context for a target, forcing a fresh attach on
// the next capture. Called on session teardown.
func (s *Service) Forget(sessionKey string) {
	s.mu.Lock()
	if tab, ok := s.tabs[sessionKey]; ok {
		tab.cancel()
		delete(s.tabs, sessionKey)
	}
	s.mu.Unlock()
}

func (s *Service) tabFor(sessionKey string) (*tabContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tab, ok := s.tabs[sessionKey]; ok {
		return tab, nil
	}
	if s.allocCtx == nil {
		return nil, fmt.Errorf("screenshot service not connected")
	}
	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx, chromedp.WithTargetID(target.ID(sessionKey)))
	tab := &tabContext{ctx: tabCtx, cancel: tabCancel}
	s.tabs[sessionKey] = tab
	return tab, nil
}

// Capture implements the coordinator's Capturer: one raw viewport bitmap
// plus the device pixel ratio needed to crop it, and the page's mutation
// counter for best-effort staleness detection.
func (s *Service) Capture(ctx context.Context, sessionKey string) (protocol.CaptureImage, error) {
	tab, err := s.tabFor(sessionKey)
	if err != nil {
		return protocol.CaptureImage{}, protocol.NewError(protocol.CodeCaptureFailed, "attach capture target", err)
	}

	var env struct {
		DPR       float64 `json:"dpr"`
		Mutations int     `json:"mutations"`
	}
	var shot []byte

	runCtx, cancel := context.WithCancel(tab.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		cancel()
	}()

	err = chromedp.Run(runCtx,
		chromedp.Evaluate(`({dpr: window.devicePixelRatio || 1, mutations: window.__elementcapMutations | 0})`, &env),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).WithFromSurface(true).Do(ctx)
			return err
		}),
	)
	if err != nil {
		// A dead tab context is not recoverable; drop it so the next
		// attempt re-attaches.
		s.Forget(sessionKey)
		return protocol.CaptureImage{}, protocol.NewError(protocol.CodeCaptureFailed, "capture viewport", err)
	}

	if env.DPR <= 0 {
		env.DPR = 1
	}
	return protocol.CaptureImage{
		Data:      shot,
		Format:    "png",
		DPR:       env.DPR,
		Mutations: env.Mutations,
	}, nil
}
