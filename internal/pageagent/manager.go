package pageagent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/uiforensics/elementcap/internal/devtools"
	"github.com/uiforensics/elementcap/internal/extract"
)

// DefaultSyncInterval paces the target discovery loop.
const DefaultSyncInterval = 5 * time.Second

// Manager keeps one running agent per matching browser tab. Target IDs are
// the session keys for the whole subsystem, so every component downstream of
// the manager names tabs the same way DevTools does.
type Manager struct {
	dev       *devtools.Client
	broker    Broker
	probes    []extract.LibraryProbe
	urlFilter string
	log       *slog.Logger
	opts      []AgentOption

	mu      sync.Mutex
	running map[string]*runningAgent
	drivers map[string]*CDPDriver

	unsubscribe func()
	wg          sync.WaitGroup
}

type runningAgent struct {
	agent  *Agent
	driver *CDPDriver
	cancel context.CancelFunc
}

// NewManager builds a manager. urlFilter, when non-empty, restricts agents
// to tabs whose URL contains the filter substring.
func NewManager(dev *devtools.Client, broker Broker, probes []extract.LibraryProbe, urlFilter string, log *slog.Logger, opts ...AgentOption) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		dev:       dev,
		broker:    broker,
		probes:    probes,
		urlFilter: urlFilter,
		log:       log.With("component", "pageagent-manager"),
		opts:      opts,
		running:   make(map[string]*runningAgent),
		drivers:   make(map[string]*CDPDriver),
	}
}

// Start registers the binding dispatcher and runs the discovery loop until
// the context ends.
func (m *Manager) Start(ctx context.Context, syncInterval time.Duration) {
	if syncInterval <= 0 {
		syncInterval = DefaultSyncInterval
	}
	m.unsubscribe = m.dev.OnBindingCalled(func(sessionID string, b devtools.BindingPayload) {
		if b.Name != BindingName {
			return
		}
		m.mu.Lock()
		d := m.drivers[sessionID]
		m.mu.Unlock()
		if d != nil {
			d.HandleBinding(b.Payload)
		}
	})

	m.SyncTargets(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SyncTargets(ctx)
			}
		}
	}()
}

// SyncTargets attaches agents for page targets that match the filter and do
// not have one yet. Vanished tabs clean themselves up: their DevTools
// session dies and the agent exits through its context.
func (m *Manager) SyncTargets(ctx context.Context) {
	targets, err := m.dev.ListTargets(ctx)
	if err != nil {
		m.log.Warn("target listing failed", "error", err)
		return
	}
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if m.urlFilter != "" && !strings.Contains(t.URL, m.urlFilter) {
			continue
		}
		if err := m.EnsureAgent(ctx, string(t.TargetID)); err != nil {
			m.log.Warn("agent attach failed", "target", string(t.TargetID), "error", err)
		}
	}
}

// EnsureAgent starts an agent for the target unless one is already running.
func (m *Manager) EnsureAgent(ctx context.Context, targetID string) error {
	m.mu.Lock()
	if _, ok := m.running[targetID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	driver, err := NewCDPDriver(ctx, m.dev, targetID, m.probes, m.log)
	if err != nil {
		return err
	}
	agent := NewAgent(targetID, driver, m.broker, m.probes, m.log, m.opts...)

	agentCtx, cancel := context.WithCancel(ctx)
	ra := &runningAgent{agent: agent, driver: driver, cancel: cancel}

	m.mu.Lock()
	if _, ok := m.running[targetID]; ok {
		// Lost the race to a concurrent EnsureAgent.
		m.mu.Unlock()
		cancel()
		driver.Close()
		return nil
	}
	m.running[targetID] = ra
	m.drivers[driver.SessionID()] = driver
	m.mu.Unlock()

	m.log.Info("agent attached", "target", targetID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		agent.Run(agentCtx)
		m.mu.Lock()
		delete(m.running, targetID)
		delete(m.drivers, driver.SessionID())
		m.mu.Unlock()
		cancel()
		m.log.Info("agent detached", "target", targetID)
	}()
	return nil
}

// AgentCount reports how many agents are currently attached.
func (m *Manager) AgentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Close stops every agent and waits for their goroutines to drain.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.mu.Lock()
	for _, ra := range m.running {
		ra.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
