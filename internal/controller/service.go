package controller

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/uiforensics/elementcap/internal/coordinator"
	"github.com/uiforensics/elementcap/internal/inspector"
	"github.com/uiforensics/elementcap/internal/notify"
	"github.com/uiforensics/elementcap/internal/pageagent"
	"github.com/uiforensics/elementcap/internal/protocol"
	"github.com/uiforensics/elementcap/internal/record"
)

// Service wraps the capture pipeline behind a single surface the API can
// call: inspector panel commands, record persistence, and session state.
type Service struct {
	coord          *coordinator.Coordinator
	panel          *inspector.Panel
	store          *record.Store
	manager        *pageagent.Manager
	notifyEndpoint string
	cdpConnected   func() bool
	log            *slog.Logger
}

func NewService(coord *coordinator.Coordinator, panel *inspector.Panel, store *record.Store, manager *pageagent.Manager, opts ...Option) *Service {
	s := &Service{coord: coord, panel: panel, store: store, manager: manager, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Service)

// WithNotifyEndpoint enables a webhook POST after every saved capture.
func WithNotifyEndpoint(endpoint string) Option {
	return func(s *Service) { s.notifyEndpoint = endpoint }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithConnectivityProbe lets health checks report whether the debugger
// connection is still up.
func WithConnectivityProbe(fn func() bool) Option {
	return func(s *Service) { s.cdpConnected = fn }
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &protocol.CodedError{Code: protocol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// SessionView merges broker-side registration with panel-side selection
// state for one session key.
type SessionView struct {
	Key          string           `json:"key"`
	HasInspector bool             `json:"has_inspector"`
	HasAgent     bool             `json:"has_agent"`
	Selecting    bool             `json:"selecting"`
	HasSelection bool             `json:"has_selection"`
	LastNotice   *protocol.Notice `json:"last_notice,omitempty"`
}

func (s *Service) ListSessions(ctx context.Context) ([]SessionView, error) {
	panelStates := s.panel.States()
	byKey := make(map[string]inspector.SessionState, len(panelStates))
	for _, st := range panelStates {
		byKey[st.SessionKey] = st
	}

	views := []SessionView{}
	seen := make(map[string]bool)
	for _, info := range s.coord.Sessions() {
		v := SessionView{Key: info.Key, HasInspector: info.HasInspector, HasAgent: info.HasAgent}
		if st, ok := byKey[info.Key]; ok {
			v.Selecting = st.Selecting
			v.HasSelection = st.HasSelection
			v.LastNotice = st.LastNotice
		}
		views = append(views, v)
		seen[info.Key] = true
	}
	// Panel sessions whose channel the broker has already dropped still
	// belong in the listing until the panel closes them.
	for _, st := range panelStates {
		if seen[st.SessionKey] {
			continue
		}
		views = append(views, SessionView{
			Key:          st.SessionKey,
			HasInspector: true,
			Selecting:    st.Selecting,
			HasSelection: st.HasSelection,
			LastNotice:   st.LastNotice,
		})
	}
	return views, nil
}

func (s *Service) OpenSession(ctx context.Context, key string) error {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return err
	}
	s.panel.Open(strings.TrimSpace(key))
	return nil
}

func (s *Service) CloseSession(ctx context.Context, key string) error {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return err
	}
	return s.panel.Close(strings.TrimSpace(key))
}

func (s *Service) StartSelection(ctx context.Context, key string) error {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return err
	}
	return s.panel.StartSelection(strings.TrimSpace(key))
}

func (s *Service) StopSelection(ctx context.Context, key string) error {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return err
	}
	return s.panel.StopSelection(strings.TrimSpace(key))
}

func (s *Service) SetVisibility(ctx context.Context, key string, shown bool) error {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return err
	}
	return s.panel.SetVisibility(strings.TrimSpace(key), shown)
}

func (s *Service) LastSelection(ctx context.Context, key string) (protocol.SelectionPayload, error) {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return protocol.SelectionPayload{}, err
	}
	sel, err := s.panel.LastSelection(strings.TrimSpace(key))
	if err != nil {
		return protocol.SelectionPayload{}, err
	}
	return *sel, nil
}

// Capture runs the capture-and-crop pipeline for the session's confirmed
// selection and persists the resulting record before returning it.
func (s *Service) Capture(ctx context.Context, key string) (record.CaptureRecord, error) {
	if err := s.requireNonEmpty(key, "session_key"); err != nil {
		return record.CaptureRecord{}, err
	}
	rec, png, err := s.panel.Capture(ctx, strings.TrimSpace(key))
	if err != nil {
		return record.CaptureRecord{}, err
	}
	if err := s.store.Save(rec, png); err != nil {
		return record.CaptureRecord{}, err
	}
	if s.notifyEndpoint != "" {
		if err := notify.CaptureSaved(ctx, nil, s.notifyEndpoint, rec.Label, rec.ID); err != nil {
			s.log.Warn("capture notification failed", "endpoint", s.notifyEndpoint, "error", err)
		}
	}
	return rec, nil
}

func (s *Service) ListRecords(ctx context.Context) ([]record.CaptureRecord, error) {
	return s.store.GetAll()
}

func (s *Service) GetRecord(ctx context.Context, id string) (record.CaptureRecord, error) {
	if err := s.validRecordID(id); err != nil {
		return record.CaptureRecord{}, err
	}
	return s.store.Get(id)
}

func (s *Service) ReadRecordImage(ctx context.Context, id string) ([]byte, error) {
	if err := s.validRecordID(id); err != nil {
		return nil, err
	}
	return s.store.ReadImage(id)
}

func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if err := s.validRecordID(id); err != nil {
		return err
	}
	return s.store.Delete(id)
}

func (s *Service) validRecordID(id string) error {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return &protocol.CodedError{Code: protocol.CodeValidation, Message: "record id must be a UUID"}
	}
	return nil
}

// Health reports debugger connectivity plus counters; zero agents with a
// reachable API still answers ok.
type Health struct {
	Status       string `json:"status"`
	CDPConnected bool   `json:"cdp_connected"`
	Sessions     int    `json:"sessions"`
	Agents       int    `json:"agents"`
	Records      int    `json:"records"`
}

func (s *Service) HealthCheck(ctx context.Context) (Health, error) {
	h := Health{Status: "ok", CDPConnected: true, Sessions: len(s.coord.Sessions())}
	if s.cdpConnected != nil && !s.cdpConnected() {
		h.Status = "degraded"
		h.CDPConnected = false
	}
	if s.manager != nil {
		h.Agents = s.manager.AgentCount()
	}
	n, err := s.store.Count()
	if err != nil {
		return Health{}, err
	}
	h.Records = n
	return h, nil
}
