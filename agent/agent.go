// Package agent is the companion core: the chat orchestrator, the proactive
// scheduler and the operations the local API exposes on top of the store.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/llm"
	"companion-agent/notify"
	"companion-agent/prompt"
	"companion-agent/utils"
)

// ProviderFactory builds a provider for the current API settings.
type ProviderFactory func(config llm.Config) (llm.Provider, error)

// Options configures a Service. Store is required; everything else has a default.
type Options struct {
	Store       *db.Store
	Logger      *utils.Logger
	Bus         *events.Bus
	Notifier    notify.Notifier
	Clock       Clock
	NewProvider ProviderFactory
	TimeoutSecs int
}

// Service owns the orchestrator and the scheduler for one store.
type Service struct {
	store       *db.Store
	builder     *prompt.Builder
	newProvider ProviderFactory
	bus         *events.Bus
	notifier    notify.Notifier
	clock       Clock
	logger      *utils.Logger
	timeoutSecs int

	focused   atomic.Bool
	scheduler *Scheduler

	background sync.WaitGroup
}

// New creates a service. The scheduler is created stopped; call
// Scheduler().Start to arm it.
func New(opts Options) *Service {
	s := &Service{
		store:       opts.Store,
		newProvider: opts.NewProvider,
		bus:         opts.Bus,
		notifier:    opts.Notifier,
		clock:       opts.Clock,
		logger:      opts.Logger,
		timeoutSecs: opts.TimeoutSecs,
	}
	if s.newProvider == nil {
		s.newProvider = llm.NewProvider
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.logger == nil {
		s.logger = utils.NopLogger()
	}
	s.builder = prompt.NewBuilder(s.store.ReadAttachment)
	s.scheduler = newScheduler(s)
	return s
}

// Store returns the underlying document store.
func (s *Service) Store() *db.Store { return s.store }

// Bus returns the event bus, which may be nil.
func (s *Service) Bus() *events.Bus { return s.bus }

// Scheduler returns the proactive scheduler.
func (s *Service) Scheduler() *Scheduler { return s.scheduler }

// SetFocused records whether the UI window has focus.
func (s *Service) SetFocused(focused bool) {
	s.focused.Store(focused)
}

// Focused reports the last focus state set by the UI.
func (s *Service) Focused() bool {
	return s.focused.Load()
}

// Close stops the scheduler and waits for background greetings to finish.
func (s *Service) Close() {
	s.scheduler.Stop()
	s.background.Wait()
}

// Wait blocks until background work started by the service has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// provider resolves the adapter for the given API settings.
func (s *Service) provider(api db.APISettings) (llm.Provider, error) {
	return s.newProvider(llm.Config{
		APIKey:      api.APIKey,
		BaseURL:     api.BaseURL,
		Model:       api.Model,
		TimeoutSecs: s.timeoutSecs,
	})
}

// generate resolves the provider and runs one request.
func (s *Service) generate(ctx context.Context, api db.APISettings, req *llm.Request) (string, error) {
	provider, err := s.provider(api)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Calling %s provider (model=%s, turns=%d)", provider.Name(), api.Model, len(req.Turns))
	s.traceRequest(provider.Name(), req)
	reply, err := provider.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	s.logger.Trace("%s reply: %q", provider.Name(), reply)
	return reply, nil
}

// traceRequest writes the full prompt text at trace level. Attachment bytes
// are summarized, not dumped.
func (s *Service) traceRequest(name string, req *llm.Request) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "system=%q", req.System)
	for i, turn := range req.Turns {
		fmt.Fprintf(&sb, " turn[%d]=%s:%q", i, turn.Role, turn.Text)
		for _, att := range turn.Attachments {
			fmt.Fprintf(&sb, " +%s(%d bytes)", att.MimeType, len(att.Data))
		}
	}
	fmt.Fprintf(&sb, " instruction=%q max_tokens=%d temperature=%g", req.Instruction, req.MaxTokens, req.Temperature)
	s.logger.Trace("%s request: %s", name, sb.String())
}

// appendLog records a diagnostic entry and streams it to subscribers.
// Failures are logged and otherwise ignored.
func (s *Service) appendLog(entry db.LogEntry) {
	stored, err := s.store.AppendLog(entry)
	if err != nil {
		s.logger.Error("Failed to append %s log: %v", entry.Type, err)
		return
	}
	s.bus.Emit(events.KindLog, map[string]any{"entry": stored})
}

func (s *Service) publishChange(scope, conversationID, reason string) {
	data := map[string]any{"scope": scope, "reason": reason}
	if conversationID != "" {
		data["conversation_id"] = conversationID
	}
	s.bus.Emit(events.KindDataChanged, data)
}

// goBackground runs fn on its own goroutine, tracked by Wait.
func (s *Service) goBackground(name string, fn func()) {
	s.background.Add(1)
	utils.SafeGo(s.logger, name, func() {
		defer s.background.Done()
		fn()
	})
}

// mergeAPI overlays a raw api patch on the stored API settings without persisting.
func mergeAPI(base db.APISettings, patch json.RawMessage) (db.APISettings, error) {
	if len(patch) == 0 || string(patch) == "null" {
		return base, nil
	}
	if err := json.Unmarshal(patch, &base); err != nil {
		return base, fmt.Errorf("failed to decode api settings: %w", err)
	}
	return base, nil
}
