package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/prompt"
	"companion-agent/utils"
)

// State is the scheduler's lifecycle state.
type State string

const (
	StateDisabled State = "disabled"
	StateIdle     State = "idle"
	StateChecking State = "checking"
)

// ActionOutsideWindow is logged when a tick falls outside proactive.activeCron.
const ActionOutsideWindow = "OUTSIDE_WINDOW"

const (
	notificationTitle   = "有新消息"
	notificationPreview = 120
)

// Status is a snapshot of the scheduler.
type Status struct {
	Enabled         bool       `json:"enabled"`
	State           State      `json:"state"`
	NextFireAt      *time.Time `json:"nextFireAt,omitempty"`
	IntervalSeconds int64      `json:"intervalSeconds"`
	ActiveCron      string     `json:"activeCron,omitempty"`
}

// CheckResult describes one proactive check.
type CheckResult struct {
	ConversationID string        `json:"conversationId"`
	Action         prompt.Action `json:"action"`
	Message        string        `json:"message"`
	Appended       *db.Message   `json:"appended,omitempty"`
	Notified       bool          `json:"notified"`
}

// Scheduler runs the proactive check on a single one-shot timer that is
// rearmed after every cycle. Start and Stop always tear the timer down.
type Scheduler struct {
	svc  *Service
	cron *gronx.Gronx

	mu         sync.Mutex
	enabled    bool
	state      State
	interval   time.Duration
	activeCron string
	nextFireAt time.Time
	timer      Timer
	// gen identifies the armed timer; epoch changes on every Start/Stop.
	gen   uint64
	epoch uint64
}

func newScheduler(svc *Service) *Scheduler {
	return &Scheduler{
		svc:   svc,
		cron:  gronx.New(),
		state: StateDisabled,
	}
}

// Interval converts a configured interval to a duration of at least one minute.
func Interval(minutes int) time.Duration {
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// Start rebuilds the timer from proactive settings.
func (sc *Scheduler) Start(settings db.ProactiveSettings) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.teardown()
	if !settings.Enabled {
		sc.svc.logger.Info("Proactive scheduler disabled")
		return
	}
	if settings.ActiveCron != "" && !sc.cron.IsValid(settings.ActiveCron) {
		sc.svc.logger.Warn("Ignoring invalid proactive cron window %q", settings.ActiveCron)
		settings.ActiveCron = ""
	}

	sc.enabled = true
	sc.interval = Interval(settings.IntervalMinutes)
	sc.activeCron = settings.ActiveCron
	sc.arm()
	sc.svc.logger.Info("Proactive scheduler started (interval=%s, next=%s)",
		sc.interval, sc.nextFireAt.Format(time.RFC3339))
}

// Stop cancels the timer and disables the scheduler.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.teardown()
}

// Reset restarts the countdown from now. It is a no-op while disabled.
func (sc *Scheduler) Reset() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.enabled {
		return
	}
	if sc.timer != nil {
		sc.timer.Stop()
	}
	sc.arm()
	sc.svc.logger.Debug("Proactive countdown reset (next=%s)", sc.nextFireAt.Format(time.RFC3339))
}

// Status returns the current state and next fire time.
func (sc *Scheduler) Status() Status {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st := Status{
		Enabled:         sc.enabled,
		State:           sc.state,
		IntervalSeconds: int64(sc.interval / time.Second),
		ActiveCron:      sc.activeCron,
	}
	if sc.enabled && !sc.nextFireAt.IsZero() {
		next := sc.nextFireAt
		st.NextFireAt = &next
	}
	return st
}

// teardown must be called with mu held.
func (sc *Scheduler) teardown() {
	if sc.timer != nil {
		sc.timer.Stop()
		sc.timer = nil
	}
	sc.epoch++
	sc.gen++
	sc.enabled = false
	sc.state = StateDisabled
	sc.nextFireAt = time.Time{}
	sc.interval = 0
	sc.activeCron = ""
}

// arm schedules the next tick at now+interval. mu must be held.
func (sc *Scheduler) arm() {
	sc.gen++
	gen := sc.gen
	if sc.state != StateChecking {
		sc.state = StateIdle
	}
	sc.nextFireAt = sc.svc.clock.Now().Add(sc.interval)
	sc.timer = sc.svc.clock.AfterFunc(sc.interval, func() { sc.fire(gen) })
}

func (sc *Scheduler) fire(gen uint64) {
	defer utils.RecoverFromPanic(sc.svc.logger, "proactive tick")

	settings, settingsErr := sc.svc.store.ReadSettings()

	sc.mu.Lock()
	if gen != sc.gen || !sc.enabled {
		sc.mu.Unlock()
		return
	}
	if settingsErr == nil && !settings.Proactive.Enabled {
		sc.teardown()
		sc.mu.Unlock()
		sc.svc.logger.Info("Proactive disabled since the last tick; scheduler stopped")
		return
	}
	epoch := sc.epoch
	activeCron := sc.activeCron
	sc.state = StateChecking
	sc.timer = nil
	sc.mu.Unlock()

	err := settingsErr
	if err == nil {
		err = utils.SafeCall(sc.svc.logger, "proactive check", func() error {
			return sc.tick(activeCron)
		})
	}
	if err != nil {
		sc.svc.logger.Error("Proactive check failed: %v", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if epoch != sc.epoch || !sc.enabled {
		return
	}
	sc.state = StateIdle
	// A Reset during the check has already armed a newer timer.
	if sc.timer == nil {
		sc.arm()
	}
}

func (sc *Scheduler) tick(activeCron string) error {
	now := sc.svc.clock.Now()
	if activeCron != "" {
		due, err := sc.cron.IsDue(activeCron, now)
		if err != nil {
			return fmt.Errorf("failed to evaluate cron window: %w", err)
		}
		if !due {
			sc.svc.logger.Debug("Proactive tick at %s is outside %q", now.Format(time.RFC3339), activeCron)
			sc.svc.appendLog(db.LogEntry{
				Type:    db.LogTypeProactive,
				Action:  ActionOutsideWindow,
				Message: activeCron,
			})
			return nil
		}
	}
	_, err := sc.svc.runProactiveCheck(context.Background())
	return err
}

// ProactiveOnce runs one check immediately regardless of the enabled flag.
// The timer is left untouched.
func (s *Service) ProactiveOnce(ctx context.Context) (*CheckResult, error) {
	return s.runProactiveCheck(ctx)
}

// runProactiveCheck resolves the target conversation, asks the provider for a
// SEND/SKIP decision and applies it. Every outcome is logged.
func (s *Service) runProactiveCheck(ctx context.Context) (*CheckResult, error) {
	settings, err := s.store.ReadSettings()
	if err != nil {
		return nil, err
	}
	conv, err := s.proactiveTarget(settings)
	if err != nil {
		s.appendLog(db.LogEntry{Type: db.LogTypeProactive, Action: ActionError, Message: err.Error()})
		return nil, err
	}
	memory, err := s.store.ReadMemory()
	if err != nil {
		return nil, err
	}

	built := s.builder.Build(prompt.PurposeProactive, prompt.Input{
		Conversation: conv,
		Settings:     settings,
		Memory:       memory.Items,
		Now:          s.clock.Now(),
	})
	reply, err := s.generate(ctx, settings.API, built.Request)
	if err != nil {
		s.appendLog(db.LogEntry{
			Type:           db.LogTypeProactive,
			ConversationID: conv.ID,
			Action:         ActionError,
			Message:        err.Error(),
		})
		return nil, fmt.Errorf("failed to run proactive check: %w", err)
	}

	decision := prompt.ParseDecision(reply)
	s.appendLog(db.LogEntry{
		Type:           db.LogTypeProactive,
		ConversationID: conv.ID,
		Action:         string(decision.Action),
		Message:        decision.Message,
		Raw:            decision.Raw,
	})
	result := &CheckResult{ConversationID: conv.ID, Action: decision.Action, Message: decision.Message}
	if decision.Action != prompt.ActionSend || decision.Message == "" {
		return result, nil
	}

	// The target is not re-resolved: a conversation deleted mid-check drops the message.
	msg, err := s.store.AppendMessage(conv.ID, s.store.NewMessage(db.RoleAssistant, decision.Message))
	if errors.Is(err, db.ErrConversationNotFound) {
		s.logger.Warn("Proactive target %s was deleted during the check, message dropped", conv.ID)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to save proactive message: %w", err)
	}
	result.Appended = msg

	if !s.Focused() && settings.Notifications.OnProactive {
		if err := s.notifier.Show(notificationTitle, preview(decision.Message, notificationPreview)); err != nil {
			s.logger.Warn("Proactive notification failed: %v", err)
		} else {
			result.Notified = true
		}
	}
	s.publishChange(events.ScopeConversations, conv.ID, "proactive_message")
	return result, nil
}

// proactiveTarget returns the pinned conversation, or creates and pins a new
// one when nothing valid is pinned.
func (s *Service) proactiveTarget(settings *db.Settings) (*db.Conversation, error) {
	if id := settings.UI.ProactiveConversationID; id != "" {
		conv, err := s.store.GetConversation(id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, db.ErrConversationNotFound) {
			return nil, err
		}
		s.logger.Info("Pinned proactive conversation %s no longer exists", id)
	}

	conv, err := s.store.CreateConversation("")
	if err != nil {
		return nil, err
	}
	if _, err := s.store.PinProactive(conv.ID); err != nil {
		return nil, fmt.Errorf("failed to pin proactive conversation: %w", err)
	}
	s.logger.Info("Created proactive conversation %s", conv.ID)
	s.publishChange(events.ScopeConversations, conv.ID, "created")
	if settings.Proactive.GreetOnCreate {
		s.greetAsync(conv.ID)
	}
	return conv, nil
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
