package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kubenl/kubenl/pkg/allowlist"
	"github.com/kubenl/kubenl/pkg/audit"
	"github.com/kubenl/kubenl/pkg/executor"
	"github.com/kubenl/kubenl/pkg/kube"
	"github.com/kubenl/kubenl/pkg/safety"
	"github.com/kubenl/kubenl/pkg/translate"
)

var (
	// ErrBusy reports a submission while a translation is outstanding.
	ErrBusy = errors.New("a translation is still processing")
	// ErrNoPending reports a confirmation action outside ModalActive.
	ErrNoPending = errors.New("no command awaiting confirmation")
)

// Translator is the translation capability the session needs.
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (translate.Result, error)
}

// Runner executes an approved command.
type Runner interface {
	Run(ctx context.Context, command string) executor.Result
}

// Recorder appends audit entries.
type Recorder interface {
	Record(e audit.Entry) error
}

// Choice is the user's answer to a confirmation modal.
type Choice int

const (
	ChoiceApprove Choice = iota
	ChoiceAllowAlways
	ChoiceDeny
)

// Proposal is a command awaiting or past its gating decision.
type Proposal struct {
	Input      string
	Command    string
	Rationale  string
	Confidence *int
	Risk       safety.RiskLevel
	Spec       safety.ConfirmationSpec
	// LowConfidence surfaces the advisory banner. It never forces a
	// modal on its own.
	LowConfidence bool
	Allowlisted   bool
	Edited        bool

	// Set when the command ran without needing a modal.
	Executed bool
	Result   *executor.Result
}

// RequiresModal reports whether the proposal is blocked on confirmation.
func (p *Proposal) RequiresModal() bool {
	return !p.Executed && p.Spec.Modality != safety.ModalityNone
}

// NeedsClarification reports whether the backend asked a follow-up
// question about this proposal.
func (p *Proposal) NeedsClarification() bool {
	return strings.HasPrefix(p.Rationale, translate.ClarifyMarker)
}

// ClarifyQuestion returns the backend's follow-up question, or "".
func (p *Proposal) ClarifyQuestion() string {
	if !p.NeedsClarification() {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(p.Rationale, translate.ClarifyMarker))
}

// Session owns the mutable pipeline state for one interactive session.
// All methods are called from, or serialized onto, the main loop.
type Session struct {
	ID         string
	env        *kube.EnvironmentContext
	translator Translator
	classifier *safety.Classifier
	allow      *allowlist.Allowlist
	runner     Runner
	recorder   Recorder
	logger     *slog.Logger
	threshold  int

	state    int32 // holds a State, accessed atomically
	pending  *Proposal
	inFlight int32

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New builds a session bound to one resolved environment.
func New(env *kube.EnvironmentContext, tr Translator, cl *safety.Classifier,
	allow *allowlist.Allowlist, runner Runner, recorder Recorder,
	confidenceThreshold int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:         uuid.NewString(),
		env:        env,
		translator: tr,
		classifier: cl,
		allow:      allow,
		runner:     runner,
		recorder:   recorder,
		logger:     logger,
		threshold:  confidenceThreshold,
		state:      int32(StateNormal),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

// Environment returns the active environment context.
func (s *Session) Environment() *kube.EnvironmentContext { return s.env }

// Allowlist exposes the session's allowlist for management commands.
func (s *Session) Allowlist() *allowlist.Allowlist { return s.allow }

// Pending returns the proposal blocking in ModalActive, or nil.
func (s *Session) Pending() *Proposal {
	if s.State() != StateModalActive {
		return nil
	}
	return s.pending
}

// SwitchEnvironment replaces the environment wholesale. Only legal
// between requests.
func (s *Session) SwitchEnvironment(env *kube.EnvironmentContext) error {
	if st := s.State(); st != StateNormal {
		return fmt.Errorf("cannot switch context in state %s", st)
	}
	s.env = env
	return nil
}

func (s *Session) transition(target State) {
	if cur := s.State(); !cur.CanTransitionTo(target) {
		// A bad transition is a programming error; log and force it
		// rather than wedge the session.
		s.logger.Error("invalid state transition", "from", cur.String(), "to", target.String())
	}
	atomic.StoreInt32(&s.state, int32(target))
}

// Submit translates natural-language input and gates the result. Exactly
// one submission may be in flight; a second concurrent call gets ErrBusy.
// On translator failure the session returns to Normal with no audit
// entry, and the caller offers manual entry.
func (s *Session) Submit(ctx context.Context, text string) (*Proposal, error) {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		return nil, ErrBusy
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	if st := s.State(); st != StateNormal {
		return nil, fmt.Errorf("cannot submit in state %s", st)
	}
	s.transition(StateTranslating)

	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer func() {
		cancel()
		s.cancelMu.Lock()
		s.cancel = nil
		s.cancelMu.Unlock()
	}()

	result, err := s.translator.Translate(ctx, translate.Request{Text: text, Env: s.env})
	if err != nil {
		s.transition(StateNormal)
		return nil, err
	}

	confidence := result.Confidence
	p := &Proposal{
		Input:         text,
		Command:       result.Command,
		Rationale:     result.Rationale,
		Confidence:    &confidence,
		LowConfidence: confidence < s.threshold,
	}
	return s.gate(ctx, p)
}

// SubmitDirect gates a command the user typed themselves, bypassing
// translation. Confidence stays null in the audit record.
func (s *Session) SubmitDirect(ctx context.Context, command string) (*Proposal, error) {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		return nil, ErrBusy
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	if st := s.State(); st != StateNormal {
		return nil, fmt.Errorf("cannot submit in state %s", st)
	}
	if command == "" {
		return nil, errors.New("empty command")
	}
	s.transition(StateTranslating)
	return s.gate(ctx, &Proposal{Command: command})
}

// gate classifies the proposal and either executes it immediately or
// parks it behind a modal. Allowlist is consulted before any modal.
func (s *Session) gate(ctx context.Context, p *Proposal) (*Proposal, error) {
	p.Risk = s.classifier.Classify(p.Command, s.env.Class)
	p.Allowlisted = s.allow.IsAllowed(p.Command)
	p.Spec = safety.SpecFor(p.Risk, s.env.Class, p.Command)

	if p.Risk == safety.RiskLow || p.Allowlisted {
		p.Spec = safety.ConfirmationSpec{Modality: safety.ModalityNone}
		res := s.execute(ctx, p)
		p.Executed = true
		p.Result = &res
		s.transition(StateDone)
		s.transition(StateNormal)
		return p, nil
	}

	s.pending = p
	s.transition(StateModalActive)
	return p, nil
}

// CancelTranslation aborts an in-flight translation. No audit entry is
// written; nothing was submitted for execution.
func (s *Session) CancelTranslation() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Confirm resolves the modal. A typed-phrase mismatch is treated exactly
// like Deny: logged as Cancelled, never escalated.
func (s *Session) Confirm(ctx context.Context, choice Choice, typedPhrase string) (*Proposal, error) {
	if s.State() != StateModalActive || s.pending == nil {
		return nil, ErrNoPending
	}
	p := s.pending

	switch choice {
	case ChoiceDeny:
		s.finishCancelled(p)
		return p, nil
	case ChoiceApprove, ChoiceAllowAlways:
		if p.Spec.Modality == safety.ModalityTypedPhrase && !p.Spec.Matches(typedPhrase) {
			s.logger.Info("typed phrase mismatch", "expected_len", len(p.Spec.ExpectedPhrase))
			s.finishCancelled(p)
			return p, nil
		}
		if choice == ChoiceAllowAlways {
			if err := s.allow.Add(p.Command); err != nil {
				s.logger.Warn("allowlist update failed", "error", err)
			}
		}
		res := s.execute(ctx, p)
		p.Executed = true
		p.Result = &res
		s.pending = nil
		s.transition(StateDone)
		s.transition(StateNormal)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown choice %d", choice)
	}
}

// Edit replaces the pending command with a user-revised one and re-gates
// it. The outcome is audited as Edited.
func (s *Session) Edit(ctx context.Context, command string) (*Proposal, error) {
	if s.State() != StateModalActive || s.pending == nil {
		return nil, ErrNoPending
	}
	if command == "" {
		return nil, errors.New("empty command")
	}

	p := s.pending
	p.Command = command
	p.Edited = true
	p.Risk = s.classifier.Classify(command, s.env.Class)
	p.Allowlisted = s.allow.IsAllowed(command)
	p.Spec = safety.SpecFor(p.Risk, s.env.Class, command)

	if p.Risk == safety.RiskLow || p.Allowlisted {
		p.Spec = safety.ConfirmationSpec{Modality: safety.ModalityNone}
		res := s.execute(ctx, p)
		p.Executed = true
		p.Result = &res
		s.pending = nil
		s.transition(StateDone)
		s.transition(StateNormal)
	}
	// Still gated: the modal re-renders with the revised command.
	return p, nil
}

func (s *Session) finishCancelled(p *Proposal) {
	s.record(p, audit.ActionCancelled, nil)
	s.pending = nil
	s.transition(StateDone)
	s.transition(StateNormal)
}

// execute runs the approved command and writes exactly one audit entry.
func (s *Session) execute(ctx context.Context, p *Proposal) executor.Result {
	res := s.runner.Run(ctx, p.Command)

	action := audit.ActionExecuted
	if p.Edited {
		action = audit.ActionEdited
	}
	s.record(p, action, &res)
	return res
}

// record writes the audit entry best-effort. A store failure warns and
// moves on; it never blocks the command path.
func (s *Session) record(p *Proposal, action audit.UserAction, res *executor.Result) {
	entry := audit.Entry{
		UserID:     s.env.User,
		Input:      p.Input,
		Command:    p.Command,
		Confidence: p.Confidence,
		RiskLevel:  p.Risk.String(),
		EnvName:    s.env.Name,
		Cluster:    s.env.Cluster,
		UserAction: action,
		SessionID:  s.ID,
	}
	if s.env.Namespace != "" {
		ns := s.env.Namespace
		entry.Namespace = &ns
	}
	if res != nil {
		code := res.ExitCode
		entry.ExitCode = &code
		entry.Stdout = res.Stdout
		entry.Stderr = res.Stderr
		duration := res.DurationMS
		entry.DurationMS = &duration
	}
	if err := s.recorder.Record(entry); err != nil {
		s.logger.Warn("audit write failed", "error", err)
	}
}
