package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kubenl/kubenl/pkg/allowlist"
	"github.com/kubenl/kubenl/pkg/audit"
	"github.com/kubenl/kubenl/pkg/config"
	"github.com/kubenl/kubenl/pkg/executor"
	"github.com/kubenl/kubenl/pkg/kube"
	"github.com/kubenl/kubenl/pkg/safety"
	"github.com/kubenl/kubenl/pkg/translate"
)

type fakeTranslator struct {
	result translate.Result
	err    error
	calls  int
}

func (f *fakeTranslator) Translate(_ context.Context, _ translate.Request) (translate.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeRunner struct {
	commands []string
	exitCode int
}

func (f *fakeRunner) Run(_ context.Context, command string) executor.Result {
	f.commands = append(f.commands, command)
	return executor.Result{Command: command, ExitCode: f.exitCode, Stdout: "ok", DurationMS: 5}
}

type fakeRecorder struct {
	entries []audit.Entry
	err     error
}

func (f *fakeRecorder) Record(e audit.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	session    *Session
	translator *fakeTranslator
	runner     *fakeRunner
	recorder   *fakeRecorder
	allow      *allowlist.Allowlist
}

func newFixture(t *testing.T, class kube.EnvironmentClass, result translate.Result, trErr error) *fixture {
	t.Helper()
	allow, err := allowlist.Load(filepath.Join(t.TempDir(), "allowlist"))
	if err != nil {
		t.Fatal(err)
	}
	env := &kube.EnvironmentContext{
		Name:      "test-ctx",
		Cluster:   "test",
		Namespace: "web",
		User:      "alice",
		Class:     class,
	}
	tr := &fakeTranslator{result: result, err: trErr}
	run := &fakeRunner{}
	rec := &fakeRecorder{}
	s := New(env, tr, safety.NewClassifier(config.RiskConfig{}), allow, run, rec,
		config.DefaultConfidenceThreshold, nil)
	return &fixture{session: s, translator: tr, runner: run, recorder: rec, allow: allow}
}

// Low risk with high confidence executes immediately: no modal, one
// Executed entry.
func TestSubmitLowRiskExecutesImmediately(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl get pods", Confidence: 95, Rationale: "listing",
	}, nil)

	p, err := f.session.Submit(context.Background(), "show pods")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if p.RequiresModal() {
		t.Error("RequiresModal() = true for low risk")
	}
	if !p.Executed {
		t.Fatal("Executed = false")
	}
	if p.LowConfidence {
		t.Error("LowConfidence = true at confidence 95")
	}
	if len(f.runner.commands) != 1 {
		t.Fatalf("runner ran %d commands, want 1", len(f.runner.commands))
	}
	if len(f.recorder.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(f.recorder.entries))
	}
	e := f.recorder.entries[0]
	if e.UserAction != audit.ActionExecuted {
		t.Errorf("UserAction = %q, want executed", e.UserAction)
	}
	if e.Confidence == nil || *e.Confidence != 95 {
		t.Errorf("Confidence = %v, want 95", e.Confidence)
	}
	if e.SessionID != f.session.ID {
		t.Errorf("SessionID = %q, want session's ID", e.SessionID)
	}
	if f.session.State() != StateNormal {
		t.Errorf("state = %s, want normal", f.session.State())
	}
}

// Medium risk opens a YesNo modal; Deny records Cancelled with null
// exit code.
func TestSubmitMediumRiskDeny(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl scale deploy api --replicas=5", Confidence: 88,
	}, nil)

	p, err := f.session.Submit(context.Background(), "scale api to 5")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !p.RequiresModal() {
		t.Fatal("RequiresModal() = false for medium risk")
	}
	if p.Spec.Modality != safety.ModalityYesNo {
		t.Errorf("Modality = %v, want yes/no", p.Spec.Modality)
	}
	if f.session.State() != StateModalActive {
		t.Fatalf("state = %s, want modal", f.session.State())
	}

	if _, err := f.session.Confirm(context.Background(), ChoiceDeny, ""); err != nil {
		t.Fatalf("Confirm(deny) error = %v", err)
	}
	if len(f.runner.commands) != 0 {
		t.Error("denied command was executed")
	}
	if len(f.recorder.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(f.recorder.entries))
	}
	e := f.recorder.entries[0]
	if e.UserAction != audit.ActionCancelled {
		t.Errorf("UserAction = %q, want cancelled", e.UserAction)
	}
	if e.ExitCode != nil {
		t.Error("cancelled entry has non-null exit code")
	}
	if f.session.State() != StateNormal {
		t.Errorf("state = %s, want normal", f.session.State())
	}
}

// High risk in production demands the typed phrase; a near-miss cancels,
// the exact phrase executes.
func TestProductionTypedPhrase(t *testing.T) {
	result := translate.Result{
		Command: "kubectl delete deployment nginx", Confidence: 90,
	}

	t.Run("mismatch cancels", func(t *testing.T) {
		f := newFixture(t, kube.EnvProduction, result, nil)
		p, err := f.session.Submit(context.Background(), "delete deployment nginx")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if p.Spec.Modality != safety.ModalityTypedPhrase {
			t.Fatalf("Modality = %v, want typed phrase", p.Spec.Modality)
		}
		if p.Spec.ExpectedPhrase != "nginx" {
			t.Fatalf("ExpectedPhrase = %q, want nginx", p.Spec.ExpectedPhrase)
		}

		if _, err := f.session.Confirm(context.Background(), ChoiceApprove, "ngin"); err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if len(f.runner.commands) != 0 {
			t.Error("mismatched phrase still executed")
		}
		if f.recorder.entries[0].UserAction != audit.ActionCancelled {
			t.Errorf("UserAction = %q, want cancelled", f.recorder.entries[0].UserAction)
		}
	})

	t.Run("exact phrase executes", func(t *testing.T) {
		f := newFixture(t, kube.EnvProduction, result, nil)
		f.session.Submit(context.Background(), "delete deployment nginx")

		p, err := f.session.Confirm(context.Background(), ChoiceApprove, "nginx")
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if !p.Executed {
			t.Fatal("Executed = false after exact phrase")
		}
		if len(f.runner.commands) != 1 {
			t.Fatalf("runner ran %d commands, want 1", len(f.runner.commands))
		}
		e := f.recorder.entries[0]
		if e.UserAction != audit.ActionExecuted {
			t.Errorf("UserAction = %q, want executed", e.UserAction)
		}
		if e.ExitCode == nil {
			t.Error("executed entry missing exit code")
		}
	})
}

// Backend failure returns to Normal with no audit entry; the caller
// offers manual entry instead.
func TestSubmitBackendFailure(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{}, translate.ErrUnavailable)

	_, err := f.session.Submit(context.Background(), "show pods")
	if !errors.Is(err, translate.ErrUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrUnavailable", err)
	}
	if f.session.State() != StateNormal {
		t.Errorf("state = %s, want normal", f.session.State())
	}
	if len(f.recorder.entries) != 0 {
		t.Errorf("recorded %d entries before any execution, want 0", len(f.recorder.entries))
	}
}

// Confidence below threshold raises the advisory flag without forcing a
// modal on a low-risk command.
func TestLowConfidenceAdvisory(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl get pods", Confidence: 62,
	}, nil)

	p, err := f.session.Submit(context.Background(), "pods?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !p.LowConfidence {
		t.Error("LowConfidence = false at confidence 62")
	}
	if p.RequiresModal() {
		t.Error("low confidence alone forced a modal")
	}
	if !p.Executed {
		t.Error("low-risk command did not execute")
	}
}

func TestAllowlistBypassesModal(t *testing.T) {
	f := newFixture(t, kube.EnvProduction, translate.Result{
		Command: "kubectl delete pod stuck-pod", Confidence: 90,
	}, nil)
	if err := f.allow.Add("kubectl delete pod stuck-pod"); err != nil {
		t.Fatal(err)
	}

	p, err := f.session.Submit(context.Background(), "remove the stuck pod")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if p.RequiresModal() {
		t.Error("allowlisted command still gated")
	}
	if !p.Executed {
		t.Error("allowlisted command did not execute")
	}
}

func TestAllowAlwaysPersists(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl rollout restart deploy/web", Confidence: 85,
	}, nil)

	f.session.Submit(context.Background(), "restart web")
	if _, err := f.session.Confirm(context.Background(), ChoiceAllowAlways, ""); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !f.allow.IsAllowed("kubectl rollout restart deploy/web") {
		t.Error("allow-always did not persist")
	}

	// Second submission of the same command skips the modal.
	f.session.translator.(*fakeTranslator).result = translate.Result{
		Command: "kubectl rollout restart deploy/web", Confidence: 85,
	}
	p, err := f.session.Submit(context.Background(), "restart web again")
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if p.RequiresModal() {
		t.Error("allowlisted command gated on second submission")
	}
}

func TestSubmitDirectNullConfidence(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{}, nil)

	p, err := f.session.SubmitDirect(context.Background(), "kubectl get nodes")
	if err != nil {
		t.Fatalf("SubmitDirect() error = %v", err)
	}
	if !p.Executed {
		t.Fatal("direct low-risk command did not execute")
	}
	if f.translator.calls != 0 {
		t.Error("direct entry invoked the translator")
	}
	if f.recorder.entries[0].Confidence != nil {
		t.Error("direct entry recorded a confidence value")
	}
}

func TestEditRecordsEdited(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl delete pod web-1", Confidence: 80,
	}, nil)

	f.session.Submit(context.Background(), "remove web-1")
	if f.session.State() != StateModalActive {
		t.Fatalf("state = %s, want modal", f.session.State())
	}

	// User rewrites the proposal into a read before approving.
	p, err := f.session.Edit(context.Background(), "kubectl get pod web-1")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if !p.Executed {
		t.Fatal("edited low-risk command did not execute")
	}
	if f.recorder.entries[0].UserAction != audit.ActionEdited {
		t.Errorf("UserAction = %q, want edited", f.recorder.entries[0].UserAction)
	}
	if f.runner.commands[0] != "kubectl get pod web-1" {
		t.Errorf("ran %q, want the edited command", f.runner.commands[0])
	}
}

func TestEditKeepsModalForRiskyRewrite(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl delete pod web-1", Confidence: 80,
	}, nil)

	f.session.Submit(context.Background(), "remove web-1")
	p, err := f.session.Edit(context.Background(), "kubectl delete pod web-2")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if p.Executed {
		t.Fatal("risky rewrite executed without confirmation")
	}
	if f.session.State() != StateModalActive {
		t.Errorf("state = %s, want modal", f.session.State())
	}

	out, err := f.session.Confirm(context.Background(), ChoiceApprove, "")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !out.Executed {
		t.Error("approved edit did not execute")
	}
	if f.recorder.entries[0].UserAction != audit.ActionEdited {
		t.Errorf("UserAction = %q, want edited", f.recorder.entries[0].UserAction)
	}
}

func TestConfirmOutsideModal(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{}, nil)
	if _, err := f.session.Confirm(context.Background(), ChoiceApprove, ""); !errors.Is(err, ErrNoPending) {
		t.Errorf("Confirm() error = %v, want ErrNoPending", err)
	}
}

func TestSubmitWhileModalRejected(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl delete pod x", Confidence: 80,
	}, nil)

	f.session.Submit(context.Background(), "remove x")
	if _, err := f.session.Submit(context.Background(), "another"); err == nil {
		t.Error("Submit() while modal active succeeded")
	}
	// The pending proposal is untouched.
	if f.session.Pending() == nil {
		t.Error("pending proposal lost")
	}
}

func TestAuditFailureDoesNotBlockExecution(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl get pods", Confidence: 95,
	}, nil)
	f.recorder.err = errors.New("disk full")

	p, err := f.session.Submit(context.Background(), "show pods")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !p.Executed {
		t.Error("audit failure blocked execution")
	}
}

func TestSwitchEnvironment(t *testing.T) {
	f := newFixture(t, kube.EnvDevelopment, translate.Result{
		Command: "kubectl delete pod x", Confidence: 80,
	}, nil)

	next := &kube.EnvironmentContext{Name: "prod-ctx", Class: kube.EnvProduction}
	if err := f.session.SwitchEnvironment(next); err != nil {
		t.Fatalf("SwitchEnvironment() error = %v", err)
	}
	if f.session.Environment().Name != "prod-ctx" {
		t.Error("environment not replaced")
	}

	// Not legal while a modal is blocking.
	f.session.Submit(context.Background(), "remove x")
	if err := f.session.SwitchEnvironment(&kube.EnvironmentContext{Name: "dev"}); err == nil {
		t.Error("SwitchEnvironment() succeeded in modal state")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateNormal, StateTranslating, true},
		{StateNormal, StateModalActive, false},
		{StateTranslating, StateModalActive, true},
		{StateTranslating, StateDone, true},
		{StateTranslating, StateNormal, true},
		{StateModalActive, StateDone, true},
		{StateModalActive, StateTranslating, false},
		{StateDone, StateNormal, true},
		{StateDone, StateModalActive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
