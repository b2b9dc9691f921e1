// Package ui renders the interactive translation session in the
// terminal.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/kubenl/kubenl/pkg/audit"
	"github.com/kubenl/kubenl/pkg/kube"
	"github.com/kubenl/kubenl/pkg/safety"
	"github.com/kubenl/kubenl/pkg/session"
	"github.com/kubenl/kubenl/pkg/translate"
)

// inputMode routes what the input field currently collects.
type inputMode int

const (
	modeRequest inputMode = iota
	modePhrase
	modeEdit
)

var spinnerFrames = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

// App is the terminal front end for one session.
type App struct {
	app        *tview.Application
	outputView *tview.TextView
	statusBar  *tview.TextView
	inputField *tview.InputField

	session  *session.Session
	store    *audit.Store
	resolver *kube.Resolver
	logger   *slog.Logger

	mode        inputMode
	translating int32
	cancelWait  context.CancelFunc
	executing   int32
	cancelRun   context.CancelFunc
}

// New builds the UI around an existing session.
func New(s *session.Session, store *audit.Store, resolver *kube.Resolver, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		app:      tview.NewApplication(),
		session:  s,
		store:    store,
		resolver: resolver,
		logger:   logger,
	}

	a.outputView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true).
		SetChangedFunc(func() {
			a.app.Draw()
		})
	a.outputView.SetBorder(false)

	a.inputField = tview.NewInputField().
		SetLabel("[cyan]> [white]").
		SetFieldBackgroundColor(tcell.ColorDefault).
		SetPlaceholder("Describe what you want to do, ! for direct entry, /help for commands")
	a.inputField.SetDoneFunc(a.onInputDone)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.setStatus("Ready")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.outputView, 0, 1, false).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.inputField, 1, 0, true)
	flex.SetBorder(true).
		SetTitle(fmt.Sprintf(" kubenl — %s ", envTitle(s.Environment()))).
		SetBorderColor(borderColor(s.Environment().Class))

	a.app.SetRoot(flex, true)
	a.app.SetInputCapture(a.captureKeys)

	a.printWelcome()
	return a
}

// Run starts the event loop. The terminal is restored even when a
// handler panics: the application is stopped before the panic
// propagates.
func (a *App) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.app.Stop()
			a.logger.Error("panic in UI loop", "panic", r, "stack", string(debug.Stack()))
			fmt.Fprintf(os.Stderr, "kubenl: internal error: %v\n", r)
			panic(r)
		}
	}()
	return a.app.Run()
}

// Stop terminates the event loop.
func (a *App) Stop() { a.app.Stop() }

func envTitle(env *kube.EnvironmentContext) string {
	if env.Namespace != "" {
		return fmt.Sprintf("%s/%s (%s)", env.Name, env.Namespace, env.Class)
	}
	return fmt.Sprintf("%s (%s)", env.Name, env.Class)
}

func borderColor(class kube.EnvironmentClass) tcell.Color {
	switch class {
	case kube.EnvProduction:
		return tcell.ColorRed
	case kube.EnvStaging, kube.EnvUnknown:
		return tcell.ColorYellow
	default:
		return tcell.ColorGreen
	}
}

func (a *App) printWelcome() {
	env := a.session.Environment()
	a.appendText(fmt.Sprintf("[gray]Context [white]%s[gray] cluster [white]%s[gray] tier [white]%s[gray].\n",
		env.Name, env.Cluster, env.Class))
	if env.Class == kube.EnvProduction {
		a.appendText("[red]Production environment: destructive commands require a typed confirmation.[white]\n")
	}
	a.appendText("[gray]Type a request in plain language. /help lists commands.[white]\n\n")
}

// captureKeys enforces modal input isolation: while a confirmation is
// pending, only confirmation choices and escape reach any widget.
func (a *App) captureKeys(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC {
		if atomic.LoadInt32(&a.translating) == 1 {
			a.cancelTranslation()
			return nil
		}
		if atomic.LoadInt32(&a.executing) == 1 {
			a.interruptRun()
			return nil
		}
		if a.session.State() == session.StateModalActive {
			a.deny()
			return nil
		}
		a.app.Stop()
		return nil
	}

	// A command is running: nothing but Ctrl+C means anything.
	if atomic.LoadInt32(&a.executing) == 1 {
		return nil
	}

	if a.session.State() != session.StateModalActive {
		if event.Key() == tcell.KeyEscape && atomic.LoadInt32(&a.translating) == 1 {
			a.cancelTranslation()
			return nil
		}
		return event
	}

	// Modal active. Typed-phrase and edit input go through the field.
	if a.mode == modePhrase || a.mode == modeEdit {
		if event.Key() == tcell.KeyEscape {
			a.deny()
			return nil
		}
		return event
	}

	switch event.Key() {
	case tcell.KeyEnter:
		a.approve(session.ChoiceApprove)
		return nil
	case tcell.KeyEscape:
		a.deny()
		return nil
	}
	switch event.Rune() {
	case 'y', 'Y':
		a.approve(session.ChoiceApprove)
	case 'a', 'A':
		a.approve(session.ChoiceAllowAlways)
	case 'e', 'E':
		a.beginEdit()
	case 'n', 'N':
		a.deny()
	}
	// Everything else is swallowed while the modal is up.
	return nil
}

func (a *App) onInputDone(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	text := strings.TrimSpace(a.inputField.GetText())
	if text == "" {
		return
	}
	a.inputField.SetText("")

	switch a.mode {
	case modePhrase:
		a.submitPhrase(text)
		return
	case modeEdit:
		a.submitEdit(text)
		return
	}

	switch {
	case strings.HasPrefix(text, "/"):
		a.handleSlashCommand(text)
	case strings.HasPrefix(text, "!"):
		a.submitDirect(strings.TrimSpace(strings.TrimPrefix(text, "!")))
	default:
		a.submitRequest(text)
	}
}

// submitRequest runs the translation off the event loop so the spinner
// keeps animating.
func (a *App) submitRequest(text string) {
	if !atomic.CompareAndSwapInt32(&a.translating, 0, 1) {
		a.appendText("[yellow]Still processing the previous request.[white]\n")
		return
	}

	a.appendText(fmt.Sprintf("[white]» %s[gray]\n", tview.Escape(text)))
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelWait = cancel

	go a.animateSpinner()
	go func() {
		defer cancel()
		p, err := a.session.Submit(ctx, text)
		atomic.StoreInt32(&a.translating, 0)
		a.app.QueueUpdateDraw(func() {
			a.cancelWait = nil
			if err != nil {
				a.showTranslationError(err)
				return
			}
			a.showProposal(p)
		})
	}()
}

func (a *App) submitDirect(command string) {
	if command == "" {
		a.appendText("[yellow]Usage: !<command>[white]\n")
		return
	}
	a.appendText(fmt.Sprintf("[white]» ! %s[gray]\n", tview.Escape(command)))
	a.runGated(func(ctx context.Context) (*session.Proposal, error) {
		return a.session.SubmitDirect(ctx, command)
	}, func(p *session.Proposal, err error) {
		if err != nil {
			a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
			a.setStatus("Ready")
			return
		}
		a.showProposal(p)
	})
}

// runGated drives a session call that may spawn a child process. The call
// runs off the event loop with a cancellable context, so Ctrl+C stays
// responsive while the process is alive; the outcome is delivered back
// through the draw queue.
func (a *App) runGated(invoke func(context.Context) (*session.Proposal, error), done func(*session.Proposal, error)) {
	if !atomic.CompareAndSwapInt32(&a.executing, 0, 1) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.setStatus("Running... (Ctrl+C to interrupt)")

	go func() {
		defer cancel()
		p, err := invoke(ctx)
		a.app.QueueUpdateDraw(func() {
			a.cancelRun = nil
			atomic.StoreInt32(&a.executing, 0)
			done(p, err)
		})
	}()
}

func (a *App) interruptRun() {
	if a.cancelRun != nil {
		a.cancelRun()
	}
}

func (a *App) cancelTranslation() {
	a.session.CancelTranslation()
	if a.cancelWait != nil {
		a.cancelWait()
	}
}

// animateSpinner repaints the status bar at ~10 fps while a translation
// is outstanding.
func (a *App) animateSpinner() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for range ticker.C {
		if atomic.LoadInt32(&a.translating) == 0 {
			a.app.QueueUpdateDraw(func() { a.setStatus("Ready") })
			return
		}
		text := fmt.Sprintf("%c Translating... (Esc to cancel)", spinnerFrames[frame%len(spinnerFrames)])
		a.app.QueueUpdateDraw(func() { a.setStatus(text) })
		frame++
	}
}

func (a *App) showTranslationError(err error) {
	switch {
	case errors.Is(err, translate.ErrUnavailable):
		a.appendText("[yellow]Translation backend unavailable. Enter the command directly with !<command>.[white]\n")
	case errors.Is(err, translate.ErrMalformed):
		a.appendText(fmt.Sprintf("[yellow]The backend answer failed validation and was discarded: %v[white]\n", err))
		a.appendText("[gray]Rephrase the request or use !<command>.[white]\n")
	case errors.Is(err, context.Canceled):
		a.appendText("[gray]Translation cancelled.[white]\n")
	default:
		a.appendText(fmt.Sprintf("[red]Translation failed: %v[white]\n", err))
	}
	a.setStatus("Ready")
}

// showProposal renders either the execution result or the confirmation
// modal, depending on how the proposal was gated.
func (a *App) showProposal(p *session.Proposal) {
	if p.NeedsClarification() {
		a.appendText(fmt.Sprintf("[yellow]Need more detail: %s[white]\n", p.ClarifyQuestion()))
	}
	if p.Executed {
		a.showExecutedHeader(p)
		a.showResult(p)
		return
	}
	a.showModal(p)
}

// showExecutedHeader echoes a translated command and its confidence ahead
// of the output. A below-threshold confidence is advisory on the
// fast path: the command already ran, but the flag is never hidden.
func (a *App) showExecutedHeader(p *session.Proposal) {
	if p.Confidence == nil {
		return
	}
	a.appendText(fmt.Sprintf("[cyan]%s[white]\n", tview.Escape(p.Command)))
	a.appendText(fmt.Sprintf("[gray]Confidence: %d[white]\n", *p.Confidence))
	if p.LowConfidence {
		a.appendText("[yellow]Low confidence: verify the command matched your intent.[white]\n")
	}
}

func (a *App) showModal(p *session.Proposal) {
	var sb strings.Builder
	sb.WriteString("\n[yellow::b]━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━[white::-]\n")
	sb.WriteString(fmt.Sprintf("[yellow::b]  Confirm %s-risk command  [white::-]\n", p.Risk))
	sb.WriteString("[yellow::b]━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━[white::-]\n\n")
	sb.WriteString(fmt.Sprintf("[cyan]%s[white]\n", tview.Escape(p.Command)))
	if p.Confidence != nil {
		sb.WriteString(fmt.Sprintf("[gray]Confidence: %d[white]\n", *p.Confidence))
	}
	if p.LowConfidence {
		sb.WriteString("[yellow]Low confidence: review this command carefully before approving.[white]\n")
	}
	if p.Rationale != "" {
		sb.WriteString(fmt.Sprintf("[gray]%s[white]\n", tview.Escape(p.Rationale)))
	}
	sb.WriteString("\n")

	if p.Spec.Modality == safety.ModalityTypedPhrase {
		sb.WriteString(fmt.Sprintf("[red]Production safeguard: type [white::b]%s[red::-] to run, Esc to cancel.[white]\n",
			tview.Escape(p.Spec.ExpectedPhrase)))
		a.mode = modePhrase
		a.inputField.SetLabel("[red]confirm> [white]")
		a.app.SetFocus(a.inputField)
	} else {
		sb.WriteString("[gray]Press [green]Y[gray]/[green]Enter[gray] to run, [green]A[gray] to always allow, ")
		sb.WriteString("[yellow]E[gray] to edit, [red]N[gray]/[red]Esc[gray] to cancel.[white]\n")
		a.app.SetFocus(a.outputView)
	}

	a.appendText(sb.String())
	a.setStatus("Waiting for confirmation...")
}

func (a *App) submitPhrase(typed string) {
	a.resetInput()
	a.runGated(func(ctx context.Context) (*session.Proposal, error) {
		return a.session.Confirm(ctx, session.ChoiceApprove, typed)
	}, func(p *session.Proposal, err error) {
		if err != nil {
			a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
			a.setStatus("Ready")
			return
		}
		if !p.Executed {
			a.appendText("[red]Phrase did not match. Cancelled.[white]\n")
			a.setStatus("Ready")
			return
		}
		a.showResult(p)
	})
}

func (a *App) approve(choice session.Choice) {
	a.runGated(func(ctx context.Context) (*session.Proposal, error) {
		return a.session.Confirm(ctx, choice, "")
	}, func(p *session.Proposal, err error) {
		if err != nil {
			a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
			a.setStatus("Ready")
			return
		}
		if choice == session.ChoiceAllowAlways {
			a.appendText("[green]Added to allowlist.[white]\n")
		}
		a.app.SetFocus(a.inputField)
		a.showResult(p)
	})
}

func (a *App) deny() {
	a.resetInput()
	if _, err := a.session.Confirm(context.Background(), session.ChoiceDeny, ""); err != nil {
		a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
		return
	}
	a.appendText("[red]Cancelled.[white]\n")
	a.setStatus("Ready")
}

func (a *App) beginEdit() {
	p := a.session.Pending()
	if p == nil {
		return
	}
	a.mode = modeEdit
	a.inputField.SetLabel("[yellow]edit> [white]")
	a.inputField.SetText(p.Command)
	a.app.SetFocus(a.inputField)
}

func (a *App) submitEdit(command string) {
	a.resetInput()
	a.runGated(func(ctx context.Context) (*session.Proposal, error) {
		return a.session.Edit(ctx, command)
	}, func(p *session.Proposal, err error) {
		if err != nil {
			a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
			a.setStatus("Ready")
			return
		}
		if p.Executed {
			a.showResult(p)
			return
		}
		// Re-gated at Medium/High: render the modal for the revised command.
		a.appendText("[gray]Revised command still needs confirmation.[white]\n")
		a.showModal(p)
	})
}

func (a *App) resetInput() {
	a.mode = modeRequest
	a.inputField.SetLabel("[cyan]> [white]")
	a.inputField.SetText("")
	a.app.SetFocus(a.inputField)
}

func (a *App) showResult(p *session.Proposal) {
	res := p.Result
	if res == nil {
		return
	}
	if res.Stdout != "" {
		a.appendText(tview.Escape(res.Stdout))
		if !strings.HasSuffix(res.Stdout, "\n") {
			a.appendText("\n")
		}
	}
	if res.Stderr != "" {
		a.appendText(fmt.Sprintf("[red]%s[white]\n", tview.Escape(strings.TrimRight(res.Stderr, "\n"))))
	}
	if res.ExitCode == 0 {
		a.appendText(fmt.Sprintf("[green]✓[gray] exit 0 in %dms[white]\n\n", res.DurationMS))
	} else {
		a.appendText(fmt.Sprintf("[red]✗ exit %d[gray] in %dms[white]\n\n", res.ExitCode, res.DurationMS))
	}
	a.setStatus("Ready")
}

func (a *App) appendText(text string) {
	fmt.Fprint(a.outputView, text)
	a.outputView.ScrollToEnd()
}

func (a *App) setStatus(status string) {
	a.statusBar.SetText(fmt.Sprintf("[gray]%s[white]", status))
}
