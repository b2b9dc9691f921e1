package ui

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/kubenl/kubenl/pkg/audit"
	"github.com/kubenl/kubenl/pkg/kube"
)

// handleSlashCommand dispatches /-prefixed session commands.
func (a *App) handleSlashCommand(text string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/help":
		a.printHelp()
	case "/history":
		a.showHistory(args)
	case "/export":
		a.exportHistory(args)
	case "/context":
		a.switchContext(args)
	case "/allow":
		a.manageAllowlist(args)
	case "/quit", "/exit":
		a.app.Stop()
	default:
		a.appendText(fmt.Sprintf("[yellow]Unknown command %s. /help lists commands.[white]\n", cmd))
	}
}

func (a *App) printHelp() {
	a.appendText(`[gray]Commands:
  <request>                 translate plain language into a command
  !<command>                run a command directly (still risk-gated)
  /history today            audit entries from today
  /history 7d               audit entries from the last N days
  /history env <name>       audit entries for an environment
  /export <path> [filters]  write matching audit entries to a JSON file
  /context                  list available contexts
  /context <name>           switch to another context
  /allow                    list allowlisted commands
  /allow remove <command>   drop a command from the allowlist
  /quit                     exit
[white]`)
}

// historyFilter maps the history argument forms onto an audit filter.
func historyFilter(args []string) (audit.Filter, error) {
	if len(args) == 0 {
		return audit.Filter{Limit: 20}, nil
	}
	switch args[0] {
	case "today":
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return audit.Filter{Since: midnight, Limit: 50}, nil
	case "env":
		if len(args) < 2 {
			return audit.Filter{}, fmt.Errorf("usage: /history env <name>")
		}
		return audit.Filter{Environment: args[1], Limit: 50}, nil
	default:
		if days, ok := parseDays(args[0]); ok {
			return audit.Filter{Since: time.Now().AddDate(0, 0, -days), Limit: 100}, nil
		}
		return audit.Filter{}, fmt.Errorf("usage: /history [today|<N>d|env <name>]")
	}
}

func parseDays(arg string) (int, bool) {
	if !strings.HasSuffix(arg, "d") {
		return 0, false
	}
	days, err := strconv.Atoi(strings.TrimSuffix(arg, "d"))
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

func (a *App) showHistory(args []string) {
	filter, err := historyFilter(args)
	if err != nil {
		a.appendText(fmt.Sprintf("[yellow]%v[white]\n", err))
		return
	}
	entries, err := a.store.Query(filter)
	if err != nil {
		a.appendText(fmt.Sprintf("[red]History query failed: %v[white]\n", err))
		return
	}
	if len(entries) == 0 {
		a.appendText("[gray]No matching audit entries.[white]\n")
		return
	}
	for _, e := range entries {
		a.appendText(formatHistoryLine(e))
	}
	a.appendText("\n")
}

func formatHistoryLine(e audit.Entry) string {
	outcome := string(e.UserAction)
	color := "green"
	switch e.UserAction {
	case audit.ActionCancelled:
		color = "red"
	case audit.ActionEdited:
		color = "yellow"
	}
	exit := "-"
	if e.ExitCode != nil {
		exit = strconv.Itoa(*e.ExitCode)
	}
	return fmt.Sprintf("[gray]%s [%s]%-9s[gray] %-6s exit=%s [white]%s\n",
		e.Timestamp.Format("01-02 15:04"), color, outcome, e.RiskLevel, exit,
		tview.Escape(e.Command))
}

func (a *App) exportHistory(args []string) {
	if len(args) == 0 {
		a.appendText("[yellow]Usage: /export <path> [today|<N>d|env <name>][white]\n")
		return
	}
	path := args[0]
	filter, err := historyFilter(args[1:])
	if err != nil {
		a.appendText(fmt.Sprintf("[yellow]%v[white]\n", err))
		return
	}
	filter.Limit = audit.MaxQueryLimit

	f, err := os.Create(path)
	if err != nil {
		a.appendText(fmt.Sprintf("[red]Export failed: %v[white]\n", err))
		return
	}
	defer f.Close()

	if err := a.store.ExportJSON(f, filter); err != nil {
		a.appendText(fmt.Sprintf("[red]Export failed: %v[white]\n", err))
		return
	}
	a.appendText(fmt.Sprintf("[green]Exported audit entries to %s[white]\n", path))
}

func (a *App) switchContext(args []string) {
	if len(args) == 0 {
		names, current, err := a.resolver.ListContexts()
		if err != nil {
			a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
			return
		}
		for _, name := range names {
			marker := "  "
			if name == current {
				marker = "[green]* [white]"
			}
			a.appendText(fmt.Sprintf("%s%s\n", marker, name))
		}
		return
	}

	env, err := a.resolver.Resolve(args[0])
	if err != nil {
		a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
		return
	}
	if err := a.session.SwitchEnvironment(env); err != nil {
		a.appendText(fmt.Sprintf("[yellow]%v[white]\n", err))
		return
	}
	a.appendText(fmt.Sprintf("[green]Switched to %s[gray] (%s)[white]\n", env.Name, env.Class))
	if env.Class == kube.EnvProduction {
		a.appendText("[red]Now targeting production.[white]\n")
	}
}

func (a *App) manageAllowlist(args []string) {
	allow := a.session.Allowlist()
	if len(args) == 0 {
		cmds := allow.Commands()
		if len(cmds) == 0 {
			a.appendText("[gray]Allowlist is empty.[white]\n")
			return
		}
		for _, c := range cmds {
			a.appendText(fmt.Sprintf("  %s\n", tview.Escape(c)))
		}
		return
	}
	if args[0] == "remove" && len(args) > 1 {
		command := strings.Join(args[1:], " ")
		if err := allow.Remove(command); err != nil {
			a.appendText(fmt.Sprintf("[red]%v[white]\n", err))
			return
		}
		a.appendText("[green]Removed from allowlist.[white]\n")
		return
	}
	a.appendText("[yellow]Usage: /allow [remove <command>][white]\n")
}
