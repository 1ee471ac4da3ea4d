// Package tui implements the interactive addon manager.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/kpy/internal/addons"
	"github.com/kingrea/kpy/internal/logbook"
	"github.com/kingrea/kpy/plugins"
)

type pane int

const (
	paneDetails pane = iota
	paneConflicts
	paneJournal
)

const journalLines = 8

// Saver persists preferences after a toggle.
type Saver interface {
	Save() error
}

// App is the main TUI application model.
type App struct {
	manager   *addons.Manager
	logbook   *logbook.Logbook
	saver     Saver
	list      list.Model
	pane      pane
	width     int
	height    int
	statusMsg string
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithLogbook shows the tail of book in the journal pane.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) { a.logbook = book }
}

// WithSaver stores preferences with saver whenever a toggle succeeds.
func WithSaver(saver Saver) AppOption {
	return func(a *App) { a.saver = saver }
}

// addonItem is one row in the addon list.
type addonItem struct {
	record  plugins.Record
	enabled bool
}

func (i addonItem) Title() string {
	mark := "[ ]"
	if i.enabled {
		mark = "[x]"
	}
	name := i.record.Info.Name
	if name == "" {
		name = i.record.Name
	}
	return fmt.Sprintf("%s %s", mark, name)
}

func (i addonItem) Description() string {
	parts := []string{i.record.Info.Category}
	if !i.record.Info.Version.IsZero() {
		parts = append(parts, "v"+i.record.Info.Version.String())
	}
	parts = append(parts, string(i.record.Info.Support))
	return strings.Join(parts, " · ")
}

func (i addonItem) FilterValue() string {
	return i.record.Info.Category + " " + i.record.Info.Name + " " + i.record.Name
}

// toggledMsg reports the outcome of an enable or disable.
type toggledMsg struct {
	name    string
	enabled bool
	err     error
}

// refreshedMsg carries the result of a module cache refresh.
type refreshedMsg struct {
	report plugins.RefreshReport
}

// NewApp creates the addon manager model over manager.
func NewApp(manager *addons.Manager, opts ...AppOption) *App {
	delegate := list.NewDefaultDelegate()
	l := list.New(nil, delegate, 40, 20)
	l.Title = "Addons"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF"))

	app := &App{
		manager:   manager,
		list:      l,
		statusMsg: "enter/space toggle · r refresh · tab pane · q quit",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.reloadItems(false)
	return app
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "enter", " ":
			return a, a.toggleSelected()
		case "r":
			a.statusMsg = "Refreshing modules..."
			return a, a.refresh()
		case "tab":
			a.pane = (a.pane + 1) % (paneJournal + 1)
			return a, nil
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.list.SetSize(a.listWidth(), max(5, msg.Height-10))
		return a, nil
	case toggledMsg:
		a.handleToggled(msg)
		return a, nil
	case refreshedMsg:
		a.handleRefreshed(msg)
		return a, nil
	}
	var cmd tea.Cmd
	a.list, cmd = a.list.Update(msg)
	return a, cmd
}

func (a *App) selected() (addonItem, bool) {
	item, ok := a.list.SelectedItem().(addonItem)
	return item, ok
}

// toggleSelected enables or disables the highlighted addon and updates the
// stored preference to match.
func (a *App) toggleSelected() tea.Cmd {
	item, ok := a.selected()
	if !ok {
		return nil
	}
	name := item.record.Name
	manager := a.manager
	if item.enabled {
		return func() tea.Msg {
			err := manager.Disable(name, addons.DisableOptions{DefaultSet: true})
			return toggledMsg{name: name, enabled: false, err: err}
		}
	}
	return func() tea.Msg {
		_, err := manager.Enable(name, addons.EnableOptions{DefaultSet: true})
		return toggledMsg{name: name, enabled: err == nil, err: err}
	}
}

func (a *App) handleToggled(msg toggledMsg) {
	a.reloadItems(false)
	if msg.err != nil {
		a.statusMsg = fmt.Sprintf("⚠ %s: %v", msg.name, msg.err)
		a.logError("tui: toggle %s: %v", msg.name, msg.err)
		return
	}
	state := "disabled"
	if msg.enabled {
		state = "enabled"
	}
	a.statusMsg = fmt.Sprintf("%s %s", msg.name, state)
	if a.saver != nil {
		if err := a.saver.Save(); err != nil {
			a.statusMsg = fmt.Sprintf("⚠ save preferences: %v", err)
			a.logError("tui: save preferences: %v", err)
		}
	}
}

func (a *App) refresh() tea.Cmd {
	manager := a.manager
	return func() tea.Msg {
		return refreshedMsg{report: manager.Refresh()}
	}
}

func (a *App) handleRefreshed(msg refreshedMsg) {
	a.reloadItems(false)
	r := msg.report
	a.statusMsg = fmt.Sprintf("Refreshed: %d added, %d reloaded, %d removed, %d conflict(s)",
		len(r.Added), len(r.Reloaded), len(r.Removed), len(r.Conflicts))
	a.logInfo("tui: %s", a.statusMsg)
}

// reloadItems rebuilds the list from the module cache, keeping the cursor
// on the same addon when it still exists.
func (a *App) reloadItems(refresh bool) {
	var current string
	if item, ok := a.selected(); ok {
		current = item.record.Name
	}
	enabled := map[string]bool{}
	for _, name := range a.manager.Enabled() {
		enabled[name] = true
	}
	records := a.manager.Modules(refresh)
	items := make([]list.Item, 0, len(records))
	cursor := 0
	for idx, rec := range records {
		if rec.Name == current {
			cursor = idx
		}
		items = append(items, addonItem{record: rec, enabled: enabled[rec.Name]})
	}
	a.list.SetItems(items)
	if len(items) > 0 {
		a.list.Select(cursor)
	}
}

func (a *App) listWidth() int {
	if a.width <= 0 {
		return 40
	}
	return max(30, (a.width-6)/2)
}

// View implements tea.Model.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ KPY ADDONS")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)
	left := box.Width(a.listWidth()).Render(a.list.View())
	right := box.Width(a.listWidth()).Render(a.renderPane())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (a *App) renderPane() string {
	switch a.pane {
	case paneConflicts:
		return a.renderConflicts()
	case paneJournal:
		return a.renderJournal()
	default:
		return a.renderDetails()
	}
}

func paneHeading(title string) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(title)
}

func muted(text string) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(text)
}

func (a *App) renderDetails() string {
	item, ok := a.selected()
	if !ok {
		return paneHeading("DETAILS") + "\n" + muted("No addons found.")
	}
	info := item.record.Info
	lines := []string{
		fmt.Sprintf("Module:   %s", item.record.Name),
		fmt.Sprintf("Author:   %s", info.Author),
		fmt.Sprintf("Version:  %s", info.Version),
		fmt.Sprintf("Kraken:   %s", info.Kraken),
		fmt.Sprintf("Support:  %s", info.Support),
		fmt.Sprintf("Location: %s", info.Location),
		fmt.Sprintf("Path:     %s", item.record.Path),
	}
	if info.Description != "" {
		lines = append(lines, "", info.Description)
	}
	if info.DocURL != "" {
		lines = append(lines, "Docs: "+info.DocURL)
	}
	if info.Warning != "" {
		lines = append(lines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Render("⚠ "+info.Warning))
	}
	return paneHeading("DETAILS") + "\n" + muted(strings.Join(lines, "\n"))
}

func (a *App) renderConflicts() string {
	conflicts := a.manager.Conflicts()
	diags := a.manager.Diagnostics()
	if len(conflicts) == 0 && len(diags) == 0 {
		return paneHeading("CONFLICTS") + "\n" + muted("No conflicts.")
	}
	var lines []string
	for _, c := range conflicts {
		lines = append(lines, fmt.Sprintf("%s\n  %s\n  %s", c.Name, c.FirstPath, c.SecondPath))
	}
	for _, d := range diags {
		lines = append(lines, fmt.Sprintf("%s %s: %s", d.Severity, d.Module, d.Message))
	}
	return paneHeading("CONFLICTS") + "\n" + muted(strings.Join(lines, "\n"))
}

func (a *App) renderJournal() string {
	if a.logbook == nil {
		return paneHeading("LOG") + "\n" + muted("Journal disabled.")
	}
	lines, total := a.logbook.Tail(journalLines)
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := paneHeading(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	if len(lines) == 0 {
		return head + "\n" + muted("Nothing recorded yet.")
	}
	return head + "\n" + muted(strings.Join(lines, "\n"))
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook != nil {
		a.logbook.Info(format, args...)
	}
}

func (a *App) logError(format string, args ...any) {
	if a.logbook != nil {
		a.logbook.Error(format, args...)
	}
}
