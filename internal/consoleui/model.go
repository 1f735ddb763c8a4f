package consoleui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// pane identifies which list the model is currently driving.
type pane int

const (
	paneAssets pane = iota
	paneTimeline
	paneFindings
	paneModules
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type assetItem struct{ domain.Asset }

func (a assetItem) Title() string       { return a.Hostname }
func (a assetItem) Description() string { return fmt.Sprintf("%s  %s@%s:%d", a.OS, a.Username, a.IP, a.SSHPort) }
func (a assetItem) FilterValue() string { return a.Hostname + " " + a.IP }

type timelineItem struct{ domain.TimelineEvent }

func (e timelineItem) Title() string { return e.EventType }
func (e timelineItem) Description() string {
	return fmt.Sprintf("%s · %s", humanize.Time(e.OccurredAt), e.Payload)
}
func (e timelineItem) FilterValue() string { return e.EventType }

type findingItem struct{ domain.Finding }

func (f findingItem) Title() string { return fmt.Sprintf("[%s] %s", f.Severity, f.Finding.Title) }
func (f findingItem) Description() string {
	return fmt.Sprintf("%s · %d sighting(s) · last seen %s", f.Status, f.SightingCount, humanize.Time(f.LastSeen))
}
func (f findingItem) FilterValue() string { return f.Finding.Title }

type moduleItem struct{ domain.HuntModule }

func (m moduleItem) Title() string       { return m.Name }
func (m moduleItem) Description() string { return fmt.Sprintf("%d step(s) · %s", len(m.Steps), m.SeverityHint) }
func (m moduleItem) FilterValue() string { return m.Name }

// Model is the huntrelay-console bubbletea program. It never touches
// the database or SSH itself; every list it renders was populated by
// a prior Client call against the Gateway's REST surface.
type Model struct {
	client *Client

	pane     pane
	assets   list.Model
	timeline list.Model
	findings list.Model
	modules  list.Model
	spinner  spinner.Model

	selectedAsset ids.AssetID
	loading       bool
	err           error
	width, height int
}

// NewModel constructs the console's root model, ready to Init.
func NewModel(client *Client) Model {
	newList := func(title string) list.Model {
		l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
		l.Title = title
		l.SetShowHelp(false)
		return l
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		client:   client,
		pane:     paneAssets,
		assets:   newList("Assets"),
		timeline: newList("Timeline"),
		findings: newList("Findings"),
		modules:  newList("Hunt modules"),
		spinner:  sp,
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadAssetsCmd(m.client))
}

type assetsLoadedMsg struct {
	assets []domain.Asset
	err    error
}

type assetDetailLoadedMsg struct {
	assetID  ids.AssetID
	timeline []domain.TimelineEvent
	findings []domain.Finding
	err      error
}

type modulesLoadedMsg struct {
	modules []domain.HuntModule
	err     error
}

func loadAssetsCmd(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assets, err := c.ListAssets(ctx)
		return assetsLoadedMsg{assets: assets, err: err}
	}
}

func loadAssetDetailCmd(c *Client, assetID ids.AssetID) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		timeline, err := c.GetTimeline(ctx, assetID, 50)
		if err != nil {
			return assetDetailLoadedMsg{assetID: assetID, err: err}
		}
		findings, err := c.ListFindings(ctx, assetID)
		return assetDetailLoadedMsg{assetID: assetID, timeline: timeline, findings: findings, err: err}
	}
}

func loadModulesCmd(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		modules, err := c.ListModules(ctx)
		return modulesLoadedMsg{modules: modules, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h := msg.Height - 4
		m.assets.SetSize(msg.Width, h)
		m.timeline.SetSize(msg.Width, h)
		m.findings.SetSize(msg.Width, h)
		m.modules.SetSize(msg.Width, h)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.pane == paneAssets {
				return m, tea.Quit
			}
			m.pane = paneAssets
			return m, nil
		case "tab":
			m.pane = nextPane(m.pane)
			return m, nil
		case "m":
			m.pane = paneModules
			m.loading = true
			return m, loadModulesCmd(m.client)
		case "enter":
			if m.pane == paneAssets {
				if it, ok := m.assets.SelectedItem().(assetItem); ok {
					m.selectedAsset = it.ID
					m.pane = paneTimeline
					m.loading = true
					return m, loadAssetDetailCmd(m.client, it.ID)
				}
			}
			return m, nil
		}

	case assetsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, 0, len(msg.assets))
		for _, a := range msg.assets {
			items = append(items, assetItem{a})
		}
		m.assets.SetItems(items)
		return m, nil

	case assetDetailLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		tItems := make([]list.Item, 0, len(msg.timeline))
		for _, e := range msg.timeline {
			tItems = append(tItems, timelineItem{e})
		}
		m.timeline.SetItems(tItems)

		fItems := make([]list.Item, 0, len(msg.findings))
		for _, f := range msg.findings {
			fItems = append(fItems, findingItem{f})
		}
		m.findings.SetItems(fItems)
		return m, nil

	case modulesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, 0, len(msg.modules))
		for _, mod := range msg.modules {
			items = append(items, moduleItem{mod})
		}
		m.modules.SetItems(items)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	switch m.pane {
	case paneAssets:
		m.assets, cmd = m.assets.Update(msg)
	case paneTimeline:
		m.timeline, cmd = m.timeline.Update(msg)
	case paneFindings:
		m.findings, cmd = m.findings.Update(msg)
	case paneModules:
		m.modules, cmd = m.modules.Update(msg)
	}
	return m, cmd
}

func nextPane(p pane) pane {
	switch p {
	case paneAssets:
		return paneTimeline
	case paneTimeline:
		return paneFindings
	case paneFindings:
		return paneModules
	default:
		return paneAssets
	}
}

func (m Model) View() string {
	var body string
	switch m.pane {
	case paneAssets:
		body = m.assets.View()
	case paneTimeline:
		body = m.timeline.View()
	case paneFindings:
		body = m.findings.View()
	case paneModules:
		body = m.moduleView()
	}

	header := titleStyle.Render("huntrelay-console")
	if m.loading {
		header += " " + m.spinner.View()
	}

	var footer string
	if m.err != nil {
		footer = errStyle.Render(m.err.Error())
	} else {
		footer = helpStyle.Render("tab: next pane · enter: open asset · m: modules · q: back/quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// moduleView renders the selected hunt module's steps with chroma
// syntax highlighting on each step's shell command.
func (m Model) moduleView() string {
	it, ok := m.modules.SelectedItem().(moduleItem)
	if !ok {
		return m.modules.View()
	}

	var b strings.Builder
	b.WriteString(m.modules.View())
	b.WriteString("\n\n")
	for _, step := range it.Steps {
		fmt.Fprintf(&b, "# %s\n", step.Description)
		if err := quick.Highlight(&b, step.Command, "bash", "terminal256", "monokai"); err != nil {
			b.WriteString(step.Command)
		}
		b.WriteString("\n")
	}
	return b.String()
}
