package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hackerby888/qubic-core-lite/internal/engine"
	"github.com/hackerby888/qubic-core-lite/internal/hasher"
	"github.com/hackerby888/qubic-core-lite/internal/registry"
)

var (
	colorPrimary = lipgloss.Color("62")
	colorDim     = lipgloss.Color("240")
)

const monitorPollInterval = time.Second

func addMonitorCommand(rootCmd *cobra.Command) {
	var contracts []string
	var sizes []int

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show a live dashboard of resident bytes and RAM budget usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(contracts) != len(sizes) {
				return fmt.Errorf("--contract and --size must be repeated the same number of times")
			}

			reg, cfg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.CloseAll()

			for i, c := range contracts {
				idx, err := parseContractIndex(c)
				if err != nil {
					return err
				}
				if _, err := reg.Create(idx, "", sizes[i], cfg.SecurityLevel); err != nil {
					return fmt.Errorf("creating engine for contract %s: %w", c, err)
				}
			}

			p := tea.NewProgram(newMonitorScreen(reg))
			_, err = p.Run()
			return err
		},
	}

	monitorCmd.Flags().StringArrayVar(&contracts, "contract", nil, "contract index to monitor (repeatable)")
	monitorCmd.Flags().IntSliceVar(&sizes, "size", nil, "non-padded size in bytes for the matching --contract (repeatable)")

	rootCmd.AddCommand(monitorCmd)
}

// monitorKeyMap is the key binding set for the monitor dashboard.
type monitorKeyMap struct {
	Help key.Binding
	Quit key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Help, k.Quit}}
}

// monitorTickMsg is the periodic poll tick message. Exported-shape kept
// unexported since nothing outside this file needs it.
type monitorTickMsg struct{}

// monitorScreen renders a live table of per-contract resident chunk counts
// against the process-wide RAM budget.
type monitorScreen struct {
	reg   *registry.Registry
	keys  monitorKeyMap
	help  help.Model
	width int
}

func newMonitorScreen(reg *registry.Registry) monitorScreen {
	return monitorScreen{
		reg: reg,
		keys: monitorKeyMap{
			Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
			Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		help: help.New(),
	}
}

func (m monitorScreen) Init() tea.Cmd {
	return pollMonitorTick()
}

func pollMonitorTick() tea.Cmd {
	return tea.Tick(monitorPollInterval, func(_ time.Time) tea.Msg {
		return monitorTickMsg{}
	})
}

func (m monitorScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case monitorTickMsg:
		return m, pollMonitorTick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m monitorScreen) View() string {
	var b strings.Builder
	b.WriteString("  State Engine Monitor\n\n")

	stats := m.reg.Tracker.Stats()
	budget := "unlimited"
	if stats.Budget > 0 {
		budget = fmt.Sprintf("%d bytes", stats.Budget)
	}
	b.WriteString(fmt.Sprintf("  RAM budget: %s    resident: %d bytes\n\n", budget, stats.Used))

	contracts := m.reg.List()
	if len(contracts) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(colorDim).Render("  No contracts registered."))
		b.WriteString("\n")
	} else {
		for _, idx := range contracts {
			e, ok := m.reg.Get(idx)
			if !ok {
				continue
			}
			line := fmt.Sprintf("  contract %-6d  %8d / %-8d chunks resident  %d bytes",
				idx, residentChunks(e), e.GetMaxChunks(), e.TotalResidentBytes())
			b.WriteString(lipgloss.NewStyle().Foreground(colorPrimary).Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func residentChunks(e *engine.Engine) int {
	return e.TotalResidentBytes() / hasher.ChunkSize
}
