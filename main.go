// mise is a terminal recipe and meal-planning dashboard. This binary is the
// demonstration harness for its performance core: it progressively renders a
// grid of pooled recipe cards while live pool, renderer, and metrics figures
// update in the footer.
//
// Usage:
//
//	mise [flags]
//
// Flags:
//
//	-cards N     Number of recipe cards to render (default 60)
//	-batch N     Cards per render batch (overrides config)
//	-delay D     Delay between batches, e.g. 16ms (overrides config)
//	-config P    Path to perf.toml (default: standard search path)
//	-verbose     Enable verbose logging
//	-version     Print version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"gitlab.com/tinyland/lab/mise/pkg/components"
	"gitlab.com/tinyland/lab/mise/pkg/config"
	"gitlab.com/tinyland/lab/mise/pkg/events"
	"gitlab.com/tinyland/lab/mise/pkg/perf"
	"gitlab.com/tinyland/lab/mise/pkg/pool"
	"gitlab.com/tinyland/lab/mise/pkg/render"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	cardPoolName = "cards"
	rendererName = "card-grid"
)

func main() {
	var (
		cardCount   = flag.Int("cards", 60, "Number of recipe cards to render")
		batchSize   = flag.Int("batch", 0, "Cards per render batch (0 = from config)")
		batchDelay  = flag.Duration("delay", 0, "Delay between batches (0 = from config)")
		configPath  = flag.String("config", "", "Path to perf.toml")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mise %s (%s)\n", version, commit)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *batchSize > 0 {
		cfg.Render.BatchSize = *batchSize
	}
	if *batchDelay > 0 {
		cfg.Render.Delay = config.Duration{Duration: *batchDelay}
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "mise: stdout is not a terminal")
		os.Exit(1)
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())

	mgr, err := perf.NewManager(perf.ManagerConfig{
		HistorySize: cfg.MetricsHistory,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create performance manager: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()
	cfg.Apply(mgr)

	model, err := newDemoModel(mgr, cfg, *cardCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build demo model: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		os.Exit(1)
	}
}

// coreEvent wraps a performance-core notification as a bubbletea message.
type coreEvent struct {
	e events.Event
}

// demoModel is the bubbletea model driving the card-grid demonstration.
type demoModel struct {
	mgr       *perf.Manager
	cfg       *config.Config
	container *components.Container
	cards     *pool.WidgetPool
	recipes   []components.Recipe

	busCh     <-chan events.Event
	busCancel func()

	prog     progress.Model
	fraction float64
	width    int
	warnings []string
	done     bool
}

func newDemoModel(mgr *perf.Manager, cfg *config.Config, cardCount int) (*demoModel, error) {
	container := components.NewContainer()

	cards, err := mgr.CreateWidgetPool(cardPoolName, pool.WidgetPoolConfig{
		Factory: func() components.Widget {
			return components.NewRecipeCard(components.DefaultCardStyle())
		},
		Parent:  container,
		MaxIdle: cfg.PoolMaxIdle(cardPoolName, pool.DefaultMaxIdle),
	})
	if err != nil {
		return nil, err
	}

	m := &demoModel{
		mgr:       mgr,
		cfg:       cfg,
		container: container,
		cards:     cards,
		recipes:   sampleRecipes(cardCount),
		prog:      progress.New(progress.WithDefaultGradient()),
		width:     80,
	}

	_, err = mgr.CreateCallbackRenderer(rendererName, render.Callbacks{
		OnBatch: m.renderBatch,
	}, cfg.Render.BatchSize, cfg.Render.Delay.Duration)
	if err != nil {
		return nil, err
	}

	m.busCh, m.busCancel = mgr.Bus().Subscribe(256)
	return m, nil
}

// renderBatch materializes one batch of recipe cards from the pool. It runs
// on a scheduler tick; the UI observes the result when the batch event
// arrives on the bus.
func (m *demoModel) renderBatch(items []any, batchIndex, totalBatches int) {
	for _, item := range items {
		r, ok := item.(components.Recipe)
		if !ok {
			continue
		}
		m.mgr.WithTiming("card.create", func() {
			w := m.cards.Acquire()
			if card, ok := w.(*components.RecipeCard); ok {
				card.SetRecipe(r)
			}
		})
	}
}

func (m *demoModel) Init() tea.Cmd {
	items := make([]any, len(m.recipes))
	for i, r := range m.recipes {
		items[i] = r
	}
	m.mgr.StartRendering(rendererName, items)
	return m.waitForEvent()
}

// waitForEvent delivers the next core notification as a tea.Msg.
func (m *demoModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.busCh
		if !ok {
			return nil
		}
		return coreEvent{e: e}
	}
}

func (m *demoModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.prog.Width = msg.Width - 8
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.busCancel()
			return m, tea.Quit
		case "r":
			// Recycle every card and run the grid again.
			m.cards.ReleaseAll()
			m.done = false
			m.fraction = 0
			if r, ok := m.mgr.Renderer(rendererName); ok {
				r.Clear()
			}
			return m, m.Init()
		case "p":
			if r, ok := m.mgr.Renderer(rendererName); ok {
				switch r.State() {
				case render.Rendering:
					r.Pause()
				case render.Paused:
					r.Resume()
				}
			}
			return m, nil
		case "c":
			m.mgr.StopRendering(rendererName)
			return m, nil
		}

	case coreEvent:
		switch msg.e.Kind {
		case events.RenderProgress:
			m.fraction = msg.e.Fraction
		case events.RenderCompleted:
			m.done = true
		case events.PerformanceWarning:
			m.warnings = append(m.warnings,
				fmt.Sprintf("%s took %v (budget %v)", msg.e.Source, msg.e.Duration, msg.e.Threshold))
			if len(m.warnings) > 3 {
				m.warnings = m.warnings[len(m.warnings)-3:]
			}
		}
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m *demoModel) View() string {
	var b strings.Builder

	header := lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("mise · recipe grid · %d cards", len(m.recipes)))
	b.WriteString(header)
	b.WriteString("\n\n")

	cardWidth := 34
	perRow := m.width / cardWidth
	if perRow < 1 {
		perRow = 1
	}
	var row []string
	for _, w := range m.container.Widgets() {
		row = append(row, w.Render(cardWidth))
		if len(row) == perRow {
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
			b.WriteString("\n")
			row = nil
		}
	}
	if len(row) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.prog.ViewAs(m.fraction))
	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

// footer renders the live pool and metrics summary plus any recent
// performance warnings.
func (m *demoModel) footer() string {
	s := m.mgr.Summary()

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warn := lipgloss.NewStyle().Foreground(lipgloss.Color("#F44336"))

	var b strings.Builder
	if ps, ok := s.Pools[cardPoolName]; ok {
		b.WriteString(dim.Render(fmt.Sprintf(
			"pool: %d created · %d reused · %d idle · %d in use",
			ps.Created, ps.Reused, ps.IdleCount, ps.InUseCount)))
		b.WriteString("\n")
	}
	if row, ok := s.Metrics["card.create"]; ok {
		b.WriteString(dim.Render(fmt.Sprintf(
			"card.create: %d calls · avg %.2fms · max %.2fms",
			row.Calls, row.AvgMs, row.MaxMs)))
		b.WriteString("\n")
	}
	b.WriteString(dim.Render(fmt.Sprintf(
		"heap: %.1f MiB · tracked: %d",
		float64(s.Memory.HeapAllocBytes)/(1024*1024), s.Memory.TrackedObjects)))
	b.WriteString("\n")
	for _, w := range m.warnings {
		b.WriteString(warn.Render("⚠ " + w))
		b.WriteString("\n")
	}

	status := "rendering"
	if m.done {
		status = "done"
	}
	b.WriteString(dim.Render(fmt.Sprintf(
		"[%s] q quit · r re-render · p pause/resume · c cancel", status)))
	return b.String()
}

// sampleRecipes fabricates n plausible recipes for the demonstration grid.
func sampleRecipes(n int) []components.Recipe {
	base := []components.Recipe{
		{Title: "Mushroom Risotto", Tags: []string{"dinner", "vegetarian"}, Servings: 4, PrepMin: 45},
		{Title: "Shakshuka", Tags: []string{"breakfast", "eggs"}, Servings: 2, PrepMin: 30},
		{Title: "Beef Rendang", Tags: []string{"dinner", "spicy"}, Servings: 6, PrepMin: 180},
		{Title: "Caesar Salad", Tags: []string{"lunch", "salad"}, Servings: 2, PrepMin: 15},
		{Title: "Pad Thai", Tags: []string{"dinner", "noodles"}, Servings: 2, PrepMin: 25},
		{Title: "Banana Bread", Tags: []string{"baking", "snack"}, Servings: 8, PrepMin: 70},
		{Title: "Miso Ramen", Tags: []string{"dinner", "soup"}, Servings: 2, PrepMin: 40},
		{Title: "Greek Yogurt Bowl", Tags: []string{"breakfast"}, Servings: 1, PrepMin: 5},
	}
	out := make([]components.Recipe, n)
	for i := range out {
		r := base[i%len(base)]
		if i >= len(base) {
			r.Title = fmt.Sprintf("%s #%d", r.Title, i/len(base)+1)
		}
		out[i] = r
	}
	return out
}
