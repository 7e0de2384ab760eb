package output

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/vodgrab/vodgrab/internal/utils"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))  // dark green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))  // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // grey
)

var styleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"pending": "◉",
}

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}
func PrintError(text string) {
	fmt.Println(errorStyle.Render(text))
}
func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}
func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}

type jobStatus struct {
	Name          string
	Message       string
	TotalSegments int
	DoneSegments  int
	Bytes         int64
	Complete      bool
	Failure       string
	StartTime     time.Time
}

// Manager renders a live multi-job segment progress display. All updates
// come from scheduler workers; rendering happens on its own ticker.
type Manager struct {
	mu          sync.RWMutex
	jobs        map[string]*jobStatus
	order       []string
	numLines    int
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		jobs:        make(map[string]*jobStatus),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[name]; exists {
		return
	}
	m.jobs[name] = &jobStatus{Name: name, Message: "waiting", StartTime: time.Now()}
	m.order = append(m.order, name)
}

func (m *Manager) SetMessage(name, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[name]; exists {
		job.Message = message
	}
}

// SetTotal reports how many segments the job will download this run.
func (m *Manager) SetTotal(name string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[name]; exists {
		job.TotalSegments = total
		job.Message = "downloading"
	}
}

func (m *Manager) Advance(name string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[name]; exists {
		job.DoneSegments++
		job.Bytes += bytes
	}
}

func (m *Manager) Complete(name, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[name]; exists {
		job.Complete = true
		job.Message = message
	}
}

func (m *Manager) Fail(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[name]; exists {
		job.Complete = true
		job.Failure = err.Error()
	}
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.render()
			case <-m.doneCh:
				m.render()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) render() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.numLines != 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 40 {
		width = w
	}
	for _, name := range m.order {
		job := m.jobs[name]
		line := formatJobLine(job, width)
		fmt.Println(line)
	}
	m.numLines = len(m.order)
}

func formatJobLine(job *jobStatus, width int) string {
	name := job.Name
	if len(name) > 30 {
		name = "..." + name[len(name)-27:]
	}
	switch {
	case job.Complete && job.Failure != "":
		return errorStyle.Render(fmt.Sprintf("%s %s: %s", styleSymbols["fail"], name, job.Failure))
	case job.Complete:
		return successStyle.Render(fmt.Sprintf("%s %s: %s (%s)", styleSymbols["pass"], name, job.Message, utils.FormatBytes(uint64(job.Bytes))))
	case job.TotalSegments == 0:
		return pendingStyle.Render(fmt.Sprintf("%s %s: %s", styleSymbols["pending"], name, job.Message))
	}
	barWidth := min(30, width-50)
	if barWidth < 10 {
		barWidth = 10
	}
	filled := 0
	if job.TotalSegments > 0 {
		filled = job.DoneSegments * barWidth / job.TotalSegments
	}
	bar := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]"
	counts := fmt.Sprintf("%d/%d segments %s", job.DoneSegments, job.TotalSegments, utils.FormatBytes(uint64(job.Bytes)))
	return pendingStyle.Render(fmt.Sprintf("%s %s: %s %s", styleSymbols["pending"], name, bar, counts)) +
		detailStyle.Render(fmt.Sprintf("  %s", time.Since(job.StartTime).Round(time.Second)))
}

// ShowSummary prints one line per job after the display stops.
func (m *Manager) ShowSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var totalBytes int64
	failed := 0
	for _, job := range m.jobs {
		totalBytes += job.Bytes
		if job.Failure != "" {
			failed++
		}
	}
	fmt.Println()
	if failed > 0 {
		PrintWarning(fmt.Sprintf("Jobs: %d (%d failed), Total Data: %s", len(m.jobs), failed, utils.FormatBytes(uint64(totalBytes))))
		return
	}
	PrintSuccess(fmt.Sprintf("Jobs: %d, Total Data: %s", len(m.jobs), utils.FormatBytes(uint64(totalBytes))))
}
