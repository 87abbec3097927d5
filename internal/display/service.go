package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// OutputFormat selects how structured results are rendered
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// Service renders backup and restore results to the terminal. All rendering
// flows through one writer so scripted output stays deterministic.
type Service struct {
	colors *ColorSystem
	writer io.Writer
	format OutputFormat
	width  int
}

// NewService creates a display service writing to stdout
func NewService(theme ColorTheme, format OutputFormat) *Service {
	return &Service{
		colors: NewColorSystem(theme),
		writer: os.Stdout,
		format: format,
		width:  terminalWidth(),
	}
}

// SetOutput redirects rendering to another writer
func (s *Service) SetOutput(writer io.Writer) {
	s.writer = writer
}

// Format returns the active output format
func (s *Service) Format() OutputFormat {
	return s.format
}

// PrintHeader renders a section header with an underline
func (s *Service) PrintHeader(title string) {
	fmt.Fprintln(s.writer)
	fmt.Fprintln(s.writer, s.colors.Colorize(title, s.colors.Theme().Highlight))
	fmt.Fprintln(s.writer, s.colors.Colorize(strings.Repeat("=", len(title)), s.colors.Theme().Muted))
}

// Success renders a success status line
func (s *Service) Success(message string) {
	fmt.Fprintln(s.writer, s.colors.Sprintf(s.colors.Theme().Success, "✓ %s", message))
}

// Warning renders a warning status line
func (s *Service) Warning(message string) {
	fmt.Fprintln(s.writer, s.colors.Sprintf(s.colors.Theme().Warning, "! %s", message))
}

// Error renders an error status line
func (s *Service) Error(message string) {
	fmt.Fprintln(s.writer, s.colors.Sprintf(s.colors.Theme().Error, "✗ %s", message))
}

// Info renders an informational status line
func (s *Service) Info(message string) {
	fmt.Fprintln(s.writer, s.colors.Sprintf(s.colors.Theme().Info, "• %s", message))
}

// PrintTable renders rows under aligned headers
func (s *Service) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var header strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&header, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(s.writer, s.colors.Colorize(strings.TrimRight(header.String(), " "), s.colors.Theme().Primary))

	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&line, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(s.writer, strings.TrimRight(line.String(), " "))
	}
}

// PrintJSON renders a value as indented JSON
func (s *Service) PrintJSON(value interface{}) error {
	encoder := json.NewEncoder(s.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// ShowProgress renders an in-place progress line. On non-terminal output the
// line is simply appended.
func (s *Service) ShowProgress(current, total int, message string) {
	if total <= 0 {
		return
	}
	percent := current * 100 / total
	line := fmt.Sprintf("[%d/%d] %d%% %s", current, total, percent, message)

	if s.colors.IsColorSupported() {
		fmt.Fprintf(s.writer, "\r%-*s", s.width, line)
		if current >= total {
			fmt.Fprintln(s.writer)
		}
		return
	}
	fmt.Fprintln(s.writer, line)
}

// FormatBytes renders a byte count in human-readable form
func FormatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

// terminalWidth returns the terminal width, or a conservative default
func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}
