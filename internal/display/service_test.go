package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(format OutputFormat) (*Service, *bytes.Buffer) {
	service := NewService(PlainTheme(), format)
	var buf bytes.Buffer
	service.SetOutput(&buf)
	return service, &buf
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		size     int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{5368709120, "5.0 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.size))
	}
}

func TestStatusLines(t *testing.T) {
	service, buf := testService(FormatTable)

	service.Success("backup verified")
	service.Warning("no baseline found")
	service.Error("checksum mismatch")
	service.Info("3 artifacts")

	output := buf.String()
	assert.Contains(t, output, "✓ backup verified")
	assert.Contains(t, output, "! no baseline found")
	assert.Contains(t, output, "✗ checksum mismatch")
	assert.Contains(t, output, "• 3 artifacts")
}

func TestPrintTableAlignsColumns(t *testing.T) {
	service, buf := testService(FormatTable)

	service.PrintTable(
		[]string{"JOB", "STATUS"},
		[][]string{
			{"hourly-incremental", "VERIFIED"},
			{"daily-full", "FAILED"},
		},
	)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	// Cells in one column start at the same offset.
	assert.Equal(t, strings.Index(lines[1], "VERIFIED"), strings.Index(lines[2], "FAILED"))
}

func TestPrintJSON(t *testing.T) {
	service, buf := testService(FormatJSON)

	require.NoError(t, service.PrintJSON(map[string]int{"deleted": 4}))
	assert.JSONEq(t, `{"deleted": 4}`, buf.String())
}

func TestPrintHeaderUnderlinesTitle(t *testing.T) {
	service, buf := testService(FormatTable)

	service.PrintHeader("Backup History")

	assert.Contains(t, buf.String(), "Backup History\n==============\n")
}
