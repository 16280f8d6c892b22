package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 40

// ConsoleOutput renders interactive status lines for a terminal.
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	errWriter     io.Writer
	showTimestamp bool
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes Info lines with a timestamp
	ShowTimestamp bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer

	// ErrWriter receives Error lines (default: os.Stderr)
	ErrWriter io.Writer
}

func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	c := &ConsoleOutput{
		writer:        config.Writer,
		errWriter:     config.ErrWriter,
		showTimestamp: config.ShowTimestamp,
	}
	if c.writer == nil {
		c.writer = os.Stdout
	}
	if c.errWriter == nil {
		c.errWriter = os.Stderr
	}
	return c
}

// DefaultConsoleOutput writes to stdout/stderr without timestamps.
func DefaultConsoleOutput() *ConsoleOutput {
	return NewConsoleOutput(ConsoleConfig{})
}

func bar(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	n := int(fraction * barWidth)
	return strings.Repeat("=", n) + strings.Repeat(" ", barWidth-n)
}

// WriteAudioLevel overwrites the current line with a level meter and the
// running recording time.
func (c *ConsoleOutput) WriteAudioLevel(level float64, elapsed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "\r● REC %02d:%02d [%s]", elapsed/60, elapsed%60, bar(level*4))
}

// WriteProgress overwrites the current line with upload progress.
func (c *ConsoleOutput) WriteProgress(label string, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "\r%s [%s] %3d%%", label, bar(float64(percent)/100), percent)
}

// Clear clears the current line
func (c *ConsoleOutput) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "\r%s\r", strings.Repeat(" ", barWidth+30))
}

func (c *ConsoleOutput) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.showTimestamp {
		fmt.Fprintf(c.writer, "[%s] %s\n", time.Now().Format("15:04:05"), msg)
		return
	}
	fmt.Fprintf(c.writer, "%s\n", msg)
}

func (c *ConsoleOutput) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.errWriter, "[ERROR] %s\n", msg)
}

// Status writes a transient message on the current line.
func (c *ConsoleOutput) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.writer, "\r[*] %s", msg)
}
