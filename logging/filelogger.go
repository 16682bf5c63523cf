package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	AllLogsFileName    = "all.log"
	SummaryFileName    = "summary.log"
	ResultsLogFileName = "results.log"
)

// FileLogger writes the output of one squish session to a run directory:
// every line to all.log, each process's lines to <source>.log, report
// entries to results.log and the end of run summary to summary.log.
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Directory of this run
	summaryFile  string                // Path to the summary file
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects concurrent file operations
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
	now          func() time.Time
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 256), // process output comes in bursts
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates the run directory <baseDir>/testrun-<runID>.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", logDir, err)
	}

	return &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		summaryFile:  filepath.Join(logDir, SummaryFileName),
		allLogsFile:  filepath.Join(logDir, AllLogsFileName),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
		now:          time.Now,
	}, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.asyncWriters == nil {
		return nil, fmt.Errorf("file logger for run %s is closed", l.runID)
	}
	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) write(path string, data string) error {
	writer, err := l.getAsyncWriter(path)
	if err != nil {
		return err
	}
	return writer.Write([]byte(data))
}

// LogLine records one line of process output. Colour codes are removed.
func (l *FileLogger) LogLine(source string, line string) error {
	clean := strings.TrimRight(stripansi.Strip(line), "\r\n")
	stamp := l.now().Format("15:04:05.000")
	if err := l.write(l.allLogsFile, fmt.Sprintf("%s [%s] %s\n", stamp, source, clean)); err != nil {
		return err
	}
	return l.write(l.SourceLogFile(source), fmt.Sprintf("%s %s\n", stamp, clean))
}

// LogResult records one report entry of a test case.
func (l *FileLogger) LogResult(item *types.ResultItem) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %s", strings.ToUpper(string(item.Type)), item.Text)
	if item.File != "" {
		fmt.Fprintf(&b, " (%s:%d)", item.File, item.Line)
	}
	b.WriteString("\n")
	if item.Details != "" {
		b.WriteString(indentText(item.Details, "         "))
		b.WriteString("\n")
	}
	return l.write(filepath.Join(l.logDir, ResultsLogFileName), b.String())
}

// LogSummary writes the summary of the run.
func (l *FileLogger) LogSummary(summary string) error {
	return l.write(l.summaryFile, summary)
}

// Complete flushes and closes every file of the run.
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	writers := l.asyncWriters
	l.asyncWriters = nil
	l.mu.Unlock()

	var firstErr error
	for _, writer := range writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetDirectoryForRunID returns the path for a specific runID
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if runID == l.runID {
		return l.logDir, nil
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// GetBaseDir returns the directory of this run
func (l *FileLogger) GetBaseDir() string {
	return l.logDir
}

func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

func (l *FileLogger) GetRunID() string {
	return l.runID
}

// SourceLogFile is the per process log of source, e.g. squishserver.log.
func (l *FileLogger) SourceLogFile(source string) string {
	return filepath.Join(l.logDir, safeFilename(source)+".log")
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	s = replacer.Replace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// indentText adds indentation to each line of text
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
