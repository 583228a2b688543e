package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

// defaultCommandTimeout bounds run_command executions without an explicit
// timeout argument.
const defaultCommandTimeout = 30 * time.Second

// maxSearchResults caps search_code output.
const maxSearchResults = 50

var languageByExt = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".c": "c", ".cpp": "cpp", ".rs": "rust", ".rb": "ruby",
	".sh": "bash", ".md": "markdown", ".json": "json", ".yaml": "yaml",
	".yml": "yaml", ".html": "html", ".css": "css", ".sql": "sql",
}

// fileAnalysis is the result shape of the analyze_file tool.
type fileAnalysis struct {
	Path            string  `json:"path"`
	Lines           int     `json:"lines"`
	Language        string  `json:"language"`
	ComplexityScore float64 `json:"complexity_score"`
	SizeBytes       int64   `json:"size_bytes"`
	LastModified    string  `json:"last_modified"`
}

func analyzeFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := len(strings.Split(string(content), "\n"))
	language, ok := languageByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		language = "unknown"
	}

	score := float64(lines) / 100.0
	if score > 10 {
		score = 10
	}
	for _, marker := range []string{"class ", "func ", "def ", "function "} {
		if strings.Contains(string(content), marker) {
			score++
		}
	}

	analysis := fileAnalysis{
		Path:            path,
		Lines:           lines,
		Language:        language,
		ComplexityScore: score,
		SizeBytes:       info.Size(),
		LastModified:    info.ModTime().Format(time.RFC3339),
	}

	out, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// commandResult is the result shape of the run_command tool.
type commandResult struct {
	Command  string  `json:"command"`
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	Duration float64 `json:"duration_seconds"`
	Dir      string  `json:"dir"`
}

func runCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is required")
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return "", fmt.Errorf("failed to run command: %w", runErr)
	}

	dir, _ := os.Getwd()
	result := commandResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed.Seconds(),
		Dir:      dir,
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// searchMatch is one file's matches in search_code output.
type searchMatch struct {
	File    string   `json:"file"`
	Matches []string `json:"matches"`
}

func searchCode(root, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if root == "" {
		root = "."
	}

	var (
		results []searchMatch
		total   int
	)

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if total >= maxSearchResults {
			return filepath.SkipAll
		}

		content, err := os.ReadFile(path)
		if err != nil || bytes.ContainsRune(content, 0) {
			// Unreadable or binary; skip.
			return nil
		}

		var matches []string
		for _, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				matches = append(matches, strings.TrimSpace(line))
				total++
				if total >= maxSearchResults {
					break
				}
			}
		}
		if len(matches) > 0 {
			results = append(results, searchMatch{File: path, Matches: matches})
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("search failed: %w", walkErr)
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// listProjectFiles renders the file-listing resource content.
func listProjectFiles(root string) (string, error) {
	if root == "" {
		root = "."
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", err
	}

	return strings.Join(files, "\n"), nil
}
