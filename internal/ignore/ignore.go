// Package ignore reads gitignore-style files that exclude paths from
// directory ingestion.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseRoot reads all ignore files directly under root and returns the
// combined exclude patterns. If no ignore files are found, returns the
// fallback patterns.
func (p *Parser) ParseRoot(root string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		filePatterns, err := parseFile(filepath.Join(root, ignoreFile))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

// Load parses root's ignore files and compiles them.
func (p *Parser) Load(root string) (*Matcher, error) {
	patterns, err := p.ParseRoot(root)
	if err != nil {
		return nil, err
	}
	return Compile(patterns), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine parses a single line from a gitignore file.
// Returns empty string for comments and blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")

	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}

	// Negations are not supported.
	if strings.HasPrefix(line, "!") {
		return ""
	}

	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to the form Matcher expects:
// "**/" marks a pattern that may match at any depth and "/**" one that
// covers a directory and everything below it.
func toGlobPattern(pattern string) string {
	anchored := strings.HasPrefix(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")

	isDir := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	// A pattern with no inner slash matches at any depth unless anchored.
	if !anchored && !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "*") {
		pattern = "**/" + pattern
	}

	// Names without an extension are treated as directories.
	if isDir || (!strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(path.Base(pattern), ".")) {
		pattern += "/**"
	}

	return pattern
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))

	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}

// Matcher reports whether slash-separated paths relative to the ingestion
// root are excluded.
type Matcher struct {
	patterns []string
}

// Compile builds a matcher. Malformed patterns never match.
func Compile(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// Empty reports whether the matcher excludes nothing.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Match reports whether rel, a path relative to the root, is excluded.
func (m *Matcher) Match(rel string) bool {
	if m.Empty() {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	for _, pattern := range m.patterns {
		if matchPattern(pattern, rel) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, rel string) bool {
	anywhere := strings.HasPrefix(pattern, "**/")
	pattern = strings.TrimPrefix(pattern, "**/")

	candidates := []string{rel}
	if anywhere {
		candidates = suffixes(rel)
	}

	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		for _, c := range candidates {
			if matchPrefix(dir, c) {
				return true
			}
		}
		return false
	}

	// Bare globs such as "*.log" match the basename at any depth.
	if !strings.Contains(pattern, "/") {
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	for _, c := range candidates {
		if ok, _ := path.Match(pattern, c); ok {
			return true
		}
	}
	return false
}

// matchPrefix reports whether the leading components of rel match dir.
func matchPrefix(dir, rel string) bool {
	n := strings.Count(dir, "/") + 1
	parts := strings.Split(rel, "/")
	if len(parts) < n {
		return false
	}
	ok, _ := path.Match(dir, strings.Join(parts[:n], "/"))
	return ok
}

// suffixes returns rel and every tail of it starting at a component.
func suffixes(rel string) []string {
	out := []string{rel}
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' {
			out = append(out, rel[i+1:])
		}
	}
	return out
}
