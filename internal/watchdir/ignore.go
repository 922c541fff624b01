package watchdir

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the optional per-directory rules file, gitignore
// syntax, loaded from the root of the watched directory.
const IgnoreFileName = ".pixrelayignore"

var defaultIgnoreLines = []string{
	// pixrelay
	IgnoreFileName,
	// partial transfers
	"*.tmp",
	"*.part",
	"*.partial",
	"*.crdownload",
	"*.download",
	// VCS
	".git",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

type ignoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func newIgnoreList(baseDir string) *ignoreList {
	return &ignoreList{baseDir: baseDir}
}

// Load compiles the default rules plus the watched dir's ignore file,
// if present. Loading never fails: a broken rules file degrades to the
// defaults.
func (l *ignoreList) Load() {
	ignorePath := filepath.Join(l.baseDir, IgnoreFileName)
	ignoreLines := defaultIgnoreLines

	if file, err := os.Open(ignorePath); err == nil {
		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				ignoreLines = append(ignoreLines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("watchdir ignore file read", "path", ignorePath, "error", err)
		} else {
			slog.Info("watchdir ignore file loaded", "path", ignorePath, "rules", rules)
		}
		file.Close()
	}

	l.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// Match reports whether the path, relative to the watched dir, is
// excluded from uploading.
func (l *ignoreList) Match(relPath string) bool {
	if l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(relPath)
}
