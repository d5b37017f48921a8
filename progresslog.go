package fastexport

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// progressLine matches the one record per committed revision that the
// engine writes into the importer's log:
//
//	progress SVN r<rev> branch <name> = :<mark>
//
// Other progress lines (branch reloads, tag announcements) deliberately
// do not match and are skipped on replay. Trailing "# ..." comments are
// stripped before matching.
var progressLine = regexp.MustCompile(`^progress SVN r(\d+) branch (.*) = :(\d+)$`)

// sanitized flattens a repository name into a single path component so
// repositories living in subdirectories still get a working-directory
// local log file and a marks file directly inside the repository
// directory.
func sanitized(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// marksFileName is the marks file name relative to the repository
// directory; the importer is handed this relative form because it runs
// with the repository as its working directory.
func marksFileName(name string) string {
	return "marks-" + sanitized(name)
}

// marksFilePath is the marks file path relative to the conversion's
// working directory.
func marksFilePath(name string) string {
	return filepath.Join(name, marksFileName(name))
}

// logFileName is the progress-log path relative to the conversion's
// working directory. The file doubles as the importer's merged
// stdout+stderr.
func logFileName(name string) string {
	return "log-" + sanitized(name)
}

// copyFile duplicates src to dst, replacing dst. Used to back the
// progress log up before a resume truncates it.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
