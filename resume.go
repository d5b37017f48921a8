// resume.go
//
// Incremental resumption. A conversion that was interrupted leaves two
// artifacts behind: the progress log this engine wrote (one record per
// committed revision) and the marks file the importer flushed on its
// own schedule. The two can disagree: the importer may have died after
// a progress record hit the log but before the corresponding mark was
// persisted. Resume trusts the marks file: any log record whose mark
// the importer never persisted marks the point history must be
// replayed from, and the log is truncated there (with a backup, so a
// failed run can roll back).

package fastexport

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SetupIncremental replays the progress log into the branch registry
// and mark counters, and returns the first SVN revision the conversion
// should process. Revisions at or beyond *cutoff, and revisions whose
// mark outran the marks file, cause the log to be truncated at that
// line; in the latter case *cutoff is lowered to the offending
// revision so every repository rewinds to the same point.
func (r *fastImportRepository) SetupIncremental(cutoff *int) (int, error) {
	logPath := logFileName(r.name)
	f, err := os.OpenFile(logPath, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("repository %s: open log: %w", r.name, err)
	}
	defer f.Close()

	lastValid := lastValidMark(r.name, r.log)
	bkup := logPath + ".old"

	br := bufio.NewReader(f)
	var lineStart, pos int64
	lastRevnum := 0

	for {
		lineStart = pos
		line, readErr := br.ReadString('\n')
		pos += int64(len(line))

		if raw := line; raw != "" {
			if hash := strings.IndexByte(raw, '#'); hash != -1 {
				raw = raw[:hash]
			}
			raw = strings.TrimSpace(raw)

			if m := progressLine.FindStringSubmatch(raw); m != nil {
				revnum, _ := strconv.Atoi(m[1])
				branchName := m[2]
				mark, _ := strconv.Atoi(m[3])

				if revnum >= *cutoff {
					return r.rewind(f, logPath, bkup, lineStart, *cutoff)
				}

				if revnum < lastRevnum {
					r.log.Warnf("%s: revision numbers are not monotonic: got %d and then %d", r.name, lastRevnum, revnum)
				}

				if mark > lastValid {
					r.log.Warnf("%s: unknown commit mark found: rewinding -- did you hit Ctrl-C?", r.name)
					*cutoff = revnum
					return r.rewind(f, logPath, bkup, lineStart, *cutoff)
				}

				lastRevnum = revnum

				if r.lastCommitMark < mark {
					r.lastCommitMark = mark
				}

				b := r.branch(branchName)
				if b.created == 0 || mark == 0 || len(b.marks) == 0 {
					// Record the earliest revision this branch appeared
					// at; re-stamped until its first real commit.
					b.created = revnum
				}
				b.commits = append(b.commits, revnum)
				b.marks = append(b.marks, mark)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("repository %s: read log: %w", r.name, readErr)
		}
	}

	retval := lastRevnum + 1
	if retval == *cutoff {
		// A stale backup from an older rewind would confuse
		// RestoreLog; this run replayed cleanly, so drop it.
		os.Remove(bkup)
	}
	return retval, nil
}

// rewind backs the whole log up to <log>.old, truncates the log just
// before the offending line, and reports the revision the conversion
// should restart from.
func (r *fastImportRepository) rewind(f *os.File, logPath, bkup string, lineStart int64, cutoff int) (int, error) {
	os.Remove(bkup)
	if err := copyFile(logPath, bkup); err != nil {
		return 0, fmt.Errorf("repository %s: back up log: %w", r.name, err)
	}

	r.log.Debugf("%s: truncating history to revision %d", r.name, cutoff)
	if err := f.Truncate(lineStart); err != nil {
		return 0, fmt.Errorf("repository %s: truncate log: %w", r.name, err)
	}
	return cutoff, nil
}

// RestoreLog rolls a rewound log back to its pre-truncation state by
// renaming the .old backup over it. Without a backup there is nothing
// to roll back and the call is a no-op.
func (r *fastImportRepository) RestoreLog() error {
	file := logFileName(r.name)
	bkup := file + ".old"
	if _, err := os.Stat(bkup); err != nil {
		return nil
	}
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repository %s: restore log: %w", r.name, err)
	}
	if err := os.Rename(bkup, file); err != nil {
		return fmt.Errorf("repository %s: restore log: %w", r.name, err)
	}
	return nil
}
