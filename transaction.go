package fastexport

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
)

// maxParents is git's commit parent limit as this engine honors it: one
// implicit first parent plus up to fifteen merge lines. Overflowing
// merges are dropped with a warning; only artificial commits (cvs2svn
// output, mostly) ever get near the cap.
const maxParents = 16

// fastImportTransaction accumulates one logical commit. Blob payloads
// go straight to the importer as AddFile is called; everything else is
// buffered here until Commit emits the commit object in protocol order.
type fastImportTransaction struct {
	repository *fastImportRepository
	branch     string
	svnprefix  string
	author     string
	log        []byte
	datetime   int64
	revnum     int

	merges []int

	deletedFiles []string

	// modifiedFiles accumulates ready-made "M <mode> :<mark> <path>"
	// lines, exactly as they go over the wire.
	modifiedFiles bytes.Buffer

	released bool
}

var _ Transaction = (*fastImportTransaction)(nil)

func (t *fastImportTransaction) SetAuthor(author string)     { t.author = author }
func (t *fastImportTransaction) SetDateTime(timestamp int64) { t.datetime = timestamp }
func (t *fastImportTransaction) SetLog(log []byte)           { t.log = log }

// NoteCopyFromBranch records branchFrom@revFrom as a merge parent of
// this commit. Copies that cannot be resolved to an exported commit are
// dropped: the files themselves still arrive through AddFile, so the
// only loss is ancestry the repository never had.
func (t *fastImportTransaction) NoteCopyFromBranch(branchFrom string, revFrom int) {
	r := t.repository
	if t.branch == branchFrom {
		r.log.Warnf("Cannot merge inside a branch")
		return
	}

	mark := r.markFrom(branchFrom, revFrom, nil)
	switch {
	case mark == -1:
		r.log.Warnf("%s is copying from branch %s but the latter doesn't exist. Continuing, assuming the files exist.",
			t.branch, branchFrom)
	case mark == 0:
		r.log.Warnf("Unknown revision r%d. Continuing, assuming the files exist.", revFrom)
	default:
		r.log.Warnf("repository %s branch %s has some files copied from %s@r%d", r.name, t.branch, branchFrom, revFrom)
		if !slices.Contains(t.merges, mark) {
			t.merges = append(t.merges, mark)
			r.log.Debugf("adding %s@r%d :%d as a merge point", branchFrom, revFrom, mark)
		} else {
			r.log.Debugf("merge point already recorded")
		}
	}
}

// DeleteFile records a path deletion, stripping the single trailing
// slash directory deletions arrive with.
func (t *fastImportTransaction) DeleteFile(path string) {
	t.deletedFiles = append(t.deletedFiles, strings.TrimSuffix(path, "/"))
}

// blobSink streams one blob body into the importer. Once the declared
// length has passed through it terminates the blob with the newline the
// protocol wants between the payload and the next command.
type blobSink struct {
	w          *protocolWriter
	remaining  int64
	terminated bool
}

func (s *blobSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.remaining -= int64(n)
	if s.remaining <= 0 && !s.terminated {
		s.terminated = true
		s.w.write([]byte("\n"))
	}
	return n, err
}

// AddFile allocates a blob mark, records the modification line, emits
// the blob header, and returns the sink the caller streams exactly
// length payload bytes into. In dry-run mode the header (and the
// closing newline) are suppressed but the sink still swallows the
// payload, so callers behave identically either way.
func (t *fastImportTransaction) AddFile(path string, mode int, length int64) (io.Writer, error) {
	r := t.repository

	mark := r.nextFileMark
	r.nextFileMark--
	// The descending blob counter must never reach the ascending
	// commit counter.
	if mark <= r.lastCommitMark+1 {
		return nil, fmt.Errorf("repository %s: blob mark %d vs commit mark %d: %w",
			r.name, mark, r.lastCommitMark, ErrMarkSpaceExhausted)
	}

	fmt.Fprintf(&t.modifiedFiles, "M %o :%d %s\n", mode, mark, path)

	if r.opts.DryRun {
		return r.fi.w, r.fi.w.err
	}
	r.fi.w.writef("blob\nmark :%d\ndata %d\n", mark, length)
	sink := &blobSink{w: r.fi.w, remaining: length}
	if length <= 0 {
		// Empty blob: nothing will flow through the sink, terminate now.
		sink.terminated = true
		r.fi.w.write([]byte("\n"))
	}
	return sink, r.fi.w.err
}

// Commit emits the accumulated commit object and its closing progress
// record, then blocks until the importer has drained everything written
// so far. A write failure at that point is fatal to the run.
func (t *fastImportTransaction) Commit() error {
	if t.released {
		return ErrTransactionFinished
	}
	r := t.repository
	if r.pool != nil {
		r.pool.touch(r)
	}

	// A single SVN revision can touch several branches and thus produce
	// several commits in one repository, so the commit mark is its own
	// counter rather than the revision number.
	r.lastCommitMark++
	mark := r.lastCommitMark
	if mark >= r.nextFileMark-1 {
		return fmt.Errorf("repository %s: commit mark %d vs blob mark %d: %w",
			r.name, mark, r.nextFileMark, ErrMarkSpaceExhausted)
	}

	message := append([]byte(nil), t.log...)
	if len(message) == 0 || message[len(message)-1] != '\n' {
		message = append(message, '\n')
	}
	if r.opts.AddMetadata {
		message = append(message, fmt.Sprintf("\nsvn path=%s; revision=%d\n", t.svnprefix, t.revnum)...)
	}

	parentMark := 0
	br := r.branch(t.branch)
	if br.created != 0 && len(br.marks) > 0 {
		parentMark = br.lastMark()
	} else {
		r.log.Warnf("Branch %s in repository %s doesn't exist at revision %d -- did you resume from the wrong revision?",
			t.branch, r.name, t.revnum)
		br.created = t.revnum
	}
	br.commits = append(br.commits, t.revnum)
	br.marks = append(br.marks, mark)

	w := r.fi.w
	w.writef("commit %s\nmark :%d\ncommitter %s %d -0000\ndata %d\n",
		branchRef(t.branch), mark, t.author, t.datetime, len(message))
	w.write(message)
	w.writef("\n")

	// The branch tip threads the first parent implicitly (anchored by
	// the reset emitted at branch creation or reload), so only the
	// extra parents need merge lines.
	var desc strings.Builder
	parents := 0
	if parentMark != 0 {
		parents = 1
	}
	for _, merge := range t.merges {
		if merge == parentMark {
			r.log.Debugf("Skipping marking %d as a merge point as it matches the parent", merge)
			continue
		}
		parents++
		if parents > maxParents {
			r.log.Warnf("too many merge parents")
			break
		}
		fmt.Fprintf(&desc, " :%d", merge)
		w.writef("merge :%d\n", merge)
	}

	if slices.Contains(t.deletedFiles, "") {
		w.writef("deleteall\n")
	} else {
		for _, df := range t.deletedFiles {
			w.writef("D %s\n", df)
		}
	}

	w.write(t.modifiedFiles.Bytes())

	suffix := ""
	if desc.Len() > 0 {
		suffix = " # merge from" + desc.String()
	}
	w.writef("\nprogress SVN r%d branch %s = :%d%s\n\n", t.revnum, t.branch, mark, suffix)

	r.log.Debugf("r%d: %d deletions, %d bytes of modifications from SVN %s to %s/%s",
		t.revnum, len(t.deletedFiles), t.modifiedFiles.Len(), t.svnprefix, r.name, t.branch)

	if err := w.flush(); err != nil {
		return fmt.Errorf("repository %s: failed to write to importer: %w", r.name, err)
	}

	t.release()
	return nil
}

// Discard releases the transaction without committing. Blob headers
// already streamed leave orphan marks in the importer's marks file,
// which git ignores.
func (t *fastImportTransaction) Discard() {
	t.release()
}

func (t *fastImportTransaction) release() {
	if t.released {
		return
	}
	t.released = true
	t.repository.forgetTransaction()
}
