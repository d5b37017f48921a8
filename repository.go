package fastexport

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// branch is one head's history inside a repository: the revision it was
// (last) created at, plus parallel vectors of the SVN revisions and
// fast-import marks recorded on it. A mark of 0 marks a creation or
// deletion entry rather than a commit.
type branch struct {
	created int
	commits []int
	marks   []int
}

func (b *branch) lastMark() int {
	if len(b.marks) == 0 {
		return 0
	}
	return b.marks[len(b.marks)-1]
}

// annotatedTag is one pending annotated tag, accumulated until
// FinalizeTags flushes the whole set.
type annotatedTag struct {
	supportingRef string
	svnprefix     string
	author        string
	log           []byte
	timestamp     int64
	revnum        int
}

// fastImportRepository is the emitting Repository implementation: it
// owns one target Git repository, the importer subprocess feeding it,
// and the two mark counters whose ranges must never meet.
type fastImportRepository struct {
	name string
	opts Options
	log  *logrus.Logger
	pool *ProcessPool

	branches      map[string]*branch
	annotatedTags map[string]*annotatedTag
	tagOrder      []string

	commitCount             int
	outstandingTransactions int

	// lastCommitMark counts up from 0 (or from the resume point).
	lastCommitMark int

	// nextFileMark counts down from maxMark and snaps back once no
	// transactions are outstanding.
	nextFileMark int

	fi fastImport
}

var _ Repository = (*fastImportRepository)(nil)

// newFastImportRepository builds the repository for rule, creating the
// bare Git directory and an empty marks file on first contact unless
// the run is a dry run.
func newFastImportRepository(rule Rule, o Options) (*fastImportRepository, error) {
	r := &fastImportRepository{
		name:          rule.Name,
		opts:          o,
		log:           o.Logger,
		pool:          o.Pool,
		branches:      make(map[string]*branch),
		annotatedTags: make(map[string]*annotatedTag),
		nextFileMark:  maxMark,
	}
	for _, b := range rule.Branches {
		r.branches[b] = &branch{}
	}
	// The default branch always exists.
	r.branch("master").created = 1

	if !o.DryRun {
		if _, err := os.Stat(r.name); os.IsNotExist(err) {
			r.log.Debugf("Creating new repository %s", r.name)
			if err := os.MkdirAll(r.name, 0o777); err != nil {
				return nil, fmt.Errorf("repository %s: %w", r.name, err)
			}
			init := exec.Command("git", "--bare", "init")
			init.Dir = r.name
			if out, err := init.CombinedOutput(); err != nil {
				return nil, fmt.Errorf("repository %s: git --bare init: %w (%s)", r.name, err, strings.TrimSpace(string(out)))
			}
			if err := os.WriteFile(marksFilePath(r.name), nil, 0o644); err != nil {
				return nil, fmt.Errorf("repository %s: %w", r.name, err)
			}
		}
	}
	return r, nil
}

// branch returns the named branch's state, creating an empty record on
// first reference. An empty record reads as "never created".
func (r *fastImportRepository) branch(name string) *branch {
	br, ok := r.branches[name]
	if !ok {
		br = &branch{}
		r.branches[name] = br
	}
	return br
}

// branchRef qualifies a branch name into a full ref, leaving names that
// already carry a refs/ prefix alone.
func branchRef(name string) string {
	if strings.HasPrefix(name, "refs/") {
		return name
	}
	return "refs/heads/" + name
}

// markFrom resolves the mark of the newest commit on branchFrom that is
// not newer than branchRevNum.
//
// It returns -1 for a branch that was never created or has no recorded
// history (a hard error for branch creation), and 0 when the branch
// exists but had no commit at or before branchRevNum. When desc points
// at a non-empty string, the resolution is described into it: " at
// r<rev>", plus " => r<closest>" when the nearest recorded revision is
// an older one.
func (r *fastImportRepository) markFrom(branchFrom string, branchRevNum int, desc *string) int {
	br := r.branch(branchFrom)
	if br.created == 0 || len(br.commits) == 0 {
		return -1
	}

	// First entry strictly newer than branchRevNum; duplicates of
	// branchRevNum itself all land before it.
	i := sort.SearchInts(br.commits, branchRevNum+1)
	if i == 0 {
		return 0
	}
	closest := br.commits[i-1]
	if desc != nil && *desc != "" {
		*desc += fmt.Sprintf(" at r%d", branchRevNum)
		if closest != branchRevNum {
			*desc += fmt.Sprintf(" => r%d", closest)
		}
	}
	return br.marks[i-1]
}

// CreateBranch emits the reset that brings branch into existence as of
// revnum, anchored to branchFrom's state at revFrom.
func (r *fastImportRepository) CreateBranch(branchName string, revnum int, branchFrom string, revFrom int) error {
	if err := r.startFastImport(); err != nil {
		return err
	}

	desc := "from branch " + branchFrom
	mark := r.markFrom(branchFrom, revFrom, &desc)
	if mark == -1 {
		r.log.Errorf("%s in repository %s is branching from branch %s but the latter doesn't exist. Can't continue.",
			branchName, r.name, branchFrom)
		return fmt.Errorf("repository %s: branch %s from %s: %w", r.name, branchName, branchFrom, ErrUnknownAncestor)
	}

	resetTo := fmt.Sprintf(":%d", mark)
	if mark == 0 {
		r.log.Warnf("%s in repository %s is branching but no exported commits exist in repository, creating an empty branch.",
			branchName, r.name)
		resetTo = branchRef(branchFrom)
		desc += ", deleted/unknown"
	}

	r.log.Debugf("Creating branch: %s from %s (r%d %s)", branchName, branchFrom, revFrom, desc)

	// The resolved mark only anchors the reset target; the registry and
	// the progress log record branch events as mark 0.
	return r.resetBranch(branchName, revnum, 0, resetTo, desc)
}

// DeleteBranch resets branch to the null object ID, retiring it.
func (r *fastImportRepository) DeleteBranch(branchName string, revnum int) error {
	if err := r.startFastImport(); err != nil {
		return err
	}
	return r.resetBranch(branchName, revnum, 0, strings.Repeat("0", 40), "delete")
}

// resetBranch re-points a branch ref, saving the previous state under
// refs/backups first whenever real commits would otherwise become
// unreachable, and records the event in the registry and the progress
// log.
func (r *fastImportRepository) resetBranch(branchName string, revnum, mark int, resetTo, comment string) error {
	ref := branchRef(branchName)

	br := r.branch(branchName)
	if br.created != 0 && br.created != revnum && br.lastMark() != 0 {
		tail := strings.TrimPrefix(ref, "refs/heads")
		if tail == ref {
			tail = strings.TrimPrefix(ref, "refs")
		}
		backupBranch := fmt.Sprintf("refs/backups/r%d%s", revnum, tail)
		r.log.Warnf("backing up branch %s to %s", branchName, backupBranch)
		r.fi.w.writef("reset %s\nfrom %s\n\n", backupBranch, ref)
	}

	br.created = revnum
	br.commits = append(br.commits, revnum)
	br.marks = append(br.marks, mark)

	r.fi.w.writef("reset %s\nfrom %s\n\nprogress SVN r%d branch %s = :%d # %s\n\n",
		ref, resetTo, revnum, branchName, mark, comment)
	return r.fi.w.err
}

// NewTransaction opens one logical commit on branchName at revnum,
// starting the importer if needed and checkpointing every
// CommitInterval transactions.
func (r *fastImportRepository) NewTransaction(branchName, svnprefix string, revnum int) (Transaction, error) {
	if err := r.startFastImport(); err != nil {
		return nil, err
	}
	if _, ok := r.branches[branchName]; !ok {
		r.log.Warnf("%s is not a known branch in repository %s; going to create it automatically", branchName, r.name)
	}

	r.commitCount++
	if r.commitCount%r.opts.CommitInterval == 0 {
		// Ask the importer to flush marks to disk so a crash loses at
		// most one interval of work.
		r.fi.w.writef("checkpoint\n")
		r.log.Debugf("checkpoint! marks file flushed for %s", r.name)
	}
	r.outstandingTransactions++

	return &fastImportTransaction{
		repository: r,
		branch:     branchName,
		svnprefix:  svnprefix,
		revnum:     revnum,
	}, nil
}

// forgetTransaction releases one transaction's hold on the blob-mark
// range. Once nothing is outstanding the descending counter snaps back
// to the top of the range.
func (r *fastImportRepository) forgetTransaction() {
	r.outstandingTransactions--
	if r.outstandingTransactions == 0 {
		r.nextFileMark = maxMark
	}
}

// CreateAnnotatedTag records (or redefines) an annotated tag; nothing
// reaches the importer until FinalizeTags.
func (r *fastImportRepository) CreateAnnotatedTag(ref, svnprefix string, revnum int, author string, timestamp int64, log []byte) {
	tagName := strings.TrimPrefix(ref, "refs/tags/")
	if _, ok := r.annotatedTags[tagName]; !ok {
		r.log.Infof("Creating annotated tag %s (%s)", tagName, ref)
		r.tagOrder = append(r.tagOrder, tagName)
	} else {
		r.log.Infof("Re-creating annotated tag %s", tagName)
	}
	r.annotatedTags[tagName] = &annotatedTag{
		supportingRef: ref,
		svnprefix:     svnprefix,
		revnum:        revnum,
		author:        author,
		log:           log,
		timestamp:     timestamp,
	}
}

// FinalizeTags emits every recorded annotated tag and waits for the
// importer to drain. A write failure here is fatal to the run.
func (r *fastImportRepository) FinalizeTags() error {
	if len(r.annotatedTags) == 0 {
		return nil
	}

	r.log.Infof("Finalising tags for %s...", r.name)
	if err := r.startFastImport(); err != nil {
		return err
	}

	for _, tagName := range r.tagOrder {
		tag := r.annotatedTags[tagName]

		message := append([]byte(nil), tag.log...)
		if len(message) == 0 || message[len(message)-1] != '\n' {
			message = append(message, '\n')
		}
		if r.opts.AddMetadata {
			message = append(message, fmt.Sprintf("\nsvn path=%s; revision=%d\n", tag.svnprefix, tag.revnum)...)
		}

		ref := branchRef(tag.supportingRef)
		r.fi.w.writef("progress Creating annotated tag %s from ref %s\ntag %s\nfrom %s\ntagger %s %d -0000\ndata %d\n",
			tagName, ref, tagName, ref, tag.author, tag.timestamp, len(message))
		r.fi.w.write(message)
		r.fi.w.writef("\n")
		if err := r.fi.w.flush(); err != nil {
			return fmt.Errorf("repository %s: failed to write to importer: %w", r.name, err)
		}
		r.log.Debugf("tagged %s", tagName)
	}

	if err := r.fi.w.flush(); err != nil {
		return fmt.Errorf("repository %s: failed to write to importer: %w", r.name, err)
	}
	return nil
}

// Close shuts the importer down cleanly. Open transactions make a clean
// shutdown impossible and are reported instead of being flushed
// half-built.
func (r *fastImportRepository) Close() error {
	if r.outstandingTransactions != 0 {
		return fmt.Errorf("repository %s: %d %w", r.name, r.outstandingTransactions, ErrTransactionsOutstanding)
	}
	if r.pool != nil {
		r.pool.forget(r)
	}
	r.closeFastImport()
	return nil
}
