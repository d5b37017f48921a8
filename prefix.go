package fastexport

import "io"

// prefixingRepository folds many SVN paths into one Git repository: it
// delegates every operation to the underlying repository, rewriting
// file paths with a fixed prefix on the way through. It owns nothing;
// resume, tag finalization and shutdown are the inner repository's
// business, and the outer conversion loop drives them there directly.
type prefixingRepository struct {
	repo   Repository
	prefix string
}

var _ Repository = (*prefixingRepository)(nil)

func (p *prefixingRepository) SetupIncremental(*int) (int, error) { return 1, nil }
func (p *prefixingRepository) RestoreLog() error                  { return nil }

func (p *prefixingRepository) CreateBranch(branch string, revnum int, branchFrom string, revFrom int) error {
	return p.repo.CreateBranch(branch, revnum, branchFrom, revFrom)
}

func (p *prefixingRepository) DeleteBranch(branch string, revnum int) error {
	return p.repo.DeleteBranch(branch, revnum)
}

func (p *prefixingRepository) NewTransaction(branch, svnprefix string, revnum int) (Transaction, error) {
	txn, err := p.repo.NewTransaction(branch, svnprefix, revnum)
	if err != nil {
		return nil, err
	}
	return &prefixingTransaction{txn: txn, prefix: p.prefix}, nil
}

func (p *prefixingRepository) CreateAnnotatedTag(ref, svnprefix string, revnum int, author string, timestamp int64, log []byte) {
	p.repo.CreateAnnotatedTag(ref, svnprefix, revnum, author, timestamp, log)
}

func (p *prefixingRepository) FinalizeTags() error { return nil }
func (p *prefixingRepository) Close() error        { return nil }

// prefixingTransaction rewrites the path arguments of file operations
// and passes everything else through untouched.
type prefixingTransaction struct {
	txn    Transaction
	prefix string
}

var _ Transaction = (*prefixingTransaction)(nil)

func (t *prefixingTransaction) SetAuthor(author string)     { t.txn.SetAuthor(author) }
func (t *prefixingTransaction) SetDateTime(timestamp int64) { t.txn.SetDateTime(timestamp) }
func (t *prefixingTransaction) SetLog(log []byte)           { t.txn.SetLog(log) }

func (t *prefixingTransaction) NoteCopyFromBranch(branchFrom string, revFrom int) {
	t.txn.NoteCopyFromBranch(branchFrom, revFrom)
}

func (t *prefixingTransaction) DeleteFile(path string) {
	t.txn.DeleteFile(t.prefix + path)
}

func (t *prefixingTransaction) AddFile(path string, mode int, length int64) (io.Writer, error) {
	return t.txn.AddFile(t.prefix+path, mode, length)
}

func (t *prefixingTransaction) Commit() error { return t.txn.Commit() }
func (t *prefixingTransaction) Discard()      { t.txn.Discard() }
