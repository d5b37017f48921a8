package fastexport

import (
	"io"

	"github.com/sirupsen/logrus"
)

// defaultCommitInterval is how many transactions pass between importer
// checkpoints when Options.CommitInterval is zero.
const defaultCommitInterval = 10000

// Options carries the conversion-wide configuration the command-line
// layer resolves before any repository is built. The zero value is
// usable; withDefaults fills in the rest.
type Options struct {
	// DryRun substitutes cat for git-fast-import, skips creating the
	// target repository and its marks file, and suppresses blob
	// headers. The log file still receives the protocol echo.
	DryRun bool

	// AddMetadata appends an "svn path=<prefix>; revision=<n>" trailer
	// to every commit and tag message.
	AddMetadata bool

	// CommitInterval is the checkpoint cadence in transactions per
	// repository. Zero means defaultCommitInterval.
	CommitInterval int

	// Logger receives warnings, diagnostics and progress chatter. Nil
	// means a quiet logger.
	Logger *logrus.Logger

	// Pool bounds the live importer subprocesses. Nil means the
	// process-wide default pool, which every repository without an
	// explicit pool shares.
	Pool *ProcessPool

	// importerArgv overrides the importer command line. Tests use it to
	// capture the full wire stream through cat.
	importerArgv []string
}

// withDefaults returns a copy of o with every unset field resolved.
// A nil receiver behaves like the zero Options.
func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.CommitInterval <= 0 {
		out.CommitInterval = defaultCommitInterval
	}
	if out.Logger == nil {
		out.Logger = quietLogger()
	}
	if out.Pool == nil {
		out.Pool = defaultPool
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
