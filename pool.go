package fastexport

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ProcessPool bounds how many importer subprocesses are alive at once.
// Every committed transaction touches its repository in the pool; once
// the bound is reached the least-recently-used importer is closed
// cleanly (checkpoint, drain, exit) to make room. A closed importer is
// restarted transparently the next time its repository is driven.
//
// The pool inherits the engine's single-threaded contract, so it uses
// the lock-free simplelru variant and runs evictions synchronously on
// the caller.
type ProcessPool struct {
	procs *simplelru.LRU[string, *fastImportRepository]
}

// defaultPool serves every repository whose Options carry no explicit
// pool, mirroring the bound a single conversion process is expected to
// stay under.
var defaultPool = NewProcessPool(maxOpenProcesses)

// NewProcessPool builds a pool holding at most maxOpen live importers.
// Values that make no sense fall back to the package default.
func NewProcessPool(maxOpen int) *ProcessPool {
	if maxOpen <= 0 {
		maxOpen = maxOpenProcesses
	}
	procs, _ := simplelru.NewLRU(maxOpen, func(_ string, r *fastImportRepository) {
		r.closeFastImport()
	})
	return &ProcessPool{procs: procs}
}

// touch marks r as most recently used, evicting (and cleanly closing)
// the oldest importers as needed to stay within the bound.
func (p *ProcessPool) touch(r *fastImportRepository) {
	p.procs.Add(r.name, r)
}

// forget drops r from the pool, closing its importer through the
// eviction path.
func (p *ProcessPool) forget(r *fastImportRepository) {
	p.procs.Remove(r.name)
}

// Len reports how many importers the pool currently tracks.
func (p *ProcessPool) Len() int {
	return p.procs.Len()
}
