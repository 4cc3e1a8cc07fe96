package rest

import (
	"sync"

	"github.com/zacharyburnett/matrixci/internal/parser"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// workflowSet is the server's view of the workflow directory. A reload
// swaps the whole set; readers always see a consistent snapshot.
type workflowSet struct {
	dir    string
	parser *parser.YAMLParser

	mu        sync.RWMutex
	workflows []*types.Workflow
	errs      []error
}

func newWorkflowSet(dir string) *workflowSet {
	return &workflowSet{
		dir:    dir,
		parser: parser.NewYAMLParser(),
	}
}

// load parses the workflow directory and replaces the current set. Files
// that fail to parse are reported without dropping the rest.
func (s *workflowSet) load() (int, []error) {
	if s.dir == "" {
		return 0, nil
	}
	workflows, errs := s.parser.ParseDir(s.dir)
	s.mu.Lock()
	s.workflows = workflows
	s.errs = errs
	s.mu.Unlock()
	return len(workflows), errs
}

// list returns the loaded workflows.
func (s *workflowSet) list() []*types.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*types.Workflow(nil), s.workflows...)
}

// count returns the number of loaded workflows.
func (s *workflowSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// loadErrors returns the parse errors from the last load.
func (s *workflowSet) loadErrors() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]error(nil), s.errs...)
}
