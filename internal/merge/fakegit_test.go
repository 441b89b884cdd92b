package merge

// fakeGitRunner implements git.Runner with overridable hooks for the
// validator pipeline tests; every method not explicitly stubbed returns a
// zero value and no error.
type fakeGitRunner struct {
	runFn             func(args ...string) (string, error)
	conflictedFilesFn func() ([]string, error)
	mergeAbortFn      func() error
	hasChangesFn      func() (bool, error)
	addFn             func(paths ...string) error
	commitFn          func(message string) error
	checkoutBranchFn  func(name string) error
	mergeNoFFFn       func(branch string) error
	mergeNoFFMsgFn    func(branch, message string) error
	deleteBranchFn    func(name string) error
}

func (f *fakeGitRunner) CurrentBranch() (string, error)          { return "main", nil }
func (f *fakeGitRunner) CreateBranch(name string) error           { return nil }
func (f *fakeGitRunner) CreateAndCheckoutBranch(name string) error { return nil }
func (f *fakeGitRunner) CheckoutBranch(name string) error {
	if f.checkoutBranchFn != nil {
		return f.checkoutBranchFn(name)
	}
	return nil
}
func (f *fakeGitRunner) BranchExists(name string) (bool, error) { return true, nil }
func (f *fakeGitRunner) DeleteBranch(name string) error {
	if f.deleteBranchFn != nil {
		return f.deleteBranchFn(name)
	}
	return nil
}
func (f *fakeGitRunner) Status() (string, error) { return "", nil }
func (f *fakeGitRunner) HasChanges() (bool, error) {
	if f.hasChangesFn != nil {
		return f.hasChangesFn()
	}
	return false, nil
}
func (f *fakeGitRunner) Diff(base string) (string, error)                        { return "", nil }
func (f *fakeGitRunner) DiffBetween(ref1, ref2 string) (string, error)           { return "", nil }
func (f *fakeGitRunner) ChangedFiles(base string) ([]string, error)              { return nil, nil }
func (f *fakeGitRunner) ChangedFilesBetween(ref1, ref2 string) ([]string, error) { return nil, nil }
func (f *fakeGitRunner) ChangedFilesRelative(branch, relativeTo string) ([]string, error) {
	return nil, nil
}
func (f *fakeGitRunner) ConflictedFiles() ([]string, error) {
	if f.conflictedFilesFn != nil {
		return f.conflictedFilesFn()
	}
	return nil, nil
}
func (f *fakeGitRunner) Add(paths ...string) error {
	if f.addFn != nil {
		return f.addFn(paths...)
	}
	return nil
}
func (f *fakeGitRunner) Commit(message string) error {
	if f.commitFn != nil {
		return f.commitFn(message)
	}
	return nil
}
func (f *fakeGitRunner) Reset(ref string) error         { return nil }
func (f *fakeGitRunner) CheckoutPath(path string) error { return nil }
func (f *fakeGitRunner) Merge(branch string) error { return nil }
func (f *fakeGitRunner) MergeNoFF(branch string) error {
	if f.mergeNoFFFn != nil {
		return f.mergeNoFFFn(branch)
	}
	return nil
}
func (f *fakeGitRunner) MergeNoFFMessage(branch, message string) error {
	if f.mergeNoFFMsgFn != nil {
		return f.mergeNoFFMsgFn(branch, message)
	}
	return nil
}
func (f *fakeGitRunner) MergeAbort() error {
	if f.mergeAbortFn != nil {
		return f.mergeAbortFn()
	}
	return nil
}
func (f *fakeGitRunner) MergeBase(branch1, branch2 string) (string, error) { return "", nil }
func (f *fakeGitRunner) HasConflicts() (bool, error)                      { return false, nil }
func (f *fakeGitRunner) Rebase(base string) error                        { return nil }
func (f *fakeGitRunner) RebaseAbort() error                              { return nil }
func (f *fakeGitRunner) WorktreeAdd(path, branch string) error           { return nil }
func (f *fakeGitRunner) WorktreeAddNewBranch(path, branch string) error  { return nil }
func (f *fakeGitRunner) WorktreeRemove(path string) error                { return nil }
func (f *fakeGitRunner) WorktreeRemoveOptionalForce(path string, force bool) error {
	return nil
}
func (f *fakeGitRunner) WorktreeUnlock(path string) error          { return nil }
func (f *fakeGitRunner) WorktreeList() ([]string, error)           { return nil, nil }
func (f *fakeGitRunner) WorktreeListPorcelain() (string, error)    { return "", nil }
func (f *fakeGitRunner) WorktreePrune() error                      { return nil }
func (f *fakeGitRunner) WorktreePruneExpireNow() error              { return nil }
func (f *fakeGitRunner) PullFFOnly() error                          { return nil }
func (f *fakeGitRunner) ShowFile(ref, path string) (string, error)  { return "", nil }
func (f *fakeGitRunner) CheckoutOurs(path string) error             { return nil }
func (f *fakeGitRunner) CheckoutTheirs(path string) error           { return nil }
func (f *fakeGitRunner) Run(args ...string) (string, error) {
	if f.runFn != nil {
		return f.runFn(args...)
	}
	return "", nil
}
