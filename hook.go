package eventstore

// PipelineHook is user-supplied middleware invoked around reads and writes.
//
// Hooks run in configured order:
//   - Select transforms or drops commits yielded by the instant-ranged
//     cross-stream reads of Store.Advanced; revision-ranged and checkpoint
//     reads are not filtered. Returning nil removes the commit from the delivered sequence and
//     short-circuits the remaining hooks for that commit.
//   - PreCommit runs before an attempt reaches persistence. The first hook
//     returning false vetoes the write.
//   - PostCommit runs after durability, best effort: every hook is called
//     regardless of what the others do, and panics are logged and swallowed.
//
// PostCommit never fires for attempts that fail duplicate or concurrency
// checks. PreCommit runs before the attempt is sent, so it also sees
// attempts that persistence then rejects; duplicates a Stream detects from
// its own observed ids never reach any hook.
type PipelineHook interface {
	// Select transforms a commit on read, or drops it by returning nil.
	Select(commit *Commit) *Commit

	// PreCommit inspects an attempt before persistence. Returning false
	// vetoes the write; the store reports success without persisting.
	PreCommit(attempt *Commit) bool

	// PostCommit observes a durably persisted commit.
	PostCommit(committed *Commit)
}

// NopHook is a PipelineHook that passes everything through. Embed it to
// implement only the operations a hook cares about.
type NopHook struct{}

// Select returns the commit unchanged.
func (NopHook) Select(commit *Commit) *Commit { return commit }

// PreCommit approves every attempt.
func (NopHook) PreCommit(*Commit) bool { return true }

// PostCommit does nothing.
func (NopHook) PostCommit(*Commit) {}

// pipelineHooks applies the chain rules of the hook contract over an
// ordered hook list.
type pipelineHooks struct {
	hooks  []PipelineHook
	logger Logger
}

// selectCommit runs the Select chain, short-circuiting on the first nil.
func (p pipelineHooks) selectCommit(commit *Commit) *Commit {
	for _, h := range p.hooks {
		commit = h.Select(commit)
		if commit == nil {
			return nil
		}
	}
	return commit
}

// preCommit runs the PreCommit chain, short-circuiting on the first veto.
func (p pipelineHooks) preCommit(attempt *Commit) bool {
	for _, h := range p.hooks {
		if !h.PreCommit(attempt) {
			return false
		}
	}
	return true
}

// postCommit notifies every hook. A panicking hook is logged and swallowed
// so one misbehaving observer cannot mask a durable write.
func (p pipelineHooks) postCommit(committed *Commit) {
	for _, h := range p.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger("post-commit hook panicked: %v", r)
				}
			}()
			h.PostCommit(committed)
		}()
	}
}
