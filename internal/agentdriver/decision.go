package agentdriver

import (
	"time"

	"github.com/agor/agord/internal/model"
)

// ResumeAction is the decision table's verdict for how to start an agent
// process on an existing Session (§4.6).
type ResumeAction string

const (
	// ActionFresh starts a new agent session, discarding any sdk handle.
	ActionFresh ResumeAction = "fresh"
	// ActionResume resumes into the session's own sdk handle.
	ActionResume ResumeAction = "resume"
	// ActionForkResume resumes into the parent's handle with forkSession=true.
	ActionForkResume ResumeAction = "fork_resume"
)

// Decision is the outcome of DecideResumeAction.
type Decision struct {
	Action ResumeAction
	// Handle is the sdk_session_id to resume into, set for ActionResume and
	// ActionForkResume (the latter uses the parent's handle).
	Handle string
	// ClearHandle reports whether the session's own stale/worktreeless
	// sdk_session_id must be cleared before starting fresh.
	ClearHandle bool
}

// DecideResumeAction applies §4.6's resume/fork/spawn decision table.
// parentHandle is the forked-from (or parent) session's sdk_session_id, if
// the caller has one; pass "" when not applicable or unknown.
func DecideResumeAction(session *model.Session, now time.Time, staleness time.Duration, parentHandle string) Decision {
	hasOwnHandle := session.SDKSessionID != ""
	hasWorktree := session.WorktreeID != ""

	if hasOwnHandle {
		fresh := !session.SDKSessionSetAt.IsZero() && now.Sub(session.SDKSessionSetAt) < staleness
		if fresh && hasWorktree {
			return Decision{Action: ActionResume, Handle: session.SDKSessionID}
		}
		return Decision{Action: ActionFresh, ClearHandle: true}
	}

	if session.Genealogy.IsFork() {
		return Decision{Action: ActionForkResume, Handle: parentHandle}
	}

	// Pure spawn (genealogy.parent_session_id set, no forked_from) or no
	// genealogy at all: start fresh, never inherit history.
	return Decision{Action: ActionFresh}
}
