package agentdriver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agor/agord/internal/model"
)

func TestDecideResumeActionFreshHandleResumes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := &model.Session{
		WorktreeID:      "wt-1",
		SDKSessionID:    "sdk-1",
		SDKSessionSetAt: now.Add(-time.Hour),
	}
	d := DecideResumeAction(session, now, 24*time.Hour, "")
	assert.Equal(t, ActionResume, d.Action)
	assert.Equal(t, "sdk-1", d.Handle)
	assert.False(t, d.ClearHandle)
}

func TestDecideResumeActionStaleHandleClearsAndStartsFresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := &model.Session{
		WorktreeID:      "wt-1",
		SDKSessionID:    "sdk-1",
		SDKSessionSetAt: now.Add(-48 * time.Hour),
	}
	d := DecideResumeAction(session, now, 24*time.Hour, "")
	assert.Equal(t, ActionFresh, d.Action)
	assert.True(t, d.ClearHandle)
}

func TestDecideResumeActionWorktreelessHandleClearsAndStartsFresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := &model.Session{
		SDKSessionID:    "sdk-1",
		SDKSessionSetAt: now.Add(-time.Minute),
	}
	d := DecideResumeAction(session, now, 24*time.Hour, "")
	assert.Equal(t, ActionFresh, d.Action)
	assert.True(t, d.ClearHandle)
}

func TestDecideResumeActionForkResumesIntoParentHandle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := &model.Session{
		WorktreeID: "wt-1",
		Genealogy:  model.Genealogy{ForkedFromID: "parent-session"},
	}
	d := DecideResumeAction(session, now, 24*time.Hour, "parent-sdk-handle")
	assert.Equal(t, ActionForkResume, d.Action)
	assert.Equal(t, "parent-sdk-handle", d.Handle)
}

func TestDecideResumeActionPureSpawnNeverInheritsHistory(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := &model.Session{
		WorktreeID: "wt-1",
		Genealogy:  model.Genealogy{ParentSessionID: "parent-session"},
	}
	d := DecideResumeAction(session, now, 24*time.Hour, "parent-sdk-handle")
	assert.Equal(t, ActionFresh, d.Action)
	assert.Empty(t, d.Handle)
}

func TestDecideResumeActionNoGenealogyIsFresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	session := &model.Session{WorktreeID: "wt-1"}
	d := DecideResumeAction(session, now, 24*time.Hour, "")
	assert.Equal(t, ActionFresh, d.Action)
}
