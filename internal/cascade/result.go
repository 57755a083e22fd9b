package cascade

import (
	"fmt"
	"time"
)

// Trigger names the change that started a run.
type Trigger string

const (
	TriggerRoleChanged        Trigger = "role_changed"
	TriggerRoleDeleted        Trigger = "role_deleted"
	TriggerMemberChanged      Trigger = "member_changed"
	TriggerDefaultRoleChanged Trigger = "default_role_changed"
	TriggerRecomputeMember    Trigger = "recompute_member"
	TriggerRecomputeAll       Trigger = "recompute_all"
)

// Stage names the step a warning came from.
type Stage string

const (
	StageLoadMember    Stage = "load_member"
	StageWrite         Stage = "write"
	StageRoleBits      Stage = "role_bits"
	StagePruneMembers  Stage = "prune_members"
	StagePruneChannels Stage = "prune_channels"
	StageCancelled     Stage = "cancelled"
	// StageRun marks a whole run that failed after its triggering write
	// succeeded.
	StageRun Stage = "run"
)

// Warning is a non-fatal failure. The member or channel it names keeps its
// previous state until the next successful run.
type Warning struct {
	Stage     Stage  `json:"stage"`
	UID       string `json:"uid,omitempty"`
	RoleID    string `json:"roleId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	Message   string `json:"message"`
}

func (w Warning) String() string {
	target := w.UID
	if target == "" {
		target = w.ChannelID
	}
	if target == "" {
		target = w.RoleID
	}
	return fmt.Sprintf("%s %s: %s", w.Stage, target, w.Message)
}

// Result summarizes one run.
type Result struct {
	RunID    string  `json:"runId"`
	ServerID string  `json:"serverId"`
	Trigger  Trigger `json:"trigger"`

	// Considered counts members resolved; Updated those rewritten;
	// Unchanged those whose cache already matched; Missing ids with no
	// member document.
	Considered int           `json:"considered"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	Missing    int           `json:"missing"`
	Pruned     int           `json:"pruned"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
	Warnings   []Warning     `json:"warnings,omitempty"`
}

// OK reports whether the run finished without warnings.
func (r *Result) OK() bool { return len(r.Warnings) == 0 }

func (r *Result) warn(w Warning) {
	warningsTotal.WithLabelValues(string(w.Stage)).Inc()
	r.Warnings = append(r.Warnings, w)
}

// merge folds a sub-run into r.
func (r *Result) merge(o *Result) {
	r.Considered += o.Considered
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Missing += o.Missing
	r.Pruned += o.Pruned
	r.Batches += o.Batches
	r.Warnings = append(r.Warnings, o.Warnings...)
}
