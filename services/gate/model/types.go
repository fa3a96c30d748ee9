// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the in-memory representation of a pipeline
// definition: stages, jobs, steps, variables, triggers, and resources.
//
// A Pipeline is built once per evaluation run from a parsed configuration
// tree (see Build), is immutable for the duration of evaluation, and is
// discarded after the report is produced. Ownership is strictly tree-shaped:
// a Pipeline owns its Stages, a Stage owns its Jobs, a Job owns its Steps.
// The dependsOn fields are name references resolved within the enclosing
// scope, never ownership.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ENUMS
// =============================================================================

// TriggerKind identifies what causes a pipeline to run.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pullRequest"
	TriggerSchedule    TriggerKind = "schedule"
	TriggerManual      TriggerKind = "manual"
)

// LockBehavior controls how concurrent runs of a stage are serialized.
type LockBehavior string

const (
	// LockNone allows concurrent stage runs (the default).
	LockNone LockBehavior = "none"

	// LockSequential queues concurrent runs and executes them in order.
	LockSequential LockBehavior = "sequential"

	// LockRunOnce cancels queued runs in favor of the latest.
	LockRunOnce LockBehavior = "runOnce"
)

// StepKind distinguishes task steps from inline script steps.
type StepKind string

const (
	StepTask   StepKind = "task"
	StepScript StepKind = "script"
)

// PoolKind distinguishes platform-hosted agents from self-hosted ones.
type PoolKind string

const (
	PoolHosted     PoolKind = "hosted"
	PoolSelfHosted PoolKind = "selfHosted"
)

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline is the top-level pipeline definition.
//
// Invariant: stage names are unique within the pipeline (enforced by Build).
//
// Thread Safety: Immutable after Build; safe for concurrent reads.
type Pipeline struct {
	// Name identifies the pipeline.
	Name string

	// Triggers lists what causes the pipeline to run.
	Triggers []Trigger

	// Stages are the ordered execution stages.
	Stages []Stage

	// VariableGroups are referenced variable groups, including secret groups.
	VariableGroups []VariableGroupRef

	// Resources are external references (repositories, containers, pipelines).
	Resources []ResourceRef
}

// SecretNames returns the sorted set of names that are known to denote
// secrets anywhere in the pipeline: secret variable-group names, the
// variables such groups contribute, and env entries that are secret
// references. Rules use this as the token list when scanning for leakage.
func (p *Pipeline) SecretNames() []string {
	seen := make(map[string]struct{})
	for _, vg := range p.VariableGroups {
		if !vg.IsSecret {
			continue
		}
		seen[vg.Name] = struct{}{}
		for _, v := range vg.Variables {
			seen[v] = struct{}{}
		}
	}
	for si := range p.Stages {
		for ji := range p.Stages[si].Jobs {
			for ki := range p.Stages[si].Jobs[ji].Steps {
				for _, ev := range p.Stages[si].Jobs[ji].Steps[ki].Env {
					if ev.IsSecretRef {
						seen[ev.RefName()] = struct{}{}
					}
				}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Trigger describes one cause for a pipeline run.
type Trigger struct {
	// Kind is the trigger type (push, pullRequest, schedule, manual).
	Kind TriggerKind

	// Branches restricts the trigger to the listed branches (push/PR kinds).
	Branches []string

	// Schedule is the cron expression (schedule kind only).
	Schedule string
}

// VariableGroupRef references a variable group by name.
type VariableGroupRef struct {
	// Name of the referenced group.
	Name string

	// IsSecret marks groups whose values are secret.
	IsSecret bool

	// Variables lists the variable names the group contributes.
	Variables []string
}

// ResourceRef references an external resource.
type ResourceRef struct {
	// Kind is the resource type (repository, container, pipeline).
	Kind string

	// Name is the local alias for the resource.
	Name string

	// Ref pins the resource version (branch ref, image tag, run id).
	Ref string
}

// =============================================================================
// STAGE
// =============================================================================

// Stage is an ordered unit of execution containing jobs.
//
// Invariants (enforced by Build): job names unique within the stage;
// DependsOn references existing stages; the stage dependency graph is
// acyclic.
//
// Thread Safety: Immutable after Build.
type Stage struct {
	// Name identifies the stage (unique within the pipeline).
	Name string

	// DependsOn names stages that must complete before this one starts.
	DependsOn []string

	// Condition is an optional expression gating the stage.
	Condition string

	// LockBehavior serializes concurrent runs of the stage.
	LockBehavior LockBehavior

	// Jobs are the stage's jobs.
	Jobs []Job
}

// =============================================================================
// JOB
// =============================================================================

// Job is a unit of work executed on a single agent.
//
// Thread Safety: Immutable after Build.
type Job struct {
	// Name identifies the job (unique within the stage).
	Name string

	// Pool describes the agent pool the job runs on.
	Pool Pool

	// DependsOn names jobs within the same stage that must complete first.
	DependsOn []string

	// TimeoutMinutes bounds the job's run time. Nil means no timeout is
	// configured; when set the value is >= 0.
	TimeoutMinutes *int

	// Environment is set on deployment jobs targeting a named environment.
	Environment *EnvironmentRef

	// Steps are the job's ordered steps.
	Steps []Step
}

// HasTimeout reports whether the job configures an execution timeout.
func (j *Job) HasTimeout() bool {
	return j.TimeoutMinutes != nil
}

// Pool describes an agent pool.
type Pool struct {
	// Kind is hosted or selfHosted.
	Kind PoolKind

	// Tag identifies the pool (image name or pool label).
	Tag string
}

// EnvironmentRef targets a deployment environment.
type EnvironmentRef struct {
	// Name of the environment (e.g. "staging", "production").
	Name string

	// ApprovalRef names the approval/protection configured for the
	// environment. Empty means no approval is configured.
	ApprovalRef string
}

// IsProduction reports whether the environment name denotes production.
// Matching is case-insensitive and accepts the "prod" short form.
func (e *EnvironmentRef) IsProduction() bool {
	if e == nil {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(e.Name))
	return name == "production" || name == "prod" || strings.HasPrefix(name, "production-") || strings.HasPrefix(name, "prod-")
}

// =============================================================================
// STEP
// =============================================================================

// Step is a single task invocation or inline script.
//
// Thread Safety: Immutable after Build.
type Step struct {
	// Kind is task or script.
	Kind StepKind

	// Task is the task name (task steps only).
	Task string

	// Version is the pinned task version. Empty means unpinned, which is a
	// violation condition, never a build error.
	Version string

	// Script is the inline script text (script steps only).
	Script string

	// DisplayName is the optional human-readable step label.
	DisplayName string

	// Env are the step's environment entries, sorted by name so evaluation
	// output is deterministic.
	Env []EnvVar

	// Inputs are the task's input parameters (task steps only).
	Inputs map[string]string
}

// Input returns the named task input and whether it is present.
// Lookup is case-insensitive, matching how the platform resolves inputs.
func (s *Step) Input(name string) (string, bool) {
	if v, ok := s.Inputs[name]; ok {
		return v, true
	}
	for k, v := range s.Inputs {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// EnvVar is one environment entry on a step.
type EnvVar struct {
	// Name of the variable as exposed to the step.
	Name string

	// Value is the configured value text. For secret references this is the
	// macro form, e.g. "$(ApiToken)".
	Value string

	// IsSecretRef marks values that are pure variable references rather
	// than literals.
	IsSecretRef bool
}

// RefName returns the variable name inside a $(...) reference, or the raw
// value when the entry is not a reference.
func (v *EnvVar) RefName() string {
	trimmed := strings.TrimSpace(v.Value)
	if strings.HasPrefix(trimmed, "$(") && strings.HasSuffix(trimmed, ")") {
		return trimmed[2 : len(trimmed)-1]
	}
	return trimmed
}

// =============================================================================
// LOCATION
// =============================================================================

// Location addresses a finding within the document. Indices are -1 when the
// finding is scoped above that level: a pipeline-level finding carries
// {-1,-1,-1}; a stage-level finding carries {stage,-1,-1}. The -1 sentinel
// sorts before index 0, so wider-scoped findings precede narrower ones at
// the same path.
//
// Thread Safety: Immutable after creation.
type Location struct {
	// StageIndex is the stage position, or -1 for pipeline scope.
	StageIndex int `json:"stage_index"`

	// JobIndex is the job position within the stage, or -1.
	JobIndex int `json:"job_index"`

	// StepIndex is the step position within the job, or -1.
	StepIndex int `json:"step_index"`

	// StagePath is the stage name, empty for pipeline scope.
	StagePath string `json:"stage_path,omitempty"`

	// JobPath is the job name, empty above job scope.
	JobPath string `json:"job_path,omitempty"`

	// StepPath is the step label (display name, task name, or "script"),
	// empty above step scope.
	StepPath string `json:"step_path,omitempty"`
}

// PipelineScope returns the location for pipeline-level findings.
func PipelineScope() Location {
	return Location{StageIndex: -1, JobIndex: -1, StepIndex: -1}
}

// StageScope returns the location for a stage-level finding.
func StageScope(stageIndex int, stage *Stage) Location {
	return Location{
		StageIndex: stageIndex,
		JobIndex:   -1,
		StepIndex:  -1,
		StagePath:  stage.Name,
	}
}

// JobScope returns the location for a job-level finding.
func JobScope(stageIndex, jobIndex int, stage *Stage, job *Job) Location {
	return Location{
		StageIndex: stageIndex,
		JobIndex:   jobIndex,
		StepIndex:  -1,
		StagePath:  stage.Name,
		JobPath:    job.Name,
	}
}

// StepScope returns the location for a step-level finding.
func StepScope(stageIndex, jobIndex, stepIndex int, stage *Stage, job *Job, step *Step) Location {
	return Location{
		StageIndex: stageIndex,
		JobIndex:   jobIndex,
		StepIndex:  stepIndex,
		StagePath:  stage.Name,
		JobPath:    job.Name,
		StepPath:   step.Label(),
	}
}

// Label returns the step's human-readable identity: the display name when
// set, otherwise the task name, otherwise "script".
func (s *Step) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Kind == StepTask {
		return s.Task
	}
	return "script"
}

// String returns a breadcrumb like "build/compile/Restore cache".
// Pipeline-scoped locations return "pipeline".
func (l Location) String() string {
	if l.StageIndex < 0 {
		return "pipeline"
	}
	parts := []string{l.StagePath}
	if l.JobIndex >= 0 {
		parts = append(parts, l.JobPath)
	}
	if l.StepIndex >= 0 {
		parts = append(parts, l.StepPath)
	}
	return strings.Join(parts, "/")
}

// Compare orders locations by (StageIndex, JobIndex, StepIndex).
// Returns a negative value when l sorts before other, zero when equal,
// positive otherwise.
func (l Location) Compare(other Location) int {
	if l.StageIndex != other.StageIndex {
		return l.StageIndex - other.StageIndex
	}
	if l.JobIndex != other.JobIndex {
		return l.JobIndex - other.JobIndex
	}
	return l.StepIndex - other.StepIndex
}

// path helpers used by the builder for error reporting.

func stagePath(i int) string { return fmt.Sprintf("stages[%d]", i) }

func jobPath(si, ji int) string { return fmt.Sprintf("stages[%d].jobs[%d]", si, ji) }

func stepPath(si, ji, ki int) string { return fmt.Sprintf("stages[%d].jobs[%d].steps[%d]", si, ji, ki) }

func fieldPath(base, f string) string { return base + "." + f }

func indexPath(base string, i int) string { return fmt.Sprintf("%s[%d]", base, i) }
