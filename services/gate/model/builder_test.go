// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// parseTree unmarshals a YAML document into the generic tree shape Build
// consumes.
func parseTree(t *testing.T, doc string) any {
	t.Helper()
	var tree any
	if err := yaml.Unmarshal([]byte(doc), &tree); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	return tree
}

func TestBuild_NilTree(t *testing.T) {
	_, err := Build(nil)
	if !errors.Is(err, ErrNilTree) {
		t.Errorf("Build(nil) error = %v, want ErrNilTree", err)
	}
}

func TestBuild_EmptyDocument(t *testing.T) {
	_, err := Build(map[string]any{})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("Build(empty) error = %v, want ErrEmptyDocument", err)
	}
}

func TestBuild_RootNotMapping(t *testing.T) {
	_, err := Build([]any{"not", "a", "pipeline"})
	me, ok := AsModelError(err)
	if !ok {
		t.Fatalf("Build(sequence) error = %v, want ModelError", err)
	}
	if me.Kind != KindMalformedNode {
		t.Errorf("Kind = %v, want KindMalformedNode", me.Kind)
	}
}

func TestBuild_FullPipeline(t *testing.T) {
	doc := `
name: payments-service
triggers:
  - main
  - kind: pullRequest
    branches: [main, release/*]
  - kind: schedule
    schedule: "0 2 * * *"
variableGroups:
  - name: prod-secrets
    isSecret: true
    variables: [ApiToken, DbPassword]
  - name: build-settings
resources:
  - kind: repository
    name: shared-templates
    ref: refs/tags/v2.1.0
stages:
  - name: build
    jobs:
      - name: compile
        pool: ubuntu-22.04
        timeoutInMinutes: 30
        steps:
          - task: Checkout@2
            inputs:
              fetchDepth: 1
          - script: make build
            displayName: Build binaries
            env:
              GOFLAGS: -mod=readonly
  - name: deploy
    dependsOn: build
    lockBehavior: sequential
    jobs:
      - name: release
        pool:
          kind: selfHosted
          tag: deploy-agents
        environment:
          name: production
          approvalRef: release-managers
        steps:
          - script: ./deploy.sh
            env:
              TOKEN: $(ApiToken)
`
	p, err := Build(parseTree(t, doc))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if p.Name != "payments-service" {
		t.Errorf("Name = %q, want payments-service", p.Name)
	}
	if len(p.Triggers) != 3 {
		t.Fatalf("len(Triggers) = %d, want 3", len(p.Triggers))
	}
	if p.Triggers[0].Kind != TriggerPush || len(p.Triggers[0].Branches) != 1 || p.Triggers[0].Branches[0] != "main" {
		t.Errorf("shorthand trigger = %+v, want push on main", p.Triggers[0])
	}
	if p.Triggers[1].Kind != TriggerPullRequest || len(p.Triggers[1].Branches) != 2 {
		t.Errorf("pr trigger = %+v", p.Triggers[1])
	}
	if p.Triggers[2].Kind != TriggerSchedule || p.Triggers[2].Schedule != "0 2 * * *" {
		t.Errorf("schedule trigger = %+v", p.Triggers[2])
	}

	if len(p.VariableGroups) != 2 || !p.VariableGroups[0].IsSecret || p.VariableGroups[1].IsSecret {
		t.Errorf("VariableGroups = %+v", p.VariableGroups)
	}
	if len(p.Resources) != 1 || p.Resources[0].Name != "shared-templates" {
		t.Errorf("Resources = %+v", p.Resources)
	}

	if len(p.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(p.Stages))
	}
	build := p.Stages[0]
	if build.LockBehavior != LockNone {
		t.Errorf("build LockBehavior = %v, want none", build.LockBehavior)
	}
	compile := build.Jobs[0]
	if compile.Pool.Kind != PoolHosted || compile.Pool.Tag != "ubuntu-22.04" {
		t.Errorf("compile Pool = %+v", compile.Pool)
	}
	if !compile.HasTimeout() || *compile.TimeoutMinutes != 30 {
		t.Errorf("compile TimeoutMinutes = %v", compile.TimeoutMinutes)
	}
	if len(compile.Steps) != 2 {
		t.Fatalf("len(compile.Steps) = %d, want 2", len(compile.Steps))
	}
	checkout := compile.Steps[0]
	if checkout.Kind != StepTask || checkout.Task != "Checkout" || checkout.Version != "2" {
		t.Errorf("checkout step = %+v, want Checkout version 2", checkout)
	}
	if v, ok := checkout.Input("fetchDepth"); !ok || v != "1" {
		t.Errorf("fetchDepth input = (%q, %v)", v, ok)
	}
	buildStep := compile.Steps[1]
	if buildStep.Kind != StepScript || buildStep.DisplayName != "Build binaries" {
		t.Errorf("build step = %+v", buildStep)
	}

	deploy := p.Stages[1]
	if deploy.LockBehavior != LockSequential {
		t.Errorf("deploy LockBehavior = %v, want sequential", deploy.LockBehavior)
	}
	if len(deploy.DependsOn) != 1 || deploy.DependsOn[0] != "build" {
		t.Errorf("deploy DependsOn = %v", deploy.DependsOn)
	}
	release := deploy.Jobs[0]
	if release.Pool.Kind != PoolSelfHosted || release.Pool.Tag != "deploy-agents" {
		t.Errorf("release Pool = %+v", release.Pool)
	}
	if release.Environment == nil || !release.Environment.IsProduction() || release.Environment.ApprovalRef != "release-managers" {
		t.Errorf("release Environment = %+v", release.Environment)
	}
	token := release.Steps[0].Env[0]
	if !token.IsSecretRef || token.RefName() != "ApiToken" {
		t.Errorf("TOKEN env = %+v, want secret ref ApiToken", token)
	}
}

func TestBuild_TaskVersionForms(t *testing.T) {
	doc := `
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - task: Cache@2
          - task: GoTool
            version: "1.25"
          - task: Publish@1
            version: "3"
          - task: Unpinned
`
	p, err := Build(parseTree(t, doc))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	steps := p.Stages[0].Jobs[0].Steps

	tests := []struct {
		idx         int
		wantTask    string
		wantVersion string
	}{
		{0, "Cache", "2"},
		{1, "GoTool", "1.25"},
		{2, "Publish", "3"}, // explicit version wins over the inline pin
		{3, "Unpinned", ""},
	}
	for _, tt := range tests {
		if steps[tt.idx].Task != tt.wantTask || steps[tt.idx].Version != tt.wantVersion {
			t.Errorf("step %d = (%q, %q), want (%q, %q)",
				tt.idx, steps[tt.idx].Task, steps[tt.idx].Version, tt.wantTask, tt.wantVersion)
		}
	}
}

func TestBuild_NameShorthand(t *testing.T) {
	doc := `
variables:
  - group: ci-secrets
stages:
  - stage: build
    jobs:
      - job: compile
        steps:
          - script: make
  - stage: shadowed
    name: deploy
    dependsOn: build
`
	p, err := Build(parseTree(t, doc))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.VariableGroups) != 1 || p.VariableGroups[0].Name != "ci-secrets" {
		t.Errorf("VariableGroups = %+v, want group ci-secrets", p.VariableGroups)
	}
	if len(p.Stages) != 2 || p.Stages[0].Name != "build" {
		t.Fatalf("Stages = %+v, want build then deploy", p.Stages)
	}
	if p.Stages[0].Jobs[0].Name != "compile" {
		t.Errorf("job name = %q, want compile", p.Stages[0].Jobs[0].Name)
	}
	// An explicit name key wins over the shorthand spelling.
	if p.Stages[1].Name != "deploy" {
		t.Errorf("stage name = %q, want deploy", p.Stages[1].Name)
	}
}

func TestBuild_EnvSortedDeterministically(t *testing.T) {
	doc := `
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - script: make test
            env:
              ZEBRA: last
              ALPHA: first
              MIDDLE: $(Secret)
`
	p, err := Build(parseTree(t, doc))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	env := p.Stages[0].Jobs[0].Steps[0].Env
	wantOrder := []string{"ALPHA", "MIDDLE", "ZEBRA"}
	if len(env) != len(wantOrder) {
		t.Fatalf("len(env) = %d, want %d", len(env), len(wantOrder))
	}
	for i, name := range wantOrder {
		if env[i].Name != name {
			t.Errorf("env[%d].Name = %q, want %q", i, env[i].Name, name)
		}
	}
	if !env[1].IsSecretRef {
		t.Error("MIDDLE should be detected as a secret reference")
	}
	if env[0].IsSecretRef || env[2].IsSecretRef {
		t.Error("literal values misclassified as secret references")
	}
}

func TestBuild_DuplicateStageName(t *testing.T) {
	doc := `
stages:
  - name: build
  - name: build
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindDuplicateName {
		t.Fatalf("error = %v, want DuplicateName ModelError", err)
	}
	if me.Path != "stages[1]" {
		t.Errorf("Path = %q, want stages[1]", me.Path)
	}
}

func TestBuild_DuplicateJobName(t *testing.T) {
	doc := `
stages:
  - name: build
    jobs:
      - name: compile
      - name: compile
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindDuplicateName {
		t.Fatalf("error = %v, want DuplicateName ModelError", err)
	}
	if me.Path != "stages[0].jobs[1]" {
		t.Errorf("Path = %q, want stages[0].jobs[1]", me.Path)
	}
}

func TestBuild_UnresolvedStageDependency(t *testing.T) {
	doc := `
stages:
  - name: deploy
    dependsOn: buidl
  - name: build
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindUnresolvedReference {
		t.Fatalf("error = %v, want UnresolvedReference ModelError", err)
	}
	if !strings.Contains(me.Detail, "buidl") {
		t.Errorf("Detail = %q, should name the missing stage", me.Detail)
	}
}

func TestBuild_UnresolvedJobDependency(t *testing.T) {
	doc := `
stages:
  - name: build
    jobs:
      - name: test
        dependsOn: [compile]
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindUnresolvedReference {
		t.Fatalf("error = %v, want UnresolvedReference ModelError", err)
	}
	if !strings.Contains(me.Detail, "compile") || !strings.Contains(me.Detail, "build") {
		t.Errorf("Detail = %q, should name missing job and its stage", me.Detail)
	}
}

func TestBuild_StageCycle(t *testing.T) {
	doc := `
stages:
  - name: build
    dependsOn: deploy
  - name: deploy
    dependsOn: build
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindCycleDetected {
		t.Fatalf("error = %v, want CycleDetected ModelError", err)
	}
	// Both members of the cycle must be named.
	if !strings.Contains(me.Detail, "build") || !strings.Contains(me.Detail, "deploy") {
		t.Errorf("Detail = %q, should name both stages", me.Detail)
	}
	if !strings.Contains(me.Detail, "->") {
		t.Errorf("Detail = %q, should render the cycle path", me.Detail)
	}
}

func TestBuild_SelfDependency(t *testing.T) {
	doc := `
stages:
  - name: build
    dependsOn: build
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindCycleDetected {
		t.Fatalf("error = %v, want CycleDetected ModelError", err)
	}
	if !strings.Contains(me.Detail, "build -> build") {
		t.Errorf("Detail = %q, want self-cycle build -> build", me.Detail)
	}
}

func TestBuild_CycleWitnessDeterministic(t *testing.T) {
	doc := `
stages:
  - name: alpha
    dependsOn: gamma
  - name: beta
    dependsOn: alpha
  - name: gamma
    dependsOn: beta
`
	var first string
	for i := 0; i < 5; i++ {
		_, err := Build(parseTree(t, doc))
		me, ok := AsModelError(err)
		if !ok || me.Kind != KindCycleDetected {
			t.Fatalf("run %d: error = %v, want CycleDetected", i, err)
		}
		if first == "" {
			first = me.Detail
			continue
		}
		if me.Detail != first {
			t.Fatalf("run %d: Detail = %q, differs from first run %q", i, me.Detail, first)
		}
	}
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(first, name) {
			t.Errorf("Detail = %q, missing cycle member %q", first, name)
		}
	}
}

func TestBuild_JobCycle(t *testing.T) {
	doc := `
stages:
  - name: build
    jobs:
      - name: compile
        dependsOn: test
      - name: test
        dependsOn: compile
`
	_, err := Build(parseTree(t, doc))
	me, ok := AsModelError(err)
	if !ok || me.Kind != KindCycleDetected {
		t.Fatalf("error = %v, want CycleDetected ModelError", err)
	}
	if !strings.Contains(me.Detail, "compile") || !strings.Contains(me.Detail, "test") {
		t.Errorf("Detail = %q, should name both jobs", me.Detail)
	}
	if !strings.Contains(me.Detail, `stage "build"`) {
		t.Errorf("Detail = %q, should name the enclosing stage", me.Detail)
	}
}

func TestBuild_MalformedNodes(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{
			name: "negative timeout",
			doc: `
stages:
  - name: build
    jobs:
      - name: compile
        timeoutInMinutes: -5
`,
			wantPath: "stages[0].jobs[0].timeoutInMinutes",
		},
		{
			name: "non-integer timeout",
			doc: `
stages:
  - name: build
    jobs:
      - name: compile
        timeoutInMinutes: soon
`,
			wantPath: "stages[0].jobs[0].timeoutInMinutes",
		},
		{
			name: "step with task and script",
			doc: `
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - task: Cache@2
            script: make build
`,
			wantPath: "stages[0].jobs[0].steps[0]",
		},
		{
			name: "step with neither task nor script",
			doc: `
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - displayName: mystery
`,
			wantPath: "stages[0].jobs[0].steps[0]",
		},
		{
			name: "unknown lock behavior",
			doc: `
stages:
  - name: deploy
    lockBehavior: exclusive
`,
			wantPath: "stages[0].lockBehavior",
		},
		{
			name: "unknown trigger kind",
			doc: `
triggers:
  - kind: webhook
stages:
  - name: build
`,
			wantPath: "triggers[0].kind",
		},
		{
			name: "unknown pool kind",
			doc: `
stages:
  - name: build
    jobs:
      - name: compile
        pool:
          kind: mainframe
`,
			wantPath: "stages[0].jobs[0].pool.kind",
		},
		{
			name: "stage without name",
			doc: `
stages:
  - jobs: []
`,
			wantPath: "stages[0]",
		},
		{
			name: "env value is a sequence",
			doc: `
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - script: make build
            env:
              PATHS: [a, b]
`,
			wantPath: "stages[0].jobs[0].steps[0].env.PATHS",
		},
		{
			name: "jobs is a scalar",
			doc: `
stages:
  - name: build
    jobs: none
`,
			wantPath: "stages[0].jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(parseTree(t, tt.doc))
			me, ok := AsModelError(err)
			if !ok {
				t.Fatalf("error = %v, want ModelError", err)
			}
			if me.Kind != KindMalformedNode {
				t.Errorf("Kind = %v, want KindMalformedNode", me.Kind)
			}
			if me.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", me.Path, tt.wantPath)
			}
		})
	}
}

func TestBuild_NeverReturnsPartialPipeline(t *testing.T) {
	doc := `
stages:
  - name: build
  - name: build
`
	p, err := Build(parseTree(t, doc))
	if err == nil {
		t.Fatal("Build should fail on duplicate stage names")
	}
	if p != nil {
		t.Errorf("Build returned a partial pipeline alongside error: %+v", p)
	}
}
