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
	"container/heap"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// macroRefPattern matches a value that is exactly one variable macro,
// e.g. "$(ApiToken)". Such values are references, not literals.
var macroRefPattern = regexp.MustCompile(`^\$\([A-Za-z0-9_.\-]+\)$`)

// Build constructs a Pipeline from an already-deserialized generic tree
// (the map/slice/scalar shape yaml.v3 produces for untyped documents).
//
// Build validates structural invariants as it constructs the tree:
// unique sibling names, resolvable dependsOn references, and acyclic
// dependency graphs. On any violation it returns a *ModelError and no
// Pipeline; it never partially constructs one.
//
// Build is a pure transformation: no I/O, no mutation of the input tree.
func Build(tree any) (*Pipeline, error) {
	if tree == nil {
		return nil, ErrNilTree
	}
	root, ok := asMapping(tree)
	if !ok {
		return nil, newModelError(KindMalformedNode, "", "pipeline document must be a mapping, got %T", tree)
	}
	if len(root) == 0 {
		return nil, ErrEmptyDocument
	}

	p := &Pipeline{}

	name, err := optionalString(root, "name", "name")
	if err != nil {
		return nil, err
	}
	p.Name = name

	if err := buildTriggers(root, p); err != nil {
		return nil, err
	}
	if err := buildVariableGroups(root, p); err != nil {
		return nil, err
	}
	if err := buildResources(root, p); err != nil {
		return nil, err
	}
	if err := buildStages(root, p); err != nil {
		return nil, err
	}

	// Stage-level structural invariants: unique names, resolvable
	// dependsOn, acyclic graph.
	stageNames := make(map[string]int, len(p.Stages))
	for i := range p.Stages {
		if prev, dup := stageNames[p.Stages[i].Name]; dup {
			return nil, newModelError(KindDuplicateName, stagePath(i),
				"stage %q already defined at %s", p.Stages[i].Name, stagePath(prev))
		}
		stageNames[p.Stages[i].Name] = i
	}
	for i := range p.Stages {
		for _, dep := range p.Stages[i].DependsOn {
			if _, exists := stageNames[dep]; !exists {
				return nil, newModelError(KindUnresolvedReference, fieldPath(stagePath(i), "dependsOn"),
					"stage %q depends on undefined stage %q", p.Stages[i].Name, dep)
			}
		}
	}
	if cycle := findCycle(stageGraph(p)); cycle != nil {
		return nil, newModelError(KindCycleDetected, "stages",
			"stages form a dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	// Job-level invariants, per stage.
	for si := range p.Stages {
		stage := &p.Stages[si]
		jobNames := make(map[string]int, len(stage.Jobs))
		for ji := range stage.Jobs {
			if prev, dup := jobNames[stage.Jobs[ji].Name]; dup {
				return nil, newModelError(KindDuplicateName, jobPath(si, ji),
					"job %q already defined at %s", stage.Jobs[ji].Name, jobPath(si, prev))
			}
			jobNames[stage.Jobs[ji].Name] = ji
		}
		for ji := range stage.Jobs {
			for _, dep := range stage.Jobs[ji].DependsOn {
				if _, exists := jobNames[dep]; !exists {
					return nil, newModelError(KindUnresolvedReference, fieldPath(jobPath(si, ji), "dependsOn"),
						"job %q depends on undefined job %q in stage %q", stage.Jobs[ji].Name, dep, stage.Name)
				}
			}
		}
		if cycle := findCycle(jobGraph(stage)); cycle != nil {
			return nil, newModelError(KindCycleDetected, fieldPath(stagePath(si), "jobs"),
				"jobs in stage %q form a dependency cycle: %s", stage.Name, strings.Join(cycle, " -> "))
		}
	}

	return p, nil
}

// =============================================================================
// SECTION BUILDERS
// =============================================================================

func buildTriggers(root map[string]any, p *Pipeline) error {
	raw, key := lookupAny(root, "triggers", "trigger")
	if raw == nil {
		return nil
	}
	items, ok := asSequence(raw)
	if !ok {
		return newModelError(KindMalformedNode, key, "triggers must be a sequence, got %T", raw)
	}
	for i, item := range items {
		// Branch-name shorthand: "- main" means a push trigger on main.
		if s, isScalar := item.(string); isScalar {
			p.Triggers = append(p.Triggers, Trigger{Kind: TriggerPush, Branches: []string{s}})
			continue
		}
		m, ok := asMapping(item)
		if !ok {
			return newModelError(KindMalformedNode, indexPath(key, i), "trigger must be a mapping or branch name, got %T", item)
		}
		kind, err := optionalString(m, "kind", indexPath(key, i))
		if err != nil {
			return err
		}
		t := Trigger{Kind: TriggerKind(kind)}
		if t.Kind == "" {
			t.Kind = TriggerPush
		}
		switch t.Kind {
		case TriggerPush, TriggerPullRequest, TriggerSchedule, TriggerManual:
		default:
			return newModelError(KindMalformedNode, fieldPath(indexPath(key, i), "kind"),
				"unknown trigger kind %q", kind)
		}
		branches, err := optionalStringSlice(m, "branches", indexPath(key, i))
		if err != nil {
			return err
		}
		t.Branches = branches
		schedule, err := optionalString(m, "schedule", indexPath(key, i))
		if err != nil {
			return err
		}
		t.Schedule = schedule
		p.Triggers = append(p.Triggers, t)
	}
	return nil
}

func buildVariableGroups(root map[string]any, p *Pipeline) error {
	raw, key := lookupAny(root, "variableGroups", "variables")
	if raw == nil {
		return nil
	}
	items, ok := asSequence(raw)
	if !ok {
		return newModelError(KindMalformedNode, key, "variable groups must be a sequence, got %T", raw)
	}
	seen := make(map[string]int, len(items))
	for i, item := range items {
		m, ok := asMapping(item)
		if !ok {
			return newModelError(KindMalformedNode, indexPath(key, i), "variable group must be a mapping, got %T", item)
		}
		// Accept both {name: x} and the {group: x} reference form.
		name, err := optionalString(m, "name", indexPath(key, i))
		if err != nil {
			return err
		}
		if name == "" {
			if name, err = optionalString(m, "group", indexPath(key, i)); err != nil {
				return err
			}
		}
		if name == "" {
			return newModelError(KindMalformedNode, indexPath(key, i), "variable group needs a name")
		}
		if prev, dup := seen[name]; dup {
			return newModelError(KindDuplicateName, indexPath(key, i),
				"variable group %q already defined at %s", name, indexPath(key, prev))
		}
		seen[name] = i

		vg := VariableGroupRef{Name: name}
		if secret, ok := m["isSecret"]; ok {
			b, isBool := secret.(bool)
			if !isBool {
				return newModelError(KindMalformedNode, fieldPath(indexPath(key, i), "isSecret"),
					"isSecret must be a boolean, got %T", secret)
			}
			vg.IsSecret = b
		}
		vars, err := optionalStringSlice(m, "variables", indexPath(key, i))
		if err != nil {
			return err
		}
		vg.Variables = vars
		p.VariableGroups = append(p.VariableGroups, vg)
	}
	return nil
}

func buildResources(root map[string]any, p *Pipeline) error {
	raw, key := lookupAny(root, "resources")
	if raw == nil {
		return nil
	}
	items, ok := asSequence(raw)
	if !ok {
		return newModelError(KindMalformedNode, key, "resources must be a sequence, got %T", raw)
	}
	for i, item := range items {
		m, ok := asMapping(item)
		if !ok {
			return newModelError(KindMalformedNode, indexPath(key, i), "resource must be a mapping, got %T", item)
		}
		kind, err := optionalString(m, "kind", indexPath(key, i))
		if err != nil {
			return err
		}
		name, err := optionalString(m, "name", indexPath(key, i))
		if err != nil {
			return err
		}
		if name == "" {
			return newModelError(KindMalformedNode, indexPath(key, i), "resource needs a name")
		}
		ref, err := optionalString(m, "ref", indexPath(key, i))
		if err != nil {
			return err
		}
		p.Resources = append(p.Resources, ResourceRef{Kind: kind, Name: name, Ref: ref})
	}
	return nil
}

func buildStages(root map[string]any, p *Pipeline) error {
	raw, key := lookupAny(root, "stages")
	if raw == nil {
		return nil
	}
	items, ok := asSequence(raw)
	if !ok {
		return newModelError(KindMalformedNode, key, "stages must be a sequence, got %T", raw)
	}
	for si, item := range items {
		m, ok := asMapping(item)
		if !ok {
			return newModelError(KindMalformedNode, stagePath(si), "stage must be a mapping, got %T", item)
		}
		stage := Stage{LockBehavior: LockNone}

		// Accept both {name: x} and the {stage: x} shorthand.
		name, err := optionalString(m, "name", stagePath(si))
		if err != nil {
			return err
		}
		if name == "" {
			if name, err = optionalString(m, "stage", stagePath(si)); err != nil {
				return err
			}
		}
		if name == "" {
			return newModelError(KindMalformedNode, stagePath(si), "stage needs a name")
		}
		stage.Name = name

		deps, err := dependsOnList(m, stagePath(si))
		if err != nil {
			return err
		}
		stage.DependsOn = deps

		condition, err := optionalString(m, "condition", stagePath(si))
		if err != nil {
			return err
		}
		stage.Condition = condition

		lock, err := optionalString(m, "lockBehavior", stagePath(si))
		if err != nil {
			return err
		}
		if lock != "" {
			switch LockBehavior(lock) {
			case LockNone, LockSequential, LockRunOnce:
				stage.LockBehavior = LockBehavior(lock)
			default:
				return newModelError(KindMalformedNode, fieldPath(stagePath(si), "lockBehavior"),
					"unknown lockBehavior %q (want none, sequential, or runOnce)", lock)
			}
		}

		if err := buildJobs(m, si, &stage); err != nil {
			return err
		}
		p.Stages = append(p.Stages, stage)
	}
	return nil
}

func buildJobs(stageNode map[string]any, si int, stage *Stage) error {
	raw, _ := lookupAny(stageNode, "jobs")
	if raw == nil {
		return nil
	}
	items, ok := asSequence(raw)
	if !ok {
		return newModelError(KindMalformedNode, fieldPath(stagePath(si), "jobs"), "jobs must be a sequence, got %T", raw)
	}
	for ji, item := range items {
		m, ok := asMapping(item)
		if !ok {
			return newModelError(KindMalformedNode, jobPath(si, ji), "job must be a mapping, got %T", item)
		}
		job := Job{Pool: Pool{Kind: PoolHosted}}

		// Accept both {name: x} and the {job: x} shorthand.
		name, err := optionalString(m, "name", jobPath(si, ji))
		if err != nil {
			return err
		}
		if name == "" {
			if name, err = optionalString(m, "job", jobPath(si, ji)); err != nil {
				return err
			}
		}
		if name == "" {
			return newModelError(KindMalformedNode, jobPath(si, ji), "job needs a name")
		}
		job.Name = name

		if err := buildPool(m, si, ji, &job); err != nil {
			return err
		}

		deps, err := dependsOnList(m, jobPath(si, ji))
		if err != nil {
			return err
		}
		job.DependsOn = deps

		if raw, ok := m["timeoutInMinutes"]; ok {
			minutes, ok := asInt(raw)
			if !ok {
				return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "timeoutInMinutes"),
					"timeoutInMinutes must be an integer, got %T", raw)
			}
			if minutes < 0 {
				return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "timeoutInMinutes"),
					"timeoutInMinutes must be >= 0, got %d", minutes)
			}
			job.TimeoutMinutes = &minutes
		}

		if err := buildEnvironment(m, si, ji, &job); err != nil {
			return err
		}
		if err := buildSteps(m, si, ji, &job); err != nil {
			return err
		}
		stage.Jobs = append(stage.Jobs, job)
	}
	return nil
}

func buildPool(jobNode map[string]any, si, ji int, job *Job) error {
	raw, ok := jobNode["pool"]
	if !ok {
		return nil
	}
	// Scalar shorthand: "pool: ubuntu-22.04" means a hosted image.
	if s, isScalar := raw.(string); isScalar {
		job.Pool = Pool{Kind: PoolHosted, Tag: s}
		return nil
	}
	m, isMap := asMapping(raw)
	if !isMap {
		return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "pool"),
			"pool must be a mapping or image name, got %T", raw)
	}
	kind, err := optionalString(m, "kind", fieldPath(jobPath(si, ji), "pool"))
	if err != nil {
		return err
	}
	tag, err := optionalString(m, "tag", fieldPath(jobPath(si, ji), "pool"))
	if err != nil {
		return err
	}
	pool := Pool{Kind: PoolHosted, Tag: tag}
	if kind != "" {
		switch PoolKind(kind) {
		case PoolHosted, PoolSelfHosted:
			pool.Kind = PoolKind(kind)
		default:
			return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "pool.kind"),
				"unknown pool kind %q (want hosted or selfHosted)", kind)
		}
	}
	job.Pool = pool
	return nil
}

func buildEnvironment(jobNode map[string]any, si, ji int, job *Job) error {
	raw, ok := jobNode["environment"]
	if !ok {
		return nil
	}
	if s, isScalar := raw.(string); isScalar {
		job.Environment = &EnvironmentRef{Name: s}
		return nil
	}
	m, isMap := asMapping(raw)
	if !isMap {
		return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "environment"),
			"environment must be a mapping or name, got %T", raw)
	}
	name, err := optionalString(m, "name", fieldPath(jobPath(si, ji), "environment"))
	if err != nil {
		return err
	}
	if name == "" {
		return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "environment"), "environment needs a name")
	}
	approval, err := optionalString(m, "approvalRef", fieldPath(jobPath(si, ji), "environment"))
	if err != nil {
		return err
	}
	job.Environment = &EnvironmentRef{Name: name, ApprovalRef: approval}
	return nil
}

func buildSteps(jobNode map[string]any, si, ji int, job *Job) error {
	raw, _ := lookupAny(jobNode, "steps")
	if raw == nil {
		return nil
	}
	items, ok := asSequence(raw)
	if !ok {
		return newModelError(KindMalformedNode, fieldPath(jobPath(si, ji), "steps"), "steps must be a sequence, got %T", raw)
	}
	for ki, item := range items {
		m, ok := asMapping(item)
		if !ok {
			return newModelError(KindMalformedNode, stepPath(si, ji, ki), "step must be a mapping, got %T", item)
		}

		taskRaw, hasTask := m["task"]
		scriptRaw, hasScript := m["script"]
		if hasTask && hasScript {
			return newModelError(KindMalformedNode, stepPath(si, ji, ki), "step cannot be both a task and a script")
		}
		if !hasTask && !hasScript {
			return newModelError(KindMalformedNode, stepPath(si, ji, ki), "step needs a task or script key")
		}

		step := Step{}
		if hasTask {
			taskName, isStr := taskRaw.(string)
			if !isStr {
				return newModelError(KindMalformedNode, fieldPath(stepPath(si, ji, ki), "task"),
					"task must be a string, got %T", taskRaw)
			}
			step.Kind = StepTask
			// "Cache@2" pins the version inline; a separate version key
			// also works and wins when both are present.
			if at := strings.LastIndex(taskName, "@"); at > 0 {
				step.Task = taskName[:at]
				step.Version = taskName[at+1:]
			} else {
				step.Task = taskName
			}
			version, err := optionalString(m, "version", stepPath(si, ji, ki))
			if err != nil {
				return err
			}
			if version != "" {
				step.Version = version
			}
			inputs, err := buildInputs(m, si, ji, ki)
			if err != nil {
				return err
			}
			step.Inputs = inputs
		} else {
			script, isStr := scriptRaw.(string)
			if !isStr {
				return newModelError(KindMalformedNode, fieldPath(stepPath(si, ji, ki), "script"),
					"script must be a string, got %T", scriptRaw)
			}
			step.Kind = StepScript
			step.Script = script
		}

		displayName, err := optionalString(m, "displayName", stepPath(si, ji, ki))
		if err != nil {
			return err
		}
		step.DisplayName = displayName

		env, err := buildEnv(m, si, ji, ki)
		if err != nil {
			return err
		}
		step.Env = env

		job.Steps = append(job.Steps, step)
	}
	return nil
}

func buildEnv(stepNode map[string]any, si, ji, ki int) ([]EnvVar, error) {
	raw, ok := stepNode["env"]
	if !ok {
		return nil, nil
	}
	m, isMap := asMapping(raw)
	if !isMap {
		return nil, newModelError(KindMalformedNode, fieldPath(stepPath(si, ji, ki), "env"),
			"env must be a mapping, got %T", raw)
	}
	// Sorted by name: map iteration order must not leak into evaluation
	// output.
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]EnvVar, 0, len(names))
	for _, name := range names {
		value, ok := scalarString(m[name])
		if !ok {
			return nil, newModelError(KindMalformedNode, fieldPath(fieldPath(stepPath(si, ji, ki), "env"), name),
				"env value must be a scalar, got %T", m[name])
		}
		env = append(env, EnvVar{
			Name:        name,
			Value:       value,
			IsSecretRef: macroRefPattern.MatchString(strings.TrimSpace(value)),
		})
	}
	return env, nil
}

func buildInputs(stepNode map[string]any, si, ji, ki int) (map[string]string, error) {
	raw, ok := stepNode["inputs"]
	if !ok {
		return nil, nil
	}
	m, isMap := asMapping(raw)
	if !isMap {
		return nil, newModelError(KindMalformedNode, fieldPath(stepPath(si, ji, ki), "inputs"),
			"inputs must be a mapping, got %T", raw)
	}
	inputs := make(map[string]string, len(m))
	for name, value := range m {
		s, ok := scalarString(value)
		if !ok {
			return nil, newModelError(KindMalformedNode, fieldPath(fieldPath(stepPath(si, ji, ki), "inputs"), name),
				"input value must be a scalar, got %T", value)
		}
		inputs[name] = s
	}
	return inputs, nil
}

// =============================================================================
// DEPENDENCY GRAPH
// =============================================================================

// depGraph is a name-indexed dependency graph with deterministic edge order.
type depGraph struct {
	names    []string
	outgoing [][]int
	indeg    []int
}

func stageGraph(p *Pipeline) *depGraph {
	g := newDepGraph(len(p.Stages))
	index := make(map[string]int, len(p.Stages))
	for i := range p.Stages {
		g.names[i] = p.Stages[i].Name
		index[p.Stages[i].Name] = i
	}
	for i := range p.Stages {
		for _, dep := range p.Stages[i].DependsOn {
			g.addEdge(index[dep], i)
		}
	}
	g.sortEdges()
	return g
}

func jobGraph(stage *Stage) *depGraph {
	g := newDepGraph(len(stage.Jobs))
	index := make(map[string]int, len(stage.Jobs))
	for i := range stage.Jobs {
		g.names[i] = stage.Jobs[i].Name
		index[stage.Jobs[i].Name] = i
	}
	for i := range stage.Jobs {
		for _, dep := range stage.Jobs[i].DependsOn {
			g.addEdge(index[dep], i)
		}
	}
	g.sortEdges()
	return g
}

func newDepGraph(n int) *depGraph {
	return &depGraph{
		names:    make([]string, n),
		outgoing: make([][]int, n),
		indeg:    make([]int, n),
	}
}

func (g *depGraph) addEdge(from, to int) {
	g.outgoing[from] = append(g.outgoing[from], to)
	g.indeg[to]++
}

func (g *depGraph) sortEdges() {
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
	}
}

// findCycle returns the members of one dependency cycle in forward order
// with the entry node repeated at the end ("a -> b -> a"), or nil when the
// graph is acyclic. Kahn's algorithm proves acyclicity; when it fails, a
// colored DFS over canonical indices extracts a stable witness so the same
// input always names the same cycle.
func findCycle(g *depGraph) []string {
	if len(topoOrder(g)) == len(g.names) {
		return nil
	}
	return cycleWitness(g)
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder returns a deterministic topological ordering of node indices.
// The ready queue is a min-heap by canonical index.
func topoOrder(g *depGraph) []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// cycleWitness performs a deterministic DFS over canonical indices to
// extract one cycle path. It does not attempt to list all cycles.
func cycleWitness(g *depGraph) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.names))
	parent := make([]int, len(g.names))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] { // already sorted
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back-edge u -> v. Reconstruct cycle v ... u -> v.
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < len(g.names); i++ {
		if color[i] != white {
			continue
		}
		if dfs(i) {
			break
		}
	}

	if len(cycle) == 0 {
		return nil
	}

	// The parent walk collected the cycle in reverse; normalize to names in
	// forward order, keeping the closing repetition.
	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.names[cycle[i]])
	}
	return out
}

// =============================================================================
// TREE DECODING HELPERS
// =============================================================================

// asMapping normalizes mapping nodes. yaml.v3 produces map[string]any for
// string-keyed mappings and map[any]any otherwise; both are accepted, with
// non-string keys stringified.
func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asSequence(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// scalarString stringifies scalar nodes (strings, numbers, booleans).
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool, int, int64, uint64, float64:
		return fmt.Sprintf("%v", s), true
	default:
		return "", false
	}
}

// lookupAny returns the first present key's value along with the key name.
func lookupAny(m map[string]any, keys ...string) (any, string) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, k
		}
	}
	return nil, ""
}

// optionalString reads an optional string field, erring on non-string values.
func optionalString(m map[string]any, key, path string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, isStr := raw.(string)
	if !isStr {
		return "", newModelError(KindMalformedNode, fieldPath(path, key), "%s must be a string, got %T", key, raw)
	}
	return s, nil
}

// optionalStringSlice reads an optional field that may be a single string or
// a sequence of strings.
func optionalStringSlice(m map[string]any, key, path string) ([]string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	if s, isStr := raw.(string); isStr {
		return []string{s}, nil
	}
	items, isSeq := asSequence(raw)
	if !isSeq {
		return nil, newModelError(KindMalformedNode, fieldPath(path, key),
			"%s must be a string or sequence of strings, got %T", key, raw)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, isStr := item.(string)
		if !isStr {
			return nil, newModelError(KindMalformedNode, indexPath(fieldPath(path, key), i),
				"%s entries must be strings, got %T", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// dependsOnList reads the dependsOn field shared by stages and jobs.
func dependsOnList(m map[string]any, path string) ([]string, error) {
	return optionalStringSlice(m, "dependsOn", path)
}
