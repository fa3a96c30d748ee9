package e2e

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// cleanPipeline satisfies every built-in rule: pinned task, displayName,
// a job timeout, and nothing secret or production-facing.
const cleanPipeline = `
name: clean-pipeline
stages:
  - name: build
    jobs:
      - name: compile
        timeoutInMinutes: 30
        steps:
          - task: GoBuild@1
            displayName: Compile the services
`

// violatingPipeline trips a known set of rules: an unpinned task, two
// missing display names, an echoed secret, two missing timeouts, and an
// unapproved, unlocked production deploy.
const violatingPipeline = `
name: e2e-violations
variables:
  - group: deploy-secrets
    isSecret: true
    variables: [DEPLOY_SECRET]
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - task: GoBuild
          - script: echo "token is $DEPLOY_SECRET"
  - name: deploy
    jobs:
      - name: release
        environment:
          name: production
        steps:
          - task: Deploy@2
            displayName: Ship it
`

// warnOnlyPipeline produces exactly one warning (the unpinned task) and
// nothing at error severity.
const warnOnlyPipeline = `
name: warn-only
stages:
  - name: build
    jobs:
      - name: compile
        timeoutInMinutes: 30
        steps:
          - task: GoBuild
            displayName: Compile
`

// runGate executes the binary built in main_test.go and returns its
// combined output and exit code.
func runGate(t *testing.T, dir string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(cliBinary, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("running gate %v: %v\n%s", args, err, out)
		}
		return string(out), exitErr.ExitCode()
	}
	return string(out), 0
}

// runGateStdout is runGate but returns stdout alone, for parsing JSON
// without warning lines mixed in.
func runGateStdout(t *testing.T, dir string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(cliBinary, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("running gate %v: %v", args, err)
		}
		return string(out), exitErr.ExitCode()
	}
	return string(out), 0
}

func writePipeline(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write pipeline: %v", err)
	}
	return path
}

// TestCheck_CleanPipeline verifies a compliant file passes with exit 0.
func TestCheck_CleanPipeline(t *testing.T) {
	dir := t.TempDir()
	target := writePipeline(t, dir, "pipeline.yaml", cleanPipeline)

	output, code := runGate(t, dir, "check", target, "--no-history")

	if code != 0 {
		t.Fatalf("FAIL: Expected exit 0 for a clean pipeline, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "clean") {
		t.Errorf("FAIL: Output did not mark the file clean.\nOutput: %s", output)
	}
	if !strings.Contains(output, "SUMMARY: errors=0 warnings=0 info=0") {
		t.Errorf("FAIL: Expected an all-zero summary.\nOutput: %s", output)
	}
	t.Log("✅ Clean pipeline passed the gate.")
}

// TestCheck_ViolationsFail verifies a non-compliant file fails with exit 1
// and reports the expected findings.
func TestCheck_ViolationsFail(t *testing.T) {
	dir := t.TempDir()
	target := writePipeline(t, dir, "pipeline.yaml", violatingPipeline)

	output, code := runGate(t, dir, "check", target, "--no-history")

	if code != 1 {
		t.Fatalf("FAIL: Expected exit 1 for error-level findings, got %d.\nOutput: %s", code, output)
	}

	// The two error-level rules must both surface
	for _, ruleID := range []string{"SecretNotEchoed", "ApprovalRequiredForProd"} {
		if !strings.Contains(output, ruleID) {
			t.Errorf("FAIL: Expected finding from %s.\nOutput: %s", ruleID, output)
		}
	}

	// Full tally: unpinned task + 2 missing timeouts + unlocked prod stage
	// are warnings, the 2 missing display names are info
	if !strings.Contains(output, "SUMMARY: errors=2 warnings=4 info=2") {
		t.Errorf("FAIL: Finding tally drifted.\nOutput: %s", output)
	}
	t.Log("✅ Violations detected and reported.")
}

// TestCheck_FailOnSeverity verifies --fail-on moves the exit threshold.
func TestCheck_FailOnSeverity(t *testing.T) {
	dir := t.TempDir()
	target := writePipeline(t, dir, "pipeline.yaml", warnOnlyPipeline)

	// Default fail-on is error: a warning-only file passes
	output, code := runGate(t, dir, "check", target, "--no-history")
	if code != 0 {
		t.Errorf("FAIL: Warning-only file should pass at the default threshold, got exit %d.\nOutput: %s", code, output)
	}

	// Lowering the threshold to warning makes the same file fail
	output, code = runGate(t, dir, "check", target, "--no-history", "--fail-on", "warning")
	if code != 1 {
		t.Errorf("FAIL: Expected exit 1 with --fail-on warning, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "TaskVersionPinned") {
		t.Errorf("FAIL: Expected the unpinned-task warning.\nOutput: %s", output)
	}
	t.Log("✅ fail-on threshold respected.")
}

// TestCheck_JSONOutput verifies --output json emits a parseable report.
func TestCheck_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	target := writePipeline(t, dir, "pipeline.yaml", violatingPipeline)

	stdout, code := runGateStdout(t, dir, "check", target, "--no-history", "--output", "json")
	if code != 1 {
		t.Fatalf("FAIL: Expected exit 1, got %d", code)
	}

	var outcome struct {
		Results []struct {
			Path   string `json:"path"`
			Report *struct {
				RunID    string            `json:"run_id"`
				Findings []json.RawMessage `json:"findings"`
				Summary  map[string]int    `json:"summary"`
			} `json:"report"`
			Error string `json:"error"`
		} `json:"results"`
		FilesChecked int `json:"files_checked"`
		FilesFailed  int `json:"files_failed"`
	}
	if err := json.Unmarshal([]byte(stdout), &outcome); err != nil {
		t.Fatalf("FAIL: Output is not valid JSON: %v\nOutput: %s", err, stdout)
	}

	if outcome.FilesChecked != 1 || outcome.FilesFailed != 0 {
		t.Errorf("FAIL: Expected 1 checked / 0 failed, got %d/%d", outcome.FilesChecked, outcome.FilesFailed)
	}
	if len(outcome.Results) != 1 || outcome.Results[0].Report == nil {
		t.Fatalf("FAIL: Expected one result with a report.\nOutput: %s", stdout)
	}
	rep := outcome.Results[0].Report
	if rep.RunID == "" {
		t.Error("FAIL: Report carries no run id")
	}
	if len(rep.Findings) != 8 {
		t.Errorf("FAIL: Expected 8 findings, got %d", len(rep.Findings))
	}
	if rep.Summary["error"] != 2 {
		t.Errorf("FAIL: Expected 2 error findings in the summary, got %d", rep.Summary["error"])
	}
	t.Log("✅ JSON output parsed cleanly.")
}

// TestCheck_DirectoryDiscovery verifies directory arguments are searched
// recursively while vendored trees are skipped.
func TestCheck_DirectoryDiscovery(t *testing.T) {
	dir := t.TempDir()
	writePipeline(t, dir, "ci.yaml", cleanPipeline)
	if err := os.MkdirAll(filepath.Join(dir, "deploy"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePipeline(t, filepath.Join(dir, "deploy"), "release.yml", warnOnlyPipeline)

	// Neither of these is a pipeline: wrong extension, vendored directory
	writePipeline(t, dir, "notes.txt", "not a pipeline")
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePipeline(t, filepath.Join(dir, "node_modules"), "skipped.yaml", cleanPipeline)

	output, code := runGate(t, dir, "check", dir, "--no-history")

	if code != 0 {
		t.Fatalf("FAIL: Expected exit 0, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "ci.yaml") {
		t.Errorf("FAIL: ci.yaml was not discovered.\nOutput: %s", output)
	}
	if !strings.Contains(output, "release.yml") {
		t.Errorf("FAIL: Nested release.yml was not discovered.\nOutput: %s", output)
	}
	if strings.Contains(output, "node_modules") {
		t.Errorf("FAIL: Vendored directory should be skipped.\nOutput: %s", output)
	}
	if strings.Contains(output, "notes.txt") {
		t.Errorf("FAIL: Non-YAML file should be ignored.\nOutput: %s", output)
	}
	t.Log("✅ Discovery walked the tree correctly.")
}

// TestCheck_MalformedDocument verifies a file that cannot be parsed
// produces exit 2, not a findings exit.
func TestCheck_MalformedDocument(t *testing.T) {
	dir := t.TempDir()
	target := writePipeline(t, dir, "broken.yaml", "stages: [unclosed\n  - {{{{\n")

	output, code := runGate(t, dir, "check", target, "--no-history")

	if code != 2 {
		t.Fatalf("FAIL: Expected exit 2 for a malformed document, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "load failed") {
		t.Errorf("FAIL: Expected a load failure marker.\nOutput: %s", output)
	}
	t.Log("✅ Malformed document rejected with a setup error.")
}

// TestCheck_MissingPath verifies a nonexistent argument is a setup error.
func TestCheck_MissingPath(t *testing.T) {
	dir := t.TempDir()

	output, code := runGate(t, dir, "check", filepath.Join(dir, "ghost.yaml"), "--no-history")

	if code != 2 {
		t.Fatalf("FAIL: Expected exit 2 for a missing path, got %d.\nOutput: %s", code, output)
	}
	if !strings.Contains(output, "Failed to collect pipeline files") {
		t.Errorf("FAIL: Expected the collection error message.\nOutput: %s", output)
	}
	t.Log("✅ Missing path rejected.")
}
