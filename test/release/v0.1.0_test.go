package test

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// releasePipeline carries one violation per category so the release
// build proves every rule family still fires.
const releasePipeline = `
name: release-gate-sample
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

// TestCheckCLIRelease builds the CLI and runs a real check against a
// pipeline with known violations.
func TestCheckCLIRelease(t *testing.T) {
	// 1. Build the latest CLI binary
	// We build it to a temp location to avoid messing with the user's install
	tmpBin := "./gate_test_bin"
	buildCmd := exec.Command("go", "build", "-o", tmpBin, "../../cmd/gate")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI: %v\nOutput: %s", err, string(output))
	}
	defer os.Remove(tmpBin) // Cleanup binary

	// 2. Create the target pipeline file
	targetFile := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(targetFile, []byte(releasePipeline), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// 3. Run the check command
	cmd := exec.Command(tmpBin, "check", targetFile, "--no-history")
	outputBytes, err := cmd.CombinedOutput()
	output := string(outputBytes)
	t.Logf("Check Output:\n%s", output)

	// 4. Assertions
	// Error-level findings must produce exit 1, not a crash
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("FAIL: Expected exit 1, command returned: %v", err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("FAIL: Expected exit 1, got %d", exitErr.ExitCode())
	}

	// Every rule family must still fire on its planted violation
	expectedFindings := []string{
		"TaskVersionPinned",       // structure: unpinned GoBuild
		"SecretNotEchoed",         // security: echoed DEPLOY_SECRET
		"TimeoutConfigured",       // performance: no job timeouts
		"ApprovalRequiredForProd", // deployment: unapproved production env
	}
	for _, ruleID := range expectedFindings {
		if !strings.Contains(output, ruleID) {
			t.Errorf("FAIL: Release build lost the %s finding.", ruleID)
		}
	}

	if !strings.Contains(output, "SUMMARY: errors=2 warnings=4 info=2") {
		t.Errorf("FAIL: Finding tally changed for the reference pipeline.\nOutput: %s", output)
	} else {
		t.Log("SUCCESS: Reference pipeline produced the expected findings.")
	}
}

// TestRuleCatalogRelease validates the shipped rule catalog: every rule
// a release documented must still be registered.
func TestRuleCatalogRelease(t *testing.T) {
	// 1. Build CLI
	tmpBin := "./gate_catalog_test_bin"
	buildCmd := exec.Command("go", "build", "-o", tmpBin, "../../cmd/gate")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI: %v\n%s", err, string(out))
	}
	defer os.Remove(tmpBin)

	// 2. Dump the catalog
	t.Log("Running 'gate rules --output json'...")
	cmd := exec.Command(tmpBin, "rules", "--output", "json")
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("Rules command failed: %v", err)
	}

	var listings []struct {
		ID       string `json:"id"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(out, &listings); err != nil {
		t.Fatalf("Failed to parse catalog JSON: %v\nOutput: %s", err, out)
	}

	// 3. Assertions: the catalog is a compatibility surface. Renaming or
	// dropping a rule breaks user configs that reference it by id.
	shipped := map[string]string{
		"TaskVersionPinned":       "structure",
		"DisplayNameProvided":     "structure",
		"JobHasSteps":             "structure",
		"SecretNotEchoed":         "security",
		"SecretEnvLiteral":        "security",
		"TimeoutConfigured":       "performance",
		"TimeoutCeiling":          "performance",
		"CacheKeyHashed":          "performance",
		"ShallowCheckout":         "performance",
		"TestResultsPublished":    "testing",
		"CoverageThreshold":       "testing",
		"ApprovalRequiredForProd": "deployment",
		"ProdLockBehavior":        "deployment",
	}

	if len(listings) != len(shipped) {
		t.Errorf("FAIL: Catalog has %d rules, release documented %d. Update the release notes.",
			len(listings), len(shipped))
	}

	got := make(map[string]string, len(listings))
	for _, l := range listings {
		got[l.ID] = l.Category
	}
	for id, category := range shipped {
		gotCategory, ok := got[id]
		if !ok {
			t.Errorf("FAIL: Rule %s is missing from the catalog.", id)
			continue
		}
		if gotCategory != category {
			t.Errorf("FAIL: Rule %s moved from %s to %s.", id, category, gotCategory)
		}
	}
	t.Log("SUCCESS: Shipped rule catalog is intact.")
}
