//go:build ignore

// Test script to exercise the full check pipeline.
// Run with: go run scripts/smoke_check.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AleutianAI/AleutianGate/services/gate/engine"
	"github.com/AleutianAI/AleutianGate/services/gate/loader"
	"github.com/AleutianAI/AleutianGate/services/gate/overlay"
	"github.com/AleutianAI/AleutianGate/services/gate/rule/builtin"
)

// samplePipeline carries deliberate violations: an unpinned task, a
// missing display name, an echoed secret, and no timeout anywhere.
const samplePipeline = `
name: smoke-sample
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

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║              CHECK PIPELINE INTEGRATION TEST                      ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")

	// 1. Parse the document and build the model
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 1: Parsing sample pipeline                                 │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	p, err := loader.ParseBytes([]byte(samplePipeline))
	if err != nil {
		log.Fatalf("parse failed: %v", err)
	}
	fmt.Printf("  ✓ Model built: %d stage(s)\n", len(p.Stages))

	// 2. Load the rule catalog
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 2: Loading rule catalog                                    │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	reg := builtin.Default()
	fmt.Printf("  ✓ %d rule(s) registered\n", reg.Len())

	// 3. Evaluate with the default config
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 3: Evaluating with default config                          │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	eng := engine.New()
	rep := eng.Evaluate(ctx, p, reg, overlay.Default())
	fmt.Printf("  ✓ Run %s: %d finding(s), worst %s\n", rep.RunID[:8], rep.Total(), rep.Worst())
	for _, f := range rep.Findings {
		fmt.Printf("    - [%s] %s at %s: %s\n", f.Severity, f.RuleID, f.Location.String(), f.Message)
	}

	// 4. Evaluate with a tuned config
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 4: Evaluating with a tuned config                          │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	tuned, err := overlay.Parse([]byte(`
disabled_rules:
  - DisplayNameProvided
severity_overrides:
  TimeoutConfigured: error
thresholds:
  maxTimeoutMinutes: 60
`))
	if err != nil {
		log.Fatalf("overlay parse failed: %v", err)
	}
	tunedRep := eng.Evaluate(ctx, p, reg, tuned)
	fmt.Printf("  ✓ %d finding(s) after tuning (was %d)\n", tunedRep.Total(), rep.Total())

	// 5. Serialize the report
	fmt.Println("\n┌─────────────────────────────────────────────────────────────────┐")
	fmt.Println("│ Step 5: Serializing the report                                  │")
	fmt.Println("└─────────────────────────────────────────────────────────────────┘")
	out, err := json.MarshalIndent(tunedRep, "  ", "  ")
	if err != nil {
		log.Fatalf("marshal failed: %v", err)
	}
	fmt.Printf("  ✓ %d bytes of JSON\n", len(out))
	fmt.Fprintln(os.Stdout, string(out))

	fmt.Println("\n╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        ALL STEPS PASSED                           ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
}
