// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GGPrompts/flowcanvas/internal/diagram"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

func main() {
	// Branching release canvas: start → build → test → gate(ship?) → two
	// branches → announce.
	bundle := &schema.GraphBundle{
		ID:   "sample",
		Name: "Release pipeline",
		Steps: []schema.Step{
			{ID: "start", Label: "Start", Type: schema.StepTypeEntry},
			{ID: "build", Label: "Build", Type: schema.StepTypeToolCall, ResourcePath: "tools/build"},
			{ID: "test", Label: "Test suite", Type: schema.StepTypeShellCommand},
			{ID: "gate", Label: "Ship it?", Type: schema.StepTypeDecision, Condition: "steps.test.passed"},
			{ID: "deploy", Label: "Deploy", Type: schema.StepTypeBackgroundAgent},
			{ID: "rollback", Label: "Roll back", Type: schema.StepTypeSkillInvocation, ResourcePath: "skills/rollback"},
			{ID: "announce", Label: "Announce", Type: schema.StepTypeCompletion},
		},
		Edges: []schema.EdgeConnection{
			{Source: "start", Target: "build"},
			{Source: "build", Target: "test"},
			{Source: "test", Target: "gate"},
			{Source: "gate", Target: "deploy", Label: "yes"},
			{Source: "gate", Target: "rollback", Label: "no"},
			{Source: "deploy", Target: "announce"},
			{Source: "rollback", Target: "announce"},
		},
		Positions: schema.Positions{
			"start": {}, "build": {X: 260}, "test": {X: 520},
			"gate": {X: 780}, "deploy": {X: 1040, Y: -70}, "rollback": {X: 1040, Y: 70},
			"announce": {X: 1300},
		},
	}

	model := diagram.Build(bundle, diagram.BuildOptions{})

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	// ASCII
	ascii := diagram.RenderASCII(model)
	os.WriteFile(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii), 0o644)
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	// Mermaid
	mermaid := diagram.RenderMermaid(model)
	os.WriteFile(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	// Image (PNG)
	png, imgErr := diagram.RenderImage(model)
	if imgErr != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", imgErr)
	} else {
		pngPath := filepath.Join(outDir, "diagram-sample.png")
		os.WriteFile(pngPath, png, 0o644)
		fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
	}
}
