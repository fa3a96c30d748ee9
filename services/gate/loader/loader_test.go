// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
)

const samplePipeline = `
name: sample
stages:
  - name: build
    jobs:
      - name: compile
        steps:
          - script: make build
`

func TestParseBytes_ValidDocument(t *testing.T) {
	p, err := ParseBytes([]byte(samplePipeline))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if p.Name != "sample" || len(p.Stages) != 1 {
		t.Errorf("pipeline = %+v", p)
	}
}

func TestParseBytes_InvalidYAML(t *testing.T) {
	_, err := ParseBytes([]byte("stages: [unclosed"))
	if err == nil {
		t.Error("ParseBytes should reject malformed YAML")
	}
}

func TestParseBytes_ModelErrorsPropagate(t *testing.T) {
	doc := "stages:\n  - name: a\n  - name: a\n"
	_, err := ParseBytes([]byte(doc))
	me, ok := model.AsModelError(err)
	if !ok {
		t.Fatalf("error = %v, want ModelError", err)
	}
	if me.Kind != model.KindDuplicateName {
		t.Errorf("Kind = %v, want KindDuplicateName", me.Kind)
	}
}

func TestParseBytes_SizeCap(t *testing.T) {
	big := bytes.Repeat([]byte("#"), MaxPipelineFileSize+1)
	if _, err := ParseBytes(big); !errors.Is(err, ErrPipelineTooLarge) {
		t.Errorf("error = %v, want ErrPipelineTooLarge", err)
	}
}

func TestLoadFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(samplePipeline), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Name != "sample" {
		t.Errorf("Name = %q, want sample", p.Name)
	}
}

func TestLoadFile_RejectsTraversal(t *testing.T) {
	if _, err := LoadFile("../../etc/passwd"); err == nil {
		t.Error("LoadFile should reject traversal paths")
	}
}

func TestLoadFile_RejectsDirectory(t *testing.T) {
	_, err := LoadFile(t.TempDir())
	if !errors.Is(err, ErrNotRegularFile) {
		t.Errorf("error = %v, want ErrNotRegularFile", err)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile of a missing file should fail")
	}
}

func TestDiscover_DefaultsAndOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b-pipeline.yaml":        samplePipeline,
		"a-pipeline.yml":         samplePipeline,
		"notes.txt":              "not yaml",
		"nested/deploy.yaml":     samplePipeline,
		"node_modules/dep.yaml":  samplePipeline,
		".git/config.yaml":       samplePipeline,
		"vendor/v.yml":           samplePipeline,
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	got, err := Discover(dir, nil, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a-pipeline.yml"),
		filepath.Join(dir, "b-pipeline.yaml"),
		filepath.Join(dir, "nested", "deploy.yaml"),
	}
	if len(got) != len(want) {
		t.Fatalf("Discover = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Discover[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDiscover_CustomIncludesExcludes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ci.yaml", "cd.yaml", "draft-ci.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(samplePipeline), 0o640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	got, err := Discover(dir, []string{"c*.yaml"}, []string{"cd.yaml"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "ci.yaml" {
		t.Errorf("Discover = %v, want only ci.yaml", got)
	}
}

func TestDiscover_MissingRoot(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "absent"), nil, nil); err == nil {
		t.Error("Discover of a missing root should fail")
	}
}
