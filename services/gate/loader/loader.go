// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader reads pipeline definition files into the document
// model. It owns the YAML decoding step and the file-access guards in
// front of it; semantic validation lives in the model builder.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGate/services/gate/model"
)

// MaxPipelineFileSize is the maximum allowed pipeline file size (1MB).
// SEC2: Prevents memory issues from large files.
const MaxPipelineFileSize = 1024 * 1024

var (
	// ErrPipelineTooLarge is returned when a pipeline file exceeds
	// MaxPipelineFileSize.
	ErrPipelineTooLarge = errors.New("pipeline file too large")

	// ErrNotRegularFile is returned for directories, symlink targets
	// that vanish, devices, and other irregular files.
	ErrNotRegularFile = errors.New("not a regular file")
)

// defaultIncludes matches candidate pipeline files during discovery.
var defaultIncludes = []string{"*.yml", "*.yaml"}

// skipDirs are never descended into during discovery.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
}

// ParseBytes decodes a pipeline document and builds the model.
func ParseBytes(data []byte) (*model.Pipeline, error) {
	if len(data) > MaxPipelineFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPipelineTooLarge, len(data), MaxPipelineFileSize)
	}

	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode pipeline yaml: %w", err)
	}
	p, err := model.Build(tree)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile reads and parses one pipeline file.
//
// Description:
//
//	Applies the file-access guards before reading: the path is cleaned
//	and rejected when a traversal sequence survives cleaning (SEC1),
//	irregular files are rejected, and the size cap is checked from
//	stat before the file is read (SEC2).
//
// Inputs:
//   - path: pipeline file path
//
// Outputs:
//   - *model.Pipeline: the built model
//   - error: guard, read, decode, or model build failure, with the
//     path in context
func LoadFile(path string) (*model.Pipeline, error) {
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return nil, fmt.Errorf("pipeline path %q contains a traversal sequence", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("stat pipeline: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, clean)
	}
	if info.Size() > MaxPipelineFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrPipelineTooLarge, clean, info.Size(), MaxPipelineFileSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	p, err := ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", clean, err)
	}
	return p, nil
}

// Discover walks root collecting candidate pipeline files.
//
// Includes and excludes are glob patterns matched against the file
// base name; empty includes default to *.yml and *.yaml. Version
// control and dependency directories are always skipped, as are files
// over the size cap. Results are sorted for reproducible runs.
func Discover(root string, includes, excludes []string) ([]string, error) {
	if len(includes) == 0 {
		includes = defaultIncludes
	}

	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()

		if d.IsDir() {
			if _, skip := skipDirs[name]; skip && path != root {
				return filepath.SkipDir
			}
			if matchesAny(excludes, name) && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if !matchesAny(includes, name) || matchesAny(excludes, name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || info.Size() > MaxPipelineFileSize {
			return nil
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover pipelines under %s: %w", root, err)
	}

	sort.Strings(found)
	return found, nil
}

// matchesAny reports whether name matches any of the glob patterns.
// Malformed patterns never match.
func matchesAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if ok, err := filepath.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
