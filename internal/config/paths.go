// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package config

import (
	"os"
	"path/filepath"
)

// ConfigFileNames lists the project config names in lookup order.
var ConfigFileNames = []string{"devstack.yml", "devstack.yaml"}

const (
	CredentialsFileName = ".devstack.env"
	BackupDirName       = "backups"
)

// CredentialsPath returns the credential file for a project directory.
func CredentialsPath(projectDir string) string {
	return filepath.Join(projectDir, CredentialsFileName)
}

// BackupDir returns the default backup directory for a project.
func BackupDir(projectDir string) string {
	return filepath.Join(projectDir, BackupDirName)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FindFile searches for filename in dir and its parents.
// Returns the absolute path, or "" when not found.
func FindFile(dir, filename string) string {
	current, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(current, filename)
		if FileExists(candidate) {
			return candidate
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return ""
}

// FindConfigFile returns the nearest project config at or above dir.
// A closer directory wins over a preferred file name further up.
func FindConfigFile(dir string) string {
	current, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(current, name)
			if FileExists(candidate) {
				return candidate
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}
