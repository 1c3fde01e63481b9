package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultWorkspaceDirName = ".wecomgw/workspace"

const (
	envWorkspace       = "WECOMGW_WORKSPACE"
	envLegacyWorkspace = "CLAWDBOT_WORKSPACE"
)

// ResolveRoot normalizes workspace path input and creates it when missing.
//
// An empty input falls back to the workspace env vars, then to a directory
// under the user's home.
func ResolveRoot(workspacePath string) (string, error) {
	trimmed := strings.TrimSpace(workspacePath)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(envWorkspace))
	}
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(envLegacyWorkspace))
	}
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(homeDir, defaultWorkspaceDirName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute workspace path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}

	return cleanPath, nil
}

// DatedDir creates and returns root/category/YYYY-MM-DD for the given day.
// Uploads and generated images land in per-day directories.
func DatedDir(root, category string, now time.Time) (string, error) {
	dir := filepath.Join(root, category, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s directory: %w", category, err)
	}

	return dir, nil
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	if path == "~" {
		return homeDir, nil
	}

	return filepath.Join(homeDir, path[2:]), nil
}
