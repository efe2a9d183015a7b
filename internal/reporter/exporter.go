package reporter

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iyulab/sigma-cti-triplets/internal/detector"
)

// PackageInfo is written into the bundle as package_info.json.
type PackageInfo struct {
	Version     string              `json:"version"`
	RunID       string              `json:"run_id"`
	CreatedAt   time.Time           `json:"created_at"`
	ToolVersion string              `json:"tool_version"`
	Files       []detector.FileHash `json:"files"`
}

// ExportBundle creates outputDir.zip holding every regular file in outputDir
// plus package_info.json. Returns the path to the archive.
func ExportBundle(outputDir, runID, toolVersion string) (string, error) {
	zipPath := filepath.Clean(outputDir) + ".zip"

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	defer w.Close()

	dirBase := filepath.Base(filepath.Clean(outputDir))
	var files []detector.FileHash

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			continue
		}

		zf, err := w.Create(dirBase + "/" + entry.Name())
		if err != nil {
			return "", fmt.Errorf("zip create %s: %w", entry.Name(), err)
		}
		if _, err := zf.Write(content); err != nil {
			return "", fmt.Errorf("zip write %s: %w", entry.Name(), err)
		}
		files = append(files, detector.FileHash{
			File:   entry.Name(),
			SHA256: detector.SHA256Hex(content),
			Size:   len(content),
		})
	}

	info := PackageInfo{
		Version:     "1.0",
		RunID:       runID,
		CreatedAt:   time.Now().UTC(),
		ToolVersion: toolVersion,
		Files:       files,
	}
	infoJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal package info: %w", err)
	}
	zf, err := w.Create(dirBase + "/package_info.json")
	if err != nil {
		return "", fmt.Errorf("zip create package_info: %w", err)
	}
	if _, err := zf.Write(infoJSON); err != nil {
		return "", fmt.Errorf("zip write package_info: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("close zip file: %w", err)
	}
	return zipPath, nil
}
