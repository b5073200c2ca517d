package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/foundry/internal/config"
	"github.com/dyluth/foundry/internal/printer"
)

//go:embed templates/*
var templatesFS embed.FS

// exampleAgentDir holds the example collaborator written by Initialize.
var exampleAgentDir = filepath.Join("agents", "example-supervisor")

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the foundry project structure in the working directory.
// If force is true, it will remove existing foundry.yml and agents/ directory
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := createDirectories(); err != nil {
		return err
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles()
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	if _, err := os.Stat(config.DefaultPath); err == nil {
		printer.Warning("Removing existing %s...\n", config.DefaultPath)
		if err := os.Remove(config.DefaultPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultPath, err)
		}
	}

	if info, err := os.Stat("agents"); err == nil && info.IsDir() {
		printer.Warning("Removing existing agents/ directory...\n")
		if err := os.RemoveAll("agents"); err != nil {
			return fmt.Errorf("failed to remove agents/ directory: %w", err)
		}
	}

	return nil
}

// getTemplateFiles reads all embedded templates and maps them to their targets
func getTemplateFiles() ([]FileInfo, error) {
	targets := []struct {
		template string
		path     string
		perm     os.FileMode
	}{
		{"foundry.yml.tmpl", config.DefaultPath, 0644},
		{"run.sh.tmpl", filepath.Join(exampleAgentDir, "run.sh"), 0755},
		{"README.md.tmpl", filepath.Join(exampleAgentDir, "README.md"), 0644},
	}

	files := make([]FileInfo, 0, len(targets))
	for _, t := range targets {
		content, err := templatesFS.ReadFile("templates/" + t.template)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", t.template, err)
		}
		files = append(files, FileInfo{Path: t.path, Content: content, Permissions: t.perm})
	}

	return files, nil
}

func createDirectories() error {
	dirs := []string{
		"agents",
		exampleAgentDir,
		".foundry",
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return nil
}

// validateCreatedFiles loads the written foundry.yml through the same path the
// CLI uses, so a broken template fails init rather than the first run.
func validateCreatedFiles() error {
	if _, err := config.Load(config.DefaultPath); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	printer.Info("\n")
	printer.Success("Successfully initialized foundry project!\n")
	printer.Info("\nCreated:\n")
	printer.Info("  ✓ %s\n", config.DefaultPath)
	printer.Info("  ✓ %s\n", filepath.Join(exampleAgentDir, "run.sh"))
	printer.Info("  ✓ %s\n", filepath.Join(exampleAgentDir, "README.md"))
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Add '.foundry/' to your .gitignore file\n")
	printer.Info("  2. Point the roles in %s at your own collaborators\n", config.DefaultPath)
	printer.Info("  3. Run 'foundry run \"<intent>\"' or 'foundry serve'\n")
}
