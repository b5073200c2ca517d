package scaffold

import (
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/foundry/internal/config"
)

// CheckExisting checks if foundry.yml or agents/ directory already exist
// Returns an error if they do, nil otherwise
func CheckExisting() error {
	var existingFiles []string

	if _, err := os.Stat(config.DefaultPath); err == nil {
		existingFiles = append(existingFiles, config.DefaultPath)
	}

	if info, err := os.Stat("agents"); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, "agents/")
	}

	if len(existingFiles) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("project already initialized\n\nFound existing")
	if len(existingFiles) == 1 {
		fmt.Fprintf(&b, ": %s\n", existingFiles[0])
	} else {
		b.WriteString(" files:\n")
		for _, file := range existingFiles {
			fmt.Fprintf(&b, "  - %s\n", file)
		}
	}
	b.WriteString("\nUse 'foundry init --force' to reinitialize (this will overwrite existing configuration)")

	return fmt.Errorf("%s", b.String())
}
