//go:build windows

package config

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var broadPrincipals = []string{
	"everyone",
	"authenticated users",
	"builtin\\users",
	"users",
}

// checkFilePermissions warns when icacls reports that a broad principal can
// read the config file.
func checkFilePermissions(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	output, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}

	acl := strings.ToLower(string(output))
	for _, principal := range broadPrincipals {
		if !strings.Contains(acl, principal) {
			continue
		}
		return fmt.Sprintf(
			"WARNING: config file '%s' grants access to %q\n"+
				"         It may contain target database credentials or webhook URLs.\n"+
				"         Secure it with: icacls \"%s\" /inheritance:r /grant:r \"%%USERNAME%%:F\"\n\n",
			path, principal, path,
		)
	}
	return ""
}
