//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions warns when a config file holding target credentials
// or a Slack webhook is readable by group or others.
func checkFilePermissions(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	mode := info.Mode().Perm()
	if mode&0077 == 0 {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: config file '%s' is accessible to other users (%04o)\n"+
			"         It may contain target database credentials or webhook URLs.\n"+
			"         Run: chmod 600 %s\n\n",
		path, mode, path,
	)
}
