package target

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

// BackupInfix separates a table name from the timestamp in backup names.
const BackupInfix = "_rb_"

const backupTimeLayout = "20060102150405"

var backupSuffix = regexp.MustCompile(`_rb_(\d{14})$`)

// BackupTableName derives the name of a rollback backup for table created
// at the given time: <table>_rb_<yyyymmddhhmmss>. When that does not fit in
// maxLen the table part is shortened and tagged with a hash of the full
// table name, so tables sharing a long prefix still get distinct backups.
// The timestamp is never cut.
func BackupTableName(table string, at time.Time, maxLen int) string {
	return backupPrefix(table, maxLen) + BackupInfix + at.UTC().Format(backupTimeLayout)
}

// backupPrefix is the part of a backup name before the infix.
func backupPrefix(table string, maxLen int) string {
	suffixLen := len(BackupInfix) + len(backupTimeLayout)
	if maxLen <= 0 || len(table)+suffixLen <= maxLen {
		return table
	}
	sum := sha256.Sum256([]byte(table))
	tag := "_" + hex.EncodeToString(sum[:])[:backupHashLen]
	keep := maxLen - suffixLen - len(tag)
	if keep < 1 {
		keep = 1
	}
	return truncateRunes(table, keep) + tag
}

const backupHashLen = 8

// ParseBackupName reports whether name looks like a backup table and
// returns the (possibly shortened) table prefix and creation time.
func ParseBackupName(name string) (prefix string, at time.Time, ok bool) {
	m := backupSuffix.FindStringSubmatchIndex(name)
	if m == nil {
		return "", time.Time{}, false
	}
	at, err := time.Parse(backupTimeLayout, name[m[2]:m[3]])
	if err != nil {
		return "", time.Time{}, false
	}
	return name[:m[0]], at, true
}

// IsBackupOf reports whether backup could have been created for table by
// BackupTableName with the same maxLen.
func IsBackupOf(backup, table string, maxLen int) bool {
	prefix, _, ok := ParseBackupName(backup)
	if !ok || prefix == "" {
		return false
	}
	return prefix == backupPrefix(table, maxLen)
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
