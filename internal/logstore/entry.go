package logstore

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

const (
	// FilePrefix and FileSuffix frame the UTC date in every log file name:
	// selective-disclosure-YYYY-MM-DD.log
	FilePrefix = "selective-disclosure-"
	FileSuffix = ".log"

	// TimestampField is the key the store stamps on every entry.
	TimestampField = "timestamp"

	// TimestampLayout matches the ISO-8601 form used for timestamps and
	// file modification times (millisecond precision, Z suffix).
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

	dateLayout = "2006-01-02"
)

var (
	// ErrNotObject is returned by Append when the body is not a JSON object.
	ErrNotObject = errors.New("log entry must be a JSON object")

	// ErrInvalidName is returned for names that are not plain log file names.
	ErrInvalidName = errors.New("invalid log file name")
)

// FileInfo describes one daily log file.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// FileName returns the daily log file name for the UTC date of t.
func FileName(t time.Time) string {
	return FilePrefix + t.UTC().Format(dateLayout) + FileSuffix
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// fileDate extracts the date from a daily log file name.
func fileDate(name string) (time.Time, error) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileSuffix) {
		return time.Time{}, ErrInvalidName
	}
	date := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
	return time.ParseInLocation(dateLayout, date, time.UTC)
}

func isLogFile(name string) bool {
	return strings.HasSuffix(name, FileSuffix)
}

// validName rejects anything that could escape the store directory.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return false
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return false
	}
	return isLogFile(name)
}
