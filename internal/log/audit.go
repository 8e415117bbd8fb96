package log

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogName is the name under which rename attempts are recorded.
const AuditLogName = "rename_log"

// AuditUser identifies the account on whose behalf a rename ran.
type AuditUser struct {
	AccountID string
	UserName  string
}

// Auditor writes one JSON line per rename attempt. Successful attempts are logged at info level
// with message "OK", failed ones at error level with message "FAIL" and the error attached.
type Auditor struct {
	logger *logrus.Logger
}

// NewAuditor creates an Auditor appending to the file at path. An empty path falls back to
// AuditLogName inside the directory named by LogDirEnvKey, or to stdout when that is unset.
func NewAuditor(path string) (*Auditor, error) {
	if path == "" {
		dir := os.Getenv(LogDirEnvKey)
		if dir == "" {
			return NewAuditorWithWriter(os.Stdout), nil
		}
		path = filepath.Join(dir, AuditLogName)
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	runtime.SetFinalizer(logFile, func(f *os.File) {
		f.Close()
	})

	return NewAuditorWithWriter(logFile), nil
}

// NewAuditorWithWriter creates an Auditor writing to w.
func NewAuditorWithWriter(w io.Writer) *Auditor {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.InfoLevel)
	logger.Formatter = &logrus.JSONFormatter{TimestampFormat: LogTimestampFormat}

	return &Auditor{logger: logger}
}

// OnRename records the outcome of renaming project. options is serialized as compact JSON.
func (a *Auditor) OnRename(user AuditUser, project string, options interface{}, renameErr error) {
	fields := logrus.Fields{
		"log":          AuditLogName,
		"account_id":   user.AccountID,
		"user_name":    user.UserName,
		"project_name": project,
		"event":        "ProjectRename",
		"ts":           time.Now().UnixNano() / int64(time.Millisecond),
	}

	if options != nil {
		if encoded, err := json.Marshal(options); err == nil {
			fields["options"] = string(encoded)
		}
	}

	entry := a.logger.WithFields(fields)
	if renameErr != nil {
		entry.WithField("event", "ProjectRenameFailure").WithError(renameErr).Error("FAIL")
		return
	}

	entry.Info("OK")
}
