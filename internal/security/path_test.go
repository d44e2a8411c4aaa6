package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
		errMsg  string
	}{
		{name: "valid relative path", path: "config/autoforwardx.json"},
		{name: "valid absolute path", path: "/etc/autoforwardx/config.json"},
		{name: "dots in filename", path: "config/app..json"},
		{name: "empty path", path: "", wantErr: true, errMsg: "path cannot be empty"},
		{name: "leading traversal", path: "../../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "embedded traversal", path: "config/../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateSQLiteDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		wantErr bool
	}{
		{dsn: "autoforwardx.db"},
		{dsn: "/var/lib/autoforwardx/state.db"},
		{dsn: ":memory:"},
		{dsn: "file::memory:?cache=shared"},
		{dsn: "file:data/afx.db?_journal_mode=WAL"},
		{dsn: "file:../outside.db?mode=rwc", wantErr: true},
		{dsn: "../../outside.db", wantErr: true},
		{dsn: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			err := ValidateSQLiteDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
