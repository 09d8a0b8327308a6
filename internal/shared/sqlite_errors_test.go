package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "busy text", err: errors.New("exec: SQLITE_BUSY"), want: true},
		{name: "locked text", err: fmt.Errorf("insert: %w", errors.New("database is locked (5)")), want: true},
		{name: "other", err: errors.New("no such table: stories"), want: false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("%s: IsSQLiteConflictError = %v, want %v", tt.name, got, tt.want)
		}
	}
}
