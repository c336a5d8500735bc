package runtime

import (
	"testing"

	"burrow/internal/registry"
)

var (
	_ Gateway           = (*LXC)(nil)
	_ Gateway           = (*Docker)(nil)
	_ registry.Registry = (*Docker)(nil)
)

func TestTopColumns(t *testing.T) {
	tests := []struct {
		name   string
		titles []string
		pid    int
		cmd    int
	}{
		{"standard ps", []string{"UID", "PID", "PPID", "C", "STIME", "TTY", "TIME", "CMD"}, 1, 7},
		{"command spelled out", []string{"PID", "USER", "COMMAND"}, 0, 2},
		{"missing columns", []string{"USER", "TTY"}, -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, cmd := topColumns(tt.titles)
			if pid != tt.pid || cmd != tt.cmd {
				t.Errorf("topColumns(%v) = (%d, %d), want (%d, %d)", tt.titles, pid, cmd, tt.pid, tt.cmd)
			}
		})
	}
}
