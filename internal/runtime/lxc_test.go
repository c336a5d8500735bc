package runtime

import "testing"

func TestParseInfoState(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want RunState
	}{
		{"running", "Name:  web\nState: RUNNING\nPID:   4242\n", StateRunning},
		{"stopped", "State: STOPPED\n", StateStopped},
		{"lowercase key", "state: RUNNING\n", StateRunning},
		{"mixed case value", "State: Running\n", StateRunning},
		{"garbage", "no state here\n", StateUnknown},
		{"empty", "", StateUnknown},
		{"frozen is not a run state", "State: FROZEN\n", StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseInfoState(tt.out); got != tt.want {
				t.Errorf("parseInfoState(%q) = %v, want %v", tt.out, got, tt.want)
			}
		})
	}
}

func TestParseProcessList(t *testing.T) {
	out := `CONTAINER  PID  TTY  TIME      CMD
web        101  ?    00:00:01  init
web        102  ?    00:00:00  sshd
db         201  ?    00:00:02  postgres
`
	procs := parseProcessList(out)
	if len(procs) != 3 {
		t.Fatalf("got %d processes, want 3", len(procs))
	}
	if procs[0].Container != "web" || procs[0].PID != "101" || procs[0].Command != "init" {
		t.Errorf("procs[0] = %+v", procs[0])
	}
	if procs[2].Container != "db" || procs[2].Command != "postgres" {
		t.Errorf("procs[2] = %+v", procs[2])
	}

	web := 0
	for _, p := range procs {
		if p.Container == "web" {
			web++
		}
	}
	if web != 2 {
		t.Errorf("web processes = %d, want 2", web)
	}
}

func TestParseProcessListEmpty(t *testing.T) {
	if procs := parseProcessList("CONTAINER  PID  TTY  TIME  CMD\n"); len(procs) != 0 {
		t.Errorf("header-only output parsed to %v", procs)
	}
	if procs := parseProcessList(""); len(procs) != 0 {
		t.Errorf("empty output parsed to %v", procs)
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &CommandError{Op: "start", Name: "web", ExitCode: 2, Output: "container busy"}
	want := `start "web": exit status 2: container busy`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &CommandError{Op: "stop", Name: "db", ExitCode: 1}
	if bare.Error() != `stop "db": exit status 1` {
		t.Errorf("Error() = %q", bare.Error())
	}
}
