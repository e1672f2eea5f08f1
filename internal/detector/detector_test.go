package detector

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"testing"
)

func TestPIDDetectorSelf(t *testing.T) {
	ctx := context.Background()
	d := PIDDetector{PID: os.Getpid()}
	alive, err := d.Alive(ctx)
	if err != nil || !alive {
		t.Fatalf("own pid should be alive: %v %v", alive, err)
	}
	if d.Describe() == "" {
		t.Fatal("empty description")
	}
}

func TestPIDDetectorStartTime(t *testing.T) {
	ctx := context.Background()
	pid := os.Getpid()
	start := StartTime(ctx, pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	if alive, _ := (PIDDetector{PID: pid, StartUnixMilli: start}).Alive(ctx); !alive {
		t.Fatal("matching start time should be alive")
	}
	if alive, _ := (PIDDetector{PID: pid, StartUnixMilli: start - 60_000}).Alive(ctx); alive {
		t.Fatal("different start time means the pid was reused")
	}
}

func TestPIDDetectorExited(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix true")
	}
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run true: %v", err)
	}
	alive, err := PIDDetector{PID: cmd.Process.Pid}.Alive(context.Background())
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if alive {
		t.Fatal("reaped child should not be alive")
	}
}

func TestPIDDetectorInvalid(t *testing.T) {
	if alive, err := (PIDDetector{}).Alive(context.Background()); alive || err != nil {
		t.Fatalf("pid 0 should be dead without error: %v %v", alive, err)
	}
}

func TestFunc(t *testing.T) {
	d := Func(func(context.Context) (bool, error) { return true, nil })
	if ok, _ := d.Alive(context.Background()); !ok || d.Describe() != "func" {
		t.Fatal("func detector mismatch")
	}
}
