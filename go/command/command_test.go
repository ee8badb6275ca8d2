package command

import (
	"context"
	"errors"
	"testing"
)

type fakeCommand struct {
	prepareErr  error
	executeErr  error
	rollbackErr error

	prepared, executed, rolledBack, finished bool
}

func (f *fakeCommand) Prepare(ctx context.Context) error { f.prepared = true; return f.prepareErr }
func (f *fakeCommand) Execute(ctx context.Context) error { f.executed = true; return f.executeErr }
func (f *fakeCommand) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return f.rollbackErr
}
func (f *fakeCommand) Finish(ctx context.Context) { f.finished = true }

func TestRunSuccess(t *testing.T) {
	c := &fakeCommand{}
	if err := Run(context.Background(), "test", nil, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !c.prepared || !c.executed || c.rolledBack || !c.finished {
		t.Fatalf("unexpected lifecycle: %+v", c)
	}
}

func TestRunPrepareFailureStillFinishes(t *testing.T) {
	want := errors.New("prepare boom")
	c := &fakeCommand{prepareErr: want}
	err := Run(context.Background(), "test", nil, c)
	if err != want {
		t.Fatalf("got %v, want %v", err, want)
	}
	if c.executed || c.rolledBack {
		t.Fatalf("execute/rollback must not run after a prepare failure: %+v", c)
	}
	if !c.finished {
		t.Fatal("finish must run even when prepare fails")
	}
}

func TestRunExecuteFailureRollsBackAndFinishes(t *testing.T) {
	want := errors.New("execute boom")
	c := &fakeCommand{executeErr: want}
	err := Run(context.Background(), "test", nil, c)
	if err != want {
		t.Fatalf("got %v, want %v", err, want)
	}
	if !c.rolledBack || !c.finished {
		t.Fatalf("expected rollback and finish: %+v", c)
	}
}
