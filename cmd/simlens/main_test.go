package main

import (
	"context"
	"errors"
	"testing"
)

func TestCloseService_LogsError(t *testing.T) {
	var got []any
	log := func(ctx context.Context, msg string, args ...any) { got = args }

	closeService(log, func(context.Context) error { return errors.New("unload vision model: busy") })

	if len(got) != 2 || got[0] != "error" {
		t.Fatalf("expected an error key, got %v", got)
	}
	if err, ok := got[1].(error); !ok || err.Error() != "unload vision model: busy" {
		t.Errorf("unexpected logged error %v", got[1])
	}
}

func TestCloseService_Quiet(t *testing.T) {
	called := false
	log := func(ctx context.Context, msg string, args ...any) { called = true }

	closeService(log, func(context.Context) error { return nil })

	if called {
		t.Error("nothing should be logged on a clean close")
	}
}
