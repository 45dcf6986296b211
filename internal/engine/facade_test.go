package engine

import (
	"context"
	"testing"
)

func TestStatusWithoutCheckpointStoreReturnsError(t *testing.T) {
	e := &Engine{}
	_, err := e.Status(context.Background(), "some-session")
	if err != errNoCheckpointStore {
		t.Fatalf("expected errNoCheckpointStore, got %v", err)
	}
}

func TestCancelWithoutCheckpointStoreReturnsError(t *testing.T) {
	e := &Engine{}
	err := e.Cancel(context.Background(), "some-session")
	if err != errNoCheckpointStore {
		t.Fatalf("expected errNoCheckpointStore, got %v", err)
	}
}

func TestFetchOutputsWithoutCheckpointStoreReturnsError(t *testing.T) {
	e := &Engine{}
	_, err := e.FetchOutputs(context.Background(), "some-session")
	if err != errNoCheckpointStore {
		t.Fatalf("expected errNoCheckpointStore, got %v", err)
	}
}

func TestSubmitDecisionWithoutCheckpointStoreReturnsError(t *testing.T) {
	e := &Engine{}
	err := e.SubmitDecision(context.Background(), "some-session", "database", "PostgreSQL", "because")
	if err != errNoCheckpointStore {
		t.Fatalf("expected errNoCheckpointStore, got %v", err)
	}
}
