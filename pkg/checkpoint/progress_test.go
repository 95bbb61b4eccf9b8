package checkpoint

import "testing"

func TestProgressVariants(t *testing.T) {
	if !BeforeGenesis.IsBeforeGenesis() {
		t.Fatal("BeforeGenesis.IsBeforeGenesis() should be true")
	}
	if BeforeGenesis.IsFinal() {
		t.Fatal("BeforeGenesis.IsFinal() should be false")
	}
	if _, ok := BeforeGenesis.PreviousHeight(); ok {
		t.Fatal("BeforeGenesis.PreviousHeight() should report false")
	}

	p := PreviousCheckpointHeight(42)
	h, ok := p.PreviousHeight()
	if !ok || h != 42 {
		t.Fatalf("PreviousCheckpointHeight(42).PreviousHeight() = (%d, %v), want (42, true)", h, ok)
	}
	if p.IsBeforeGenesis() || p.IsFinal() {
		t.Fatal("a pinned Progress should be neither BeforeGenesis nor final")
	}

	if !FinalCheckpoint.IsFinal() {
		t.Fatal("FinalCheckpoint.IsFinal() should be true")
	}
}

func TestTargetVariants(t *testing.T) {
	if WaitingForBlocks.IsFinished() {
		t.Fatal("WaitingForBlocks.IsFinished() should be false")
	}
	if !FinishedVerifying.IsFinished() {
		t.Fatal("FinishedVerifying.IsFinished() should be true")
	}
	if CheckpointTarget(10).IsFinished() {
		t.Fatal("CheckpointTarget(10).IsFinished() should be false")
	}
}

func TestProgressAndTargetStrings(t *testing.T) {
	cases := map[string]string{
		BeforeGenesis.String():               "BeforeGenesis",
		FinalCheckpoint.String():              "FinalCheckpoint",
		PreviousCheckpointHeight(7).String(): "PreviousCheckpoint(7)",
		WaitingForBlocks.String():             "WaitingForBlocks",
		FinishedVerifying.String():            "FinishedVerifying",
		CheckpointTarget(7).String():          "Checkpoint(7)",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
