package runtime

import "time"

// Transaction is the per-session scratch state accumulated across one
// transaction's read-drain-commit lifetime, per spec.md section 3.
type Transaction struct {
	// Checkpoints counts connector Checkpoint messages folded this
	// transaction; readiness and the next round's explicit Acknowledge
	// both key off this count.
	Checkpoints int
	// ConnectorEOF is set once the connector's response stream closed
	// while this transaction was being read.
	ConnectorEOF bool
	// StartedAt marks when this transaction began reading, compared
	// against the restart interval when the connector EOFs with no
	// checkpoints. (The long-poll timer starts at the first checkpoint.)
	StartedAt time.Time

	// InputDocs/InputBytes and OutputDocs/OutputBytes are indexed by
	// binding and tallied as documents pass through a session; no
	// session includes them in a response or a persisted checkpoint.
	InputDocs, InputBytes   []int
	OutputDocs, OutputBytes []int

	// Widened is the set of bindings whose inferred shape was touched
	// this transaction; their shapes are persisted and logged at commit.
	Widened map[int]bool

	// OverwriteConnectorState is true when the most recent folded
	// Checkpoint had merge_patch=false, selecting an overwrite rather
	// than a merge-patch write at commit.
	OverwriteConnectorState bool

	// MaxClock is the highest observed message clock across Read inputs,
	// tracked for derivations (spec.md section 4.5.2).
	MaxClock uint64
}

func newTransaction(numBindings int) *Transaction {
	return &Transaction{
		StartedAt:   time.Now(),
		InputDocs:   make([]int, numBindings),
		InputBytes:  make([]int, numBindings),
		OutputDocs:  make([]int, numBindings),
		OutputBytes: make([]int, numBindings),
		Widened:     map[int]bool{},
	}
}

func (t *Transaction) recordInput(binding, size int) {
	if binding >= 0 && binding < len(t.InputDocs) {
		t.InputDocs[binding]++
		t.InputBytes[binding] += size
	}
}

func (t *Transaction) recordOutput(binding, size int) {
	if binding >= 0 && binding < len(t.OutputDocs) {
		t.OutputDocs[binding]++
		t.OutputBytes[binding] += size
	}
}

func (t *Transaction) markWidened(binding int) { t.Widened[binding] = true }

func (t *Transaction) observeClock(clock uint64) {
	if clock > t.MaxClock {
		t.MaxClock = clock
	}
}
