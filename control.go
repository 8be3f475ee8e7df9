package mdexec

// switchOutputs computes Switch's two outputs: a true
// predicate routes data live into output 1 and dead into output 0; false
// swaps. A dead predicate (checked by the caller before calling this) makes
// both outputs dead.
func switchOutputs(pred bool, data Entry) (out0, out1 Entry) {
	dead := Entry{IsDead: true}
	live := data
	live.IsDead = false
	if pred {
		return dead, live
	}
	return live, dead
}

// boolFromTensor extracts a boolean predicate from a Tensor produced by a
// LoopCond kernel. Kernel math is out of scope; this is the
// one piece of interpretation the executor performs itself to route
// control flow.
func boolFromTensor(t *Tensor) bool {
	if t == nil {
		return false
	}
	switch v := t.Data.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	}
	return false
}

// mergeOutput picks the first input that actually carries a value,
// matching FrameState.ActivateNodes' Merge special-casing: the node only
// ever becomes ready once a live input has arrived or every input has
// arrived dead. inputs here is already filtered down to arrived slots
// (see prepareMergeInputs) — checking HasValue rather than !IsDead still
// matters because a dead entry never carries a value either, and the two
// must not be conflated when picking the live winner.
func mergeOutput(inputs []Entry) Entry {
	for _, in := range inputs {
		if in.HasValue() {
			in.IsDead = false
			return in
		}
	}
	return Entry{IsDead: true}
}

// forwardOutput is Enter/Exit/NextIteration's trivial "kernel": the single
// input forwarded unchanged except for its dead flag, which always tracks
// whether the node's own dispatch was dead.
func forwardOutput(inputs []Entry, isDead bool) Entry {
	var out Entry
	if len(inputs) > 0 {
		out = inputs[0]
	}
	out.IsDead = isDead
	return out
}
