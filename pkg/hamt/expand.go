package hamt

import "github.com/flier/cchamt/internal/debug"

// freeze walks every slot of an array node once, advancing only when the
// slot is confirmed in a frozen-terminal form (spec §4.4). It is
// cooperative: any thread may drive a freeze, and a losing CAS simply
// re-reads and re-classifies the same slot, so the loop always
// terminates in a bounded number of steps.
//
// The reference source iterates left-to-right and retries the same slot
// on CAS loss; this is one of spec §9's explicitly open choices, and
// this implementation keeps that order.
func (t *Trie[K, V]) freeze(an *arrayNode[K, V]) {
	for i := range an.slots {
		slot := &an.slots[i]

		for terminal := false; !terminal; {
			ref := slot.Load()
			terminal = true

			switch ref.Kind() {
			case kindNone:
				if !slot.CAS(ref, refTag[K, V](kindFrozenEmpty)) {
					terminal = false
				}

			case kindFrozenEmpty, kindFrozenData:
				// already terminal

			case kindData:
				sn := ref.AsData()
				txnRef := sn.txn.Load()

				switch txnRef.Kind() {
				case kindNoTxn:
					if !sn.txn.CAS(txnRef, refTag[K, V](kindFrozenData)) {
						terminal = false
					}

				case kindFrozenData:
					// already terminal

				default:
					// txnRef is an installed replacement: publish it into
					// the slot, then rewind to re-classify what it holds.
					slot.CAS(ref, txnRef)
					terminal = false
				}

			case kindArray:
				slot.CAS(ref, refPtr[K, V](kindFrozenNode, ref.AsArray()))
				terminal = false

			case kindFrozenNode:
				t.freeze(ref.AsFrozenArray())

			case kindExpand:
				t.completeExpansion(ref.AsExpand())
				terminal = false

			default:
				debug.Assert(false, "hamt: freeze found array slot of unexpected kind %v", ref.Kind())
			}
		}
	}
}

// copyInto walks narrow's (already-frozen) slots, re-inserting every live
// entry into wide at level via the ordinary insert protocol (spec §4.4's
// Copy). FV slots are skipped; FN slots recurse into their inner array.
func (t *Trie[K, V]) copyInto(narrow, wide *arrayNode[K, V], level int) {
	for i := range narrow.slots {
		ref := narrow.slots[i].Load()

		switch ref.Kind() {
		case kindFrozenNode:
			t.copyInto(ref.AsFrozenArray(), wide, level)

		case kindData:
			sn := ref.AsData()
			t.insertAt(wide, nil, sn.key, sn.value, sn.hash, level)

		case kindFrozenEmpty:
			// nothing to copy

		default:
			debug.Assert(false, "hamt: copy found frozen array slot of unexpected kind %v", ref.Kind())
		}
	}
}

// completeExpansion drives an in-flight expansion to completion (spec
// §4.4's CompleteExpansion) and returns the resulting wide array node.
// Idempotent: any number of threads may call this concurrently for the
// same expansion node; only one wins each of the two CAS installs below,
// and every other caller adopts the winner's result.
func (t *Trie[K, V]) completeExpansion(en *expandNode[K, V]) *arrayNode[K, V] {
	t.freeze(en.narrow)

	wide := allocArray[K, V](t.arena, wideWidth)
	t.copyInto(en.narrow, wide, en.level)

	wideRef := refPtr[K, V](kindArray, wide)
	if !en.wide.CAS(0, wideRef) {
		wideRef = en.wide.Load()
		wide = wideRef.AsArray()
	}

	enRef := refPtr[K, V](kindExpand, en)
	en.parent.slots[en.parentPos].CAS(enRef, wideRef)

	return wide
}
