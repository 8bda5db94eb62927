// Package pageword implements the packed atomic descriptor word that
// backs every virtual page's state: a single machine word encoding
// either "no linkage", "transfer in progress", or a (physical index,
// reference count) pair.
//
// The encoding is ported line-for-line from the original C++
// virtual_page_make/virtual_page_extract_idx/virtual_page_extract_counter
// (dg_tlb.h), expressed with the bit-shift idiom the teacher kernel uses
// for its own packed fields (biscuit/src/mem/mem.go's Refaddr indexing).
package pageword

// IDBits is the width, in bits, of the biased physical-page index field.
const IDBits = 16

// RefBits is the width, in bits, of the reference-count field.
const RefBits = 16

// refMask isolates the low RefBits bits of a word.
const refMask = uint32(1)<<RefBits - 1

// MaxPhysPages is the largest number of physical pages this encoding can
// address: TransferState reserves the all-ones word, so the biased index
// (idx+1) must stay below the all-ones field value 1<<IDBits - 1;
// otherwise Make(idx, 1<<RefBits - 1) would produce TransferState. An
// implementation with a wider descriptor word could relax this; this
// module keeps the 32-bit word the spec's bit widths call for.
const MaxPhysPages = 1<<IDBits - 2

// Word is the descriptor word type. Zero value is NullState.
type Word uint32

// NullState means no linkage: the translator bytes for this page are
// authoritative and no reader holds a mapping.
const NullState Word = 0

// TransferState is the exclusive-ownership sentinel: a transfer is in
// progress and no other thread may observe or mutate the word. It is
// the all-ones word and is never produced by Make, because Make always
// biases the index field by +1, capping the usable index space below
// the all-ones pattern.
const TransferState Word = ^Word(0)

// Make packs a physical page index and a reference count into a valid
// descriptor word. The index is biased by +1 so that NullState (0) can
// never be confused with "linked to physical page 0, refcount 0". The
// caller must ensure idx < MaxPhysPages; Make does not itself validate
// this (callers establish it once at Init, not on every hot-path call).
func Make(idx uint32, ref uint32) Word {
	return Word((uint32(idx)+1)<<RefBits | (ref & refMask))
}

// ExtractIndex returns the physical page index encoded in a valid
// (non-Null, non-Transfer) word.
func ExtractIndex(w Word) uint32 {
	return uint32(w)>>RefBits - 1
}

// ExtractRef returns the reference count encoded in a valid word.
func ExtractRef(w Word) uint32 {
	return uint32(w) & refMask
}

// Valid reports whether w is a linked state (neither NullState nor
// TransferState).
func Valid(w Word) bool {
	return w != NullState && w != TransferState
}
