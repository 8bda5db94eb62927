package a

import "tlb"

func good(t *tlb.TLB) {
	q, err := t.Map(1)
	if err != nil {
		return
	}
	t.Unmap(q)
	t.Shootdown(1)
}

func badUnmap(t *tlb.TLB, other int) {
	t.Unmap(other) // want `tlb.Unmap argument "other" is not traceable to a preceding tlb.Map/tlb.Remap result in this function`
}

func badShootdownUnassigned(t *tlb.TLB) {
	var stray int
	t.Shootdown(stray) // want `tlb.Shootdown argument "stray" is not traceable to a preceding tlb.Map/tlb.Remap result in this function`
}

func goodRemap(t *tlb.TLB) {
	q, err := t.Map(1)
	if err != nil {
		return
	}
	newQ, err := t.Remap(1, q, 2)
	if err != nil {
		return
	}
	t.Unmap(newQ)
}
