// Package tlb is a minimal stand-in for github.com/tommy2tonez/dg-tlb/tlb,
// just enough surface for analyzer fixtures to exercise tlbvet without
// depending on the real module.
package tlb

type TLB struct{}

func Init() *TLB { return &TLB{} }

func (t *TLB) Map(p int) (int, error)                  { return p, nil }
func (t *TLB) Unmap(q int)                             {}
func (t *TLB) Shootdown(p int)                         {}
func (t *TLB) Remap(oldP, oldQ, newP int) (int, error) { return newP, nil }
