// Package main implements tlbvet, a go/analysis-based checker for
// package tlb callers. spec.md §7 states that calling Unmap or
// Shootdown with a pointer not obtained from a matching Map is
// undefined behavior the engine itself cannot detect; tlbvet catches
// the easy syntactic case of that misuse — an Unmap/Shootdown argument
// that is not a local variable assigned from a preceding Map call in
// the same function body.
//
// This is deliberately a local, syntactic check, not a whole-program
// alias analysis: it flags the common mistake (passing the wrong
// variable, or one never assigned from Map at all) without trying to
// prove soundness across function boundaries.
package main

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "tlbvet",
	Doc:      "flags tlb.Unmap/tlb.Shootdown calls whose argument cannot be traced to a preceding tlb.Map call in the same function",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		fn, ok := n.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			return
		}
		checkFunc(pass, fn.Body)
	})

	return nil, nil
}

// checkFunc walks a single function body tracking which identifiers
// have been assigned from a tlb.Map or tlb.Remap call (a later
// reassignment does not clear the mark), then flags any
// tlb.Unmap/tlb.Shootdown call whose argument isn't one of them.
func checkFunc(pass *analysis.Pass, body *ast.BlockStmt) {
	mapped := map[*types.Var]bool{}

	ast.Inspect(body, func(n ast.Node) bool {
		switch stmt := n.(type) {
		case *ast.AssignStmt:
			handleAssign(pass, stmt, mapped)
		case *ast.CallExpr:
			handleCall(pass, stmt, mapped)
		}
		return true
	})
}

func handleAssign(pass *analysis.Pass, stmt *ast.AssignStmt, mapped map[*types.Var]bool) {
	for i, rhs := range stmt.Rhs {
		call, ok := rhs.(*ast.CallExpr)
		if !ok || i >= len(stmt.Lhs) {
			continue
		}
		if !isTLBFunc(pass, call, "Map") && !isTLBFunc(pass, call, "Remap") {
			continue
		}
		id, ok := stmt.Lhs[0].(*ast.Ident)
		if !ok {
			continue
		}
		if v, ok := pass.TypesInfo.Uses[id].(*types.Var); ok {
			mapped[v] = true
		} else if v, ok := pass.TypesInfo.Defs[id].(*types.Var); ok {
			mapped[v] = true
		}
	}
}

func handleCall(pass *analysis.Pass, call *ast.CallExpr, mapped map[*types.Var]bool) {
	if !isTLBFunc(pass, call, "Unmap") && !isTLBFunc(pass, call, "Shootdown") {
		return
	}
	if len(call.Args) != 1 {
		return
	}
	id, ok := call.Args[0].(*ast.Ident)
	if !ok {
		// Not a bare identifier (e.g. a struct field or a fresh
		// expression) — out of scope for this syntactic check.
		return
	}
	v, ok := pass.TypesInfo.Uses[id].(*types.Var)
	if !ok || mapped[v] {
		return
	}
	pass.Reportf(call.Pos(), "%s argument %q is not traceable to a preceding tlb.Map/tlb.Remap result in this function", calleeName(call), id.Name)
}

func isTLBFunc(pass *analysis.Pass, call *ast.CallExpr, name string) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != name {
		return false
	}
	fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok {
		return false
	}
	pkg := fn.Pkg()
	return pkg != nil && isTLBPackage(pkg)
}

// isTLBPackage matches the real module's tlb package by its full import
// path, plus a "/tlb" or bare "tlb" suffix so the analyzer also works
// against test fixtures and vendored copies rooted under a different
// module path.
func isTLBPackage(pkg *types.Package) bool {
	path := pkg.Path()
	return path == "github.com/tommy2tonez/dg-tlb/tlb" || path == "tlb" || strings.HasSuffix(path, "/tlb")
}

func calleeName(call *ast.CallExpr) string {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "call"
	}
	return "tlb." + sel.Sel.Name
}
