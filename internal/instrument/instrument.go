// Package instrument rewrites Go sources that carry //peach: directive
// comments into calls to the profiling runtime. It is the annotation front
// end: the directives mark the program entry point, whole functions and
// lexical blocks, and the rewriter expands them into the Begin/End pairs the
// runtime expects, precomputing each call site's anchor index so the
// instrumented program never hashes.
//
// The rewrite is idempotent: a site whose expansion is already present is
// left alone, so instrumented files can be fed back through without
// stacking timers.
package instrument

import (
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"sort"
	"strconv"

	"github.com/Austionian/peach-profiler/profile"
)

// RuntimePath is the import path of the profiling runtime the rewritten
// sources call into.
const RuntimePath = "github.com/Austionian/peach-profiler/profile"

type edit struct {
	off  int
	text string
}

// Source rewrites the //peach: directives in src. filename seeds both
// diagnostics and call-site hashing, so the same file content under a
// different path lands in different anchor slots. Returns the rewritten
// source and whether anything changed.
func Source(filename string, src []byte) ([]byte, bool, error) {
	fset := token.NewFileSet()

	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, false, err
	}

	var edits []edit

	// Function-level directives ride on declaration doc comments.
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			funcEdits, err := expandFuncDirectives(fset, filename, d)
			if err != nil {
				return nil, false, err
			}
			edits = append(edits, funcEdits...)
		case *ast.GenDecl:
			if c := findDirective(d.Doc); c != nil {
				return nil, false, posErrf(fset, c.Pos(),
					"//peach: directives apply to functions and block statements only")
			}
		}
	}

	// Block directives ride on comments preceding statements.
	cmap := ast.NewCommentMap(fset, f, f.Comments)
	blockEdits, err := expandBlockDirectives(fset, filename, cmap)
	if err != nil {
		return nil, false, err
	}
	edits = append(edits, blockEdits...)

	if len(edits) == 0 {
		return src, false, nil
	}

	if imp, needed := importEdit(fset, f); needed {
		edits = append(edits, imp)
	}

	out := applyEdits(src, edits)

	formatted, err := format.Source(out)
	if err != nil {
		return nil, false, fmt.Errorf("%s: formatting rewritten source: %w", filename, err)
	}

	return formatted, true, nil
}

func expandFuncDirectives(fset *token.FileSet, filename string, fd *ast.FuncDecl) ([]edit, error) {
	c := findDirective(fd.Doc)
	if c == nil {
		return nil, nil
	}

	d, err := parseDirective(fset, c)
	if err != nil {
		return nil, err
	}

	switch d.kind {
	case kindMain:
		if fd.Body == nil {
			return nil, posErrf(fset, c.Pos(), "//peach:main requires a function body")
		}
		if isInstrumentedBody(fd.Body) {
			return nil, nil
		}

		return []edit{{
			off:  offsetOf(fset, fd.Body.Lbrace) + 1,
			text: "\n\tdefer profile.BeginMain().End()\n",
		}}, nil

	case kindFunction:
		if fd.Body == nil {
			return nil, posErrf(fset, c.Pos(), "//peach:function requires a function body")
		}
		if isInstrumentedBody(fd.Body) {
			return nil, nil
		}

		index := siteIndex(filename, fset.Position(c.Pos()).Line)

		return []edit{{
			off:  offsetOf(fset, fd.Body.Lbrace) + 1,
			text: fmt.Sprintf("\n\tdefer profile.Begin(%q, %d).End()\n", fd.Name.Name, index),
		}}, nil

	default:
		return nil, posErrf(fset, c.Pos(), "//peach:block must precede a block statement, not a function")
	}
}

func expandBlockDirectives(fset *token.FileSet, filename string, cmap ast.CommentMap) ([]edit, error) {
	var edits []edit

	for node, groups := range cmap {
		var c *ast.Comment
		for _, g := range groups {
			if c = findDirective(g); c != nil {
				break
			}
		}
		if c == nil {
			continue
		}

		// Function and entry-point directives were expanded off the
		// declaration docs already.
		if _, ok := node.(ast.Decl); ok {
			continue
		}

		d, err := parseDirective(fset, c)
		if err != nil {
			return nil, err
		}
		if d.kind != kindBlock {
			return nil, posErrf(fset, c.Pos(), "//peach:%s applies to declarations, not statements", d.kind)
		}

		block, ok := node.(*ast.BlockStmt)
		if !ok {
			if isInstrumentedBlock(node) {
				continue
			}

			return nil, posErrf(fset, c.Pos(), "//peach:block must precede a block statement")
		}

		if err := checkEscapes(fset, block); err != nil {
			return nil, err
		}

		index := siteIndex(filename, fset.Position(c.Pos()).Line)

		var begin string
		if d.bytesExpr != "" {
			begin = fmt.Sprintf("defer profile.BeginBytes(%q, %d, uint64(%s)).End()", d.name, index, d.bytesExpr)
		} else {
			begin = fmt.Sprintf("defer profile.Begin(%q, %d).End()", d.name, index)
		}

		// The block becomes an immediately invoked closure so the deferred
		// End fires at block exit on every path, panics included.
		edits = append(edits,
			edit{off: offsetOf(fset, block.Lbrace), text: "func() "},
			edit{off: offsetOf(fset, block.Lbrace) + 1, text: "\n\t" + begin + "\n"},
			edit{off: offsetOf(fset, block.Rbrace) + 1, text: "()"},
		)
	}

	return edits, nil
}

// siteIndex is the anchor slot for a call site, precomputed here so the
// emitted code carries a plain integer literal.
func siteIndex(filename string, line int) uint32 {
	return profile.Hash(fmt.Sprintf("%s:%d", filename, line))
}

// isInstrumentedBody reports whether a body already starts with an expanded
// timer, i.e. "defer profile.Begin*(...).End()".
func isInstrumentedBody(body *ast.BlockStmt) bool {
	if len(body.List) == 0 {
		return false
	}

	deferred, ok := body.List[0].(*ast.DeferStmt)
	if !ok {
		return false
	}

	end, ok := deferred.Call.Fun.(*ast.SelectorExpr)
	if !ok || end.Sel.Name != "End" {
		return false
	}

	begin, ok := end.X.(*ast.CallExpr)
	if !ok {
		return false
	}

	sel, ok := begin.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}

	pkg, ok := sel.X.(*ast.Ident)
	if !ok || pkg.Name != "profile" {
		return false
	}

	switch sel.Sel.Name {
	case "Begin", "BeginBytes", "BeginMain":
		return true
	}

	return false
}

// isInstrumentedBlock recognizes the closure a block directive expands to:
// an expression statement invoking a function literal whose body starts with
// the deferred timer.
func isInstrumentedBlock(node ast.Node) bool {
	stmt, ok := node.(*ast.ExprStmt)
	if !ok {
		return false
	}

	call, ok := stmt.X.(*ast.CallExpr)
	if !ok {
		return false
	}

	lit, ok := call.Fun.(*ast.FuncLit)
	if !ok {
		return false
	}

	return isInstrumentedBody(lit.Body)
}

func importEdit(fset *token.FileSet, f *ast.File) (edit, bool) {
	for _, imp := range f.Imports {
		if path, err := strconv.Unquote(imp.Path.Value); err == nil && path == RuntimePath {
			return edit{}, false
		}
	}

	quoted := strconv.Quote(RuntimePath)

	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.IMPORT {
			continue
		}

		if gen.Lparen.IsValid() {
			return edit{off: offsetOf(fset, gen.Lparen) + 1, text: "\n\t" + quoted + "\n"}, true
		}

		return edit{off: offsetOf(fset, gen.Pos()), text: "import " + quoted + "\n"}, true
	}

	return edit{off: offsetOf(fset, f.Name.End()), text: "\n\nimport " + quoted}, true
}

func applyEdits(src []byte, edits []edit) []byte {
	sort.Slice(edits, func(i, j int) bool { return edits[i].off > edits[j].off })

	out := make([]byte, len(src))
	copy(out, src)

	for _, e := range edits {
		tail := make([]byte, len(out)-e.off)
		copy(tail, out[e.off:])
		out = append(append(out[:e.off], e.text...), tail...)
	}

	return out
}

func offsetOf(fset *token.FileSet, pos token.Pos) int {
	return fset.Position(pos).Offset
}

func posErrf(fset *token.FileSet, pos token.Pos, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s", fset.Position(pos), fmt.Sprintf(format, args...))
}
