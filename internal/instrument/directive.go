package instrument

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

const directivePrefix = "//peach:"

const (
	kindMain     = "main"
	kindFunction = "function"
	kindBlock    = "block"
)

type directive struct {
	kind      string
	name      string // block label; empty for main and function
	bytesExpr string // throughput expression; empty when absent
}

// findDirective returns the first //peach: comment in the group, or nil.
// Directive comments follow the compiler directive shape: no space after
// the slashes, so a prose comment mentioning peach is never picked up.
func findDirective(g *ast.CommentGroup) *ast.Comment {
	if g == nil {
		return nil
	}

	for _, c := range g.List {
		if strings.HasPrefix(c.Text, directivePrefix) {
			return c
		}
	}

	return nil
}

func parseDirective(fset *token.FileSet, c *ast.Comment) (directive, error) {
	rest := strings.TrimPrefix(c.Text, directivePrefix)

	kind := rest
	args := ""
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		kind = rest[:i]
		args = strings.TrimSpace(rest[i+1:])
	}

	d := directive{kind: kind}

	switch kind {
	case kindMain, kindFunction:
		if args != "" {
			return d, posErrf(fset, c.Pos(), "//peach:%s takes no arguments", kind)
		}

		return d, nil

	case kindBlock:
		name, rest, err := splitBlockName(args)
		if err != nil {
			return d, posErrf(fset, c.Pos(), "//peach:block: %v", err)
		}
		d.name = name

		if rest != "" {
			expr, ok := strings.CutPrefix(rest, "bytes=")
			if !ok {
				return d, posErrf(fset, c.Pos(), "//peach:block: unexpected argument %q", rest)
			}
			if _, err := parser.ParseExpr(expr); err != nil {
				return d, posErrf(fset, c.Pos(), "//peach:block: bytes expression does not parse: %v", err)
			}
			d.bytesExpr = expr
		}

		return d, nil

	default:
		return d, posErrf(fset, c.Pos(), "unknown directive //peach:%s", kind)
	}
}

// splitBlockName takes the block's display name off the front of the
// argument list. The name is either a bare word or a Go string literal.
func splitBlockName(args string) (name, rest string, err error) {
	if args == "" {
		return "", "", fmt.Errorf("a name is required")
	}

	if strings.HasPrefix(args, `"`) {
		quoted, tail, qerr := quotedPrefix(args)
		if qerr != nil {
			return "", "", fmt.Errorf("bad name literal: %w", qerr)
		}

		name, err = strconv.Unquote(quoted)
		if err != nil {
			return "", "", fmt.Errorf("bad name literal: %w", err)
		}

		return name, strings.TrimSpace(tail), nil
	}

	if i := strings.IndexAny(args, " \t"); i >= 0 {
		return args[:i], strings.TrimSpace(args[i+1:]), nil
	}

	return args, "", nil
}

// quotedPrefix peels a Go string literal off the front of s.
func quotedPrefix(s string) (quoted, tail string, err error) {
	q, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", "", err
	}

	return q, s[len(q):], nil
}

// checkEscapes rejects blocks whose control flow leaves the block itself:
// the expansion wraps the block in a closure, and a return, goto, unlabeled
// break/continue binding outside, or a defer would change meaning inside
// one. A labeled break or continue is rejected wherever its label is, and
// so is every goto. Nested function literals are not walked; their control
// flow is their own.
func checkEscapes(fset *token.FileSet, block *ast.BlockStmt) error {
	return checkStmts(fset, block.List, 0, 0)
}

func checkStmts(fset *token.FileSet, list []ast.Stmt, loops, switches int) error {
	for _, s := range list {
		if err := checkStmt(fset, s, loops, switches); err != nil {
			return err
		}
	}

	return nil
}

func checkStmt(fset *token.FileSet, s ast.Stmt, loops, switches int) error {
	switch s := s.(type) {
	case *ast.ReturnStmt:
		return posErrf(fset, s.Pos(), "return escapes the annotated block")

	case *ast.BranchStmt:
		switch s.Tok {
		case token.GOTO:
			return posErrf(fset, s.Pos(), "goto escapes the annotated block")
		case token.BREAK:
			if s.Label != nil || (loops == 0 && switches == 0) {
				return posErrf(fset, s.Pos(), "break escapes the annotated block")
			}
		case token.CONTINUE:
			if s.Label != nil || loops == 0 {
				return posErrf(fset, s.Pos(), "continue escapes the annotated block")
			}
		}

	case *ast.DeferStmt:
		return posErrf(fset, s.Pos(), "defer inside an annotated block would run at block exit, not function exit")

	case *ast.BlockStmt:
		return checkStmts(fset, s.List, loops, switches)

	case *ast.LabeledStmt:
		return checkStmt(fset, s.Stmt, loops, switches)

	case *ast.IfStmt:
		if err := checkStmts(fset, s.Body.List, loops, switches); err != nil {
			return err
		}
		if s.Else != nil {
			return checkStmt(fset, s.Else, loops, switches)
		}

	case *ast.ForStmt:
		return checkStmts(fset, s.Body.List, loops+1, switches)

	case *ast.RangeStmt:
		return checkStmts(fset, s.Body.List, loops+1, switches)

	case *ast.SwitchStmt:
		return checkStmts(fset, s.Body.List, loops, switches+1)

	case *ast.TypeSwitchStmt:
		return checkStmts(fset, s.Body.List, loops, switches+1)

	case *ast.SelectStmt:
		return checkStmts(fset, s.Body.List, loops, switches+1)

	case *ast.CaseClause:
		return checkStmts(fset, s.Body, loops, switches)

	case *ast.CommClause:
		return checkStmts(fset, s.Body, loops, switches)
	}

	return nil
}

