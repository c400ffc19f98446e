package instrument

import (
	"fmt"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/Austionian/peach-profiler/profile"
)

// directiveLine finds the 1-based line of the first occurrence of marker.
func directiveLine(t *testing.T, src, marker string) int {
	t.Helper()

	for i, line := range strings.Split(src, "\n") {
		if strings.Contains(line, marker) {
			return i + 1
		}
	}

	t.Fatalf("marker %q not found in source", marker)

	return 0
}

func rewrite(t *testing.T, filename, src string) string {
	t.Helper()

	out, changed, err := Source(filename, []byte(src))
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if !changed {
		t.Fatal("expected the source to change")
	}

	return string(out)
}

const happySrc = `package main

//peach:main
func main() {
	answer := compute()
	_ = answer
}

//peach:function
func compute() int {
	n := 0
	//peach:block "answer_block"
	{
		n++
	}
	return n + 41
}
`

func TestRewriteHappyPath(t *testing.T) {
	out := rewrite(t, "main.go", happySrc)

	wantFn := fmt.Sprintf(`defer profile.Begin("compute", %d).End()`,
		profile.Hash(fmt.Sprintf("main.go:%d", directiveLine(t, happySrc, "//peach:function"))))
	wantBlock := fmt.Sprintf(`defer profile.Begin("answer_block", %d).End()`,
		profile.Hash(fmt.Sprintf("main.go:%d", directiveLine(t, happySrc, "//peach:block"))))

	for _, want := range []string{
		"defer profile.BeginMain().End()",
		wantFn,
		wantBlock,
		`"github.com/Austionian/peach-profiler/profile"`,
		"func() {",
		"}()",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("rewritten source missing %q.\ngot:\n%s", want, out)
		}
	}

	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "main.go", out, parser.ParseComments); err != nil {
		t.Fatalf("rewritten source does not parse: %v", err)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	out := rewrite(t, "main.go", happySrc)

	again, changed, err := Source("main.go", []byte(out))
	if err != nil {
		t.Fatalf("second rewrite failed: %v", err)
	}
	if changed {
		t.Fatalf("second rewrite changed the source.\nfirst:\n%s\nsecond:\n%s", out, again)
	}
}

func TestRewriteBytesExpression(t *testing.T) {
	src := `package main

import "os"

//peach:main
func main() {
	data := make([]byte, 1<<20)
	var dst []byte
	//peach:block copy bytes=len(data)
	{
		dst = append(dst[:0], data...)
	}
	os.Stdout.Write(dst[:1])
}
`
	out := rewrite(t, "copy.go", src)

	want := fmt.Sprintf(`defer profile.BeginBytes("copy", %d, uint64(len(data))).End()`,
		profile.Hash(fmt.Sprintf("copy.go:%d", directiveLine(t, src, "//peach:block"))))
	if !strings.Contains(out, want) {
		t.Fatalf("rewritten source missing %q.\ngot:\n%s", want, out)
	}
}

func TestRewriteQuotedNameTruncatesAtRuntimeOnly(t *testing.T) {
	src := `package main

//peach:main
func main() {
	//peach:block "block name with spaces" bytes=1024
	{
		_ = 1
	}
}
`
	out := rewrite(t, "spaces.go", src)

	if !strings.Contains(out, `profile.BeginBytes("block name with spaces"`) {
		t.Fatalf("quoted name mishandled.\ngot:\n%s", out)
	}
}

func TestRewriteKeepsExistingImport(t *testing.T) {
	src := `package main

import (
	"fmt"

	"github.com/Austionian/peach-profiler/profile"
)

var site = profile.Hash("manual.go:1")

//peach:function
func work() {
	fmt.Println("working")
}

func main() { work() }
`
	out := rewrite(t, "manual.go", src)

	if got := strings.Count(out, `"github.com/Austionian/peach-profiler/profile"`); got != 1 {
		t.Fatalf("import duplicated. expected=1, got=%d\n%s", got, out)
	}
}

func TestRewriteErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"directive on a type",
			"package main\n\n//peach:function\ntype Foo struct{ bar uint8 }\n\nfunc main() {}\n",
			"functions and block statements only",
		},
		{
			"block directive on a non-block",
			"package main\n\nfunc main() {\n\t//peach:block a\n\t_ = 1\n}\n",
			"must precede a block statement",
		},
		{
			"return escapes block",
			"package main\n\nfunc main() { f() }\n\nfunc f() int {\n\t//peach:block a\n\t{\n\t\treturn 1\n\t}\n}\n",
			"return escapes",
		},
		{
			"goto escapes block",
			"package main\n\nfunc main() {\n\t//peach:block a\n\t{\n\t\tgoto out\n\t}\nout:\n\t_ = 1\n}\n",
			"goto escapes",
		},
		{
			"defer changes run point",
			"package main\n\nfunc main() {\n\t//peach:block a\n\t{\n\t\tdefer func() {}()\n\t}\n}\n",
			"defer inside an annotated block",
		},
		{
			"missing block name",
			"package main\n\nfunc main() {\n\t//peach:block\n\t{\n\t\t_ = 1\n\t}\n}\n",
			"a name is required",
		},
		{
			"bad bytes expression",
			"package main\n\nfunc main() {\n\t//peach:block a bytes=)(\n\t{\n\t\t_ = 1\n\t}\n}\n",
			"bytes expression does not parse",
		},
		{
			"main with arguments",
			"package main\n\n//peach:main extra\nfunc main() {}\n",
			"takes no arguments",
		},
	}

	for i, tt := range tests {
		_, _, err := Source("bad.go", []byte(tt.src))
		if err == nil {
			t.Fatalf("tests[%d] (%s) - expected an error", i, tt.name)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("tests[%d] (%s) - error wrong. expected substring=%q, got=%q",
				i, tt.name, tt.want, err.Error())
		}
	}
}

func TestBreakInsideNestedLoopAllowed(t *testing.T) {
	src := `package main

//peach:main
func main() {
	//peach:block scan
	{
		for i := 0; i < 10; i++ {
			if i == 5 {
				break
			}
		}
	}
}
`
	out := rewrite(t, "loop.go", src)

	if !strings.Contains(out, `profile.Begin("scan"`) {
		t.Fatalf("block with a contained break not instrumented.\ngot:\n%s", out)
	}
}

func TestNoDirectivesUnchanged(t *testing.T) {
	src := "package main\n\nfunc main() {}\n"

	out, changed, err := Source("plain.go", []byte(src))
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if changed {
		t.Fatal("plain source reported as changed")
	}
	if string(out) != src {
		t.Fatalf("plain source modified.\nexpected=%q\ngot=%q", src, string(out))
	}
}
