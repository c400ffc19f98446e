package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/tools/go/packages"

	"github.com/Austionian/peach-profiler/internal/cli"
	"github.com/Austionian/peach-profiler/internal/instrument"
)

// minGoConstraint is the oldest module go directive the emitted
// instrumentation supports.
const minGoConstraint = ">= 1.21"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		write       = flag.Bool("w", false, "write results back to source files instead of stdout")
		list        = flag.Bool("l", false, "list files whose instrumentation would change, without rewriting")
		watch       = flag.Bool("watch", false, "keep running and re-instrument files as they change (requires -w)")
		tags        = flag.String("tags", "", "build tags passed through when loading package patterns (comma-separated)")
		verbose     = flag.Bool("verbose", false, "verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [FILES OR PACKAGE PATTERNS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Expands //peach: profiling directives into runtime calls.\n\n")
		fmt.Fprintf(os.Stderr, "DIRECTIVES:\n")
		fmt.Fprintf(os.Stderr, "  //peach:main                    wrap the entry point with the lifetime timer\n")
		fmt.Fprintf(os.Stderr, "  //peach:function                time the whole function\n")
		fmt.Fprintf(os.Stderr, "  //peach:block <name>            time the following block statement\n")
		fmt.Fprintf(os.Stderr, "  //peach:block <name> bytes=<e>  as above, crediting <e> bytes of throughput\n")
		fmt.Fprintf(os.Stderr, "\nOPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s main.go                # print the instrumented source\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -w ./...               # instrument a whole module in place\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -w -watch ./cmd/app    # keep instrumentation current while editing\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("peach-gen", *jsonOutput)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *watch && !*write {
		cli.ExitWithError("-watch requires -w")
	}

	logger := cli.NewLogger(*verbose)
	checkGoDirective(logger)

	files, err := resolveFiles(args, *tags)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if len(files) == 0 {
		cli.ExitWithError("no Go files matched")
	}

	g := &generator{write: *write, list: *list, logger: logger}

	for _, file := range files {
		if err := g.process(file); err != nil {
			cli.ExitWithError("%v", err)
		}
	}

	if *watch {
		if err := g.watch(files); err != nil {
			cli.ExitWithError("%v", err)
		}
	}
}

type generator struct {
	write  bool
	list   bool
	logger *cli.Logger
}

func (g *generator) process(file string) error {
	src, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	out, changed, err := instrument.Source(file, src)
	if err != nil {
		return err
	}

	if !changed {
		g.logger.Info("%s: up to date", file)

		return nil
	}

	switch {
	case g.list:
		fmt.Println(file)
	case g.write:
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		if err := os.WriteFile(file, out, info.Mode().Perm()); err != nil {
			return err
		}
		g.logger.Info("%s: instrumented", file)
	default:
		if _, err := os.Stdout.Write(out); err != nil {
			return err
		}
	}

	return nil
}

// watch keeps the instrumentation current while sources change. Rewrites the
// watcher itself causes come back as events; the rewrite is idempotent, so
// the second pass is a no-op and the loop settles.
func (g *generator) watch(files []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		watched[f] = true
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return err
		}
	}

	g.logger.Info("watching %d directories", len(dirs))

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".go") || !watched[filepath.Clean(ev.Name)] {
				continue
			}
			if err := g.process(filepath.Clean(ev.Name)); err != nil {
				g.logger.Error("%v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			g.logger.Error("watch: %v", err)
		}
	}
}

// resolveFiles expands a mix of .go file paths and package patterns into a
// sorted, deduplicated file list.
func resolveFiles(args []string, tags string) ([]string, error) {
	seen := make(map[string]bool)

	var patterns []string
	for _, arg := range args {
		if strings.HasSuffix(arg, ".go") {
			if _, err := os.Stat(arg); err != nil {
				return nil, err
			}
			seen[filepath.Clean(arg)] = true

			continue
		}
		patterns = append(patterns, arg)
	}

	if len(patterns) > 0 {
		cfg := &packages.Config{Mode: packages.NeedName | packages.NeedFiles}
		if tags != "" {
			cfg.BuildFlags = append(cfg.BuildFlags, "-tags="+tags)
		}

		pkgs, err := packages.Load(cfg, patterns...)
		if err != nil {
			return nil, err
		}
		if packages.PrintErrors(pkgs) > 0 {
			return nil, fmt.Errorf("failed to load packages")
		}

		for _, p := range pkgs {
			for _, f := range p.GoFiles {
				seen[filepath.Clean(f)] = true
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)

	return files, nil
}

// checkGoDirective warns when the enclosing module's go directive predates
// what the emitted instrumentation needs. Absence of a go.mod is fine; the
// generator also runs on loose files.
func checkGoDirective(logger *cli.Logger) {
	path, ok := findGoMod()
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		rest, found := strings.CutPrefix(line, "go ")
		if !found {
			continue
		}

		v, err := semver.NewVersion(strings.TrimSpace(rest))
		if err != nil {
			return
		}

		c, err := semver.NewConstraint(minGoConstraint)
		if err != nil {
			return
		}

		if !c.Check(v) {
			logger.Warn("%s declares go %s; generated instrumentation needs %s", path, v, minGoConstraint)
		}

		return
	}
}

func findGoMod() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}

	for {
		path := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(path); err == nil {
			return path, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
