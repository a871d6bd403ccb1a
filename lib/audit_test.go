// Package lib holds cross-package checks over the node's source tree.
package lib

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

type sourceFile struct {
	path string
	file *ast.File
}

// sources parses every non-test Go file under lib/.
func sources(t *testing.T, mode parser.Mode) []sourceFile {
	t.Helper()
	var out []sourceFile
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(token.NewFileSet(), path, nil, mode)
		if err != nil {
			t.Errorf("parse %s: %v", path, err)
			return nil
		}
		out = append(out, sourceFile{path: filepath.ToSlash(path), file: f})
		return nil
	})
	if err != nil {
		t.Fatalf("walk lib: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("no sources found")
	}
	return out
}

func imports(f *ast.File, pkg string) bool {
	for _, imp := range f.Imports {
		if p, _ := strconv.Unquote(imp.Path.Value); p == pkg {
			return true
		}
	}
	return false
}

// Tokens end up in generated configs; nothing may derive from math/rand.
func TestNoMathRand(t *testing.T) {
	for _, s := range sources(t, parser.ImportsOnly) {
		if imports(s.file, "math/rand") || imports(s.file, "math/rand/v2") {
			t.Errorf("%s imports math/rand", s.path)
		}
	}
}

func TestProcessSpawningConfinedToSupervisor(t *testing.T) {
	for _, s := range sources(t, parser.ImportsOnly) {
		if imports(s.file, "os/exec") && !strings.HasPrefix(s.path, "supervisor/") {
			t.Errorf("%s spawns processes outside lib/supervisor", s.path)
		}
	}
}

func TestStructuredLoggingOnly(t *testing.T) {
	for _, s := range sources(t, parser.ImportsOnly) {
		if imports(s.file, "log") || imports(s.file, "log/slog") {
			t.Errorf("%s uses the standard logger instead of go-i2p/logger", s.path)
		}
	}
}

func TestNoPanicsInLibraryCode(t *testing.T) {
	for _, s := range sources(t, 0) {
		ast.Inspect(s.file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			if id, ok := call.Fun.(*ast.Ident); ok && id.Name == "panic" {
				t.Errorf("%s calls panic", s.path)
			}
			return true
		})
	}
}

// Only the supervisor may write tunnel configs, so every one gets 0600.
func TestConfigWritesGoThroughSupervisor(t *testing.T) {
	for _, s := range sources(t, 0) {
		if strings.HasPrefix(s.path, "supervisor/") || strings.HasPrefix(s.path, "config/") {
			continue
		}
		ast.Inspect(s.file, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if x, ok := sel.X.(*ast.Ident); ok && x.Name == "os" && sel.Sel.Name == "WriteFile" {
				t.Errorf("%s writes files directly with os.WriteFile", s.path)
			}
			return true
		})
	}
}
