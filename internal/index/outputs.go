package index

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/truthmint/internal/fsutil"
	"github.com/pders01/truthmint/internal/policy"
	"github.com/pders01/truthmint/internal/walk"
)

// RepoMapEntry is one file in repo_map.json. Text files are measured after
// line endings are normalized to LF.
type RepoMapEntry struct {
	Path   string `json:"path"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
	Text   bool   `json:"text"`
}

// RepoMap is the content of repo_map.json.
type RepoMap struct {
	FileCount int            `json:"file_count"`
	TotalSize int            `json:"total_size"`
	Files     []RepoMapEntry `json:"files"`
}

// GoFile is one Go source file in go_index.json.
type GoFile struct {
	Path    string   `json:"path"`
	Package string   `json:"package,omitempty"`
	Imports []string `json:"imports,omitempty"`
	Funcs   []string `json:"funcs,omitempty"`
	Types   []string `json:"types,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// GoIndex is the content of go_index.json.
type GoIndex struct {
	Files []GoFile `json:"files"`
}

// Entrypoint is a directory holding package main with func main.
type Entrypoint struct {
	Dir  string `json:"dir"`
	File string `json:"file"`
}

func normalized(pol *policy.Policy, f walk.File) ([]byte, bool) {
	if pol.IsText(f.Path) {
		return fsutil.NormalizeEOL(f.Data), true
	}
	return f.Data, false
}

func buildRepoMap(set *walk.FileSet, pol *policy.Policy) RepoMap {
	m := RepoMap{Files: make([]RepoMapEntry, 0, set.Len())}
	for _, f := range set.Files {
		data, text := normalized(pol, f)
		m.Files = append(m.Files, RepoMapEntry{Path: f.Path, Size: len(data), SHA256: digest(data), Text: text})
		m.TotalSize += len(data)
	}
	m.FileCount = len(m.Files)
	return m
}

// buildGoIndex parses every .go file concurrently. Each goroutine writes its
// own slot, so output order follows the File Set regardless of scheduling.
// Files that fail to parse are recorded with their error instead of failing
// the build.
func buildGoIndex(ctx context.Context, set *walk.FileSet, pol *policy.Policy) (GoIndex, error) {
	var sources []walk.File
	for _, f := range set.Files {
		if path.Ext(f.Path) == ".go" {
			sources = append(sources, f)
		}
	}

	files := make([]GoFile, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, _ := normalized(pol, f)
			files[i] = parseGoFile(f.Path, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GoIndex{}, err
	}
	return GoIndex{Files: files}, nil
}

func parseGoFile(rel string, src []byte) GoFile {
	out := GoFile{Path: rel}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, rel, src, parser.SkipObjectResolution)
	if err != nil {
		out.Error, _, _ = strings.Cut(err.Error(), "\n")
		return out
	}

	out.Package = file.Name.Name
	for _, imp := range file.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			out.Imports = append(out.Imports, p)
		}
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			out.Funcs = append(out.Funcs, funcName(d))
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				out.Types = append(out.Types, spec.(*ast.TypeSpec).Name.Name)
			}
		}
	}
	sort.Strings(out.Imports)
	sort.Strings(out.Funcs)
	sort.Strings(out.Types)
	return out
}

func funcName(d *ast.FuncDecl) string {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name
	}
	recv := d.Recv.List[0].Type
	if star, ok := recv.(*ast.StarExpr); ok {
		recv = star.X
	}
	switch r := recv.(type) {
	case *ast.Ident:
		return r.Name + "." + d.Name.Name
	case *ast.IndexExpr:
		if id, ok := r.X.(*ast.Ident); ok {
			return id.Name + "." + d.Name.Name
		}
	case *ast.IndexListExpr:
		if id, ok := r.X.(*ast.Ident); ok {
			return id.Name + "." + d.Name.Name
		}
	}
	return d.Name.Name
}

func findEntrypoints(idx GoIndex) []Entrypoint {
	out := []Entrypoint{}
	seen := map[string]bool{}
	for _, f := range idx.Files {
		if f.Package != "main" || seen[path.Dir(f.Path)] {
			continue
		}
		for _, fn := range f.Funcs {
			if fn == "main" {
				seen[path.Dir(f.Path)] = true
				out = append(out, Entrypoint{Dir: path.Dir(f.Path), File: f.Path})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out
}

func readme(m RepoMap, g GoIndex, eps []Entrypoint) []byte {
	var b bytes.Buffer
	b.WriteString("Derived index. Regenerated on every confirm; do not edit.\n\n")
	fmt.Fprintf(&b, "%s\t%d files, %d bytes (text files measured with LF line endings)\n", RepoMapFile, m.FileCount, m.TotalSize)
	fmt.Fprintf(&b, "%s\t%d Go files\n", GoIndexFile, len(g.Files))
	fmt.Fprintf(&b, "%s\t%d entrypoints\n", EntrypointsFile, len(eps))
	fmt.Fprintf(&b, "%s\tname, size and sha256 of every file above\n", ManifestFile)
	return b.Bytes()
}
