package httpx

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

// Every outbound request must go through NewClient so the breaker, rate
// limiter and retry chain cannot be bypassed. The default client and the
// package-level helpers built on it skip all of that.
var bannedHTTPSelectors = map[string]string{
	"DefaultClient": "use httpx.NewClient",
	"Get":           "use httpx.Do with a chained client",
	"Post":          "use httpx.Do with a chained client",
	"PostForm":      "use httpx.Do with a chained client",
	"Head":          "use httpx.Do with a chained client",
}

func TestOutboundCallsUseHardenedClient(t *testing.T) {
	repoRoot := filepath.Clean(filepath.Join("..", "..", ".."))

	var violations []string
	fset := token.NewFileSet()

	for _, root := range []string{"internal", "cmd"} {
		err := filepath.WalkDir(filepath.Join(repoRoot, root), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			file, parseErr := parser.ParseFile(fset, path, nil, 0)
			if parseErr != nil {
				return parseErr
			}
			ast.Inspect(file, func(n ast.Node) bool {
				sel, ok := n.(*ast.SelectorExpr)
				if !ok {
					return true
				}
				pkg, ok := sel.X.(*ast.Ident)
				if !ok || pkg.Name != "http" {
					return true
				}
				if hint, banned := bannedHTTPSelectors[sel.Sel.Name]; banned {
					pos := fset.Position(sel.Pos())
					violations = append(violations, fmt.Sprintf("%s: http.%s (%s)", pos, sel.Sel.Name, hint))
				}
				return true
			})
			return nil
		})
		if err != nil {
			t.Fatalf("scan %s: %v", root, err)
		}
	}

	if len(violations) > 0 {
		t.Fatalf("outbound HTTP bypassing the hardened client:\n%s", strings.Join(violations, "\n"))
	}
}
