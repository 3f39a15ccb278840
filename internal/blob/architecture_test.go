package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Storage drivers are wrapped by exactly one package each: blob drivers by
// internal/blob, state drivers by internal/session. Everything else depends on
// blob.Store or session.Store.
func TestInfraPackagesHaveSingleOwner(t *testing.T) {
	owners := []struct {
		infra string
		owner string
	}{
		{infra: "evalgrid/internal/infra/blob", owner: "evalgrid/internal/blob"},
		{infra: "evalgrid/internal/infra/persistence", owner: "evalgrid/internal/session"},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "evalgrid/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatalf("no packages loaded")
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, rule := range owners {
			if underPath(pkg.PkgPath, rule.owner) || underPath(pkg.PkgPath, rule.infra) {
				continue
			}
			for importPath := range pkg.Imports {
				if underPath(importPath, rule.infra) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		t.Fatalf("infra packages imported outside their owner:\n%s", strings.Join(violations, "\n"))
	}
}

// underPath reports whether path is prefix or a package below it. Test
// variants such as "p [p.test]" count as p.
func underPath(path, prefix string) bool {
	path, _, _ = strings.Cut(path, " ")
	path = strings.TrimSuffix(path, "_test")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
