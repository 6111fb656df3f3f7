package core

import (
	"go/types"
	"sort"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestRunStoreImplementationsStayInPersistence fails when a type outside the
// persistence packages starts satisfying domain.RunStore. New backends belong
// under internal/infra/persistence and must be added here deliberately.
func TestRunStoreImplementationsStayInPersistence(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, "watershed/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var runStore *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "watershed/pkg/domain" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("RunStore")
		if obj == nil {
			t.Fatalf("domain.RunStore not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("domain.RunStore is not an interface")
		}
		runStore = iface
	}
	if runStore == nil {
		t.Fatalf("failed to resolve domain.RunStore")
	}
	allowed := map[string]bool{
		"watershed/internal/infra/persistence/memory":   true,
		"watershed/internal/infra/persistence/sqlite":   true,
		"watershed/internal/infra/persistence/postgres": true,
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			named, ok := p.Types.Scope().Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), runStore) && !allowed[p.PkgPath] {
				unexpected = append(unexpected, p.PkgPath+"."+name)
			}
		}
	}
	sort.Strings(unexpected)
	if len(unexpected) > 0 {
		t.Fatalf("unexpected RunStore implementations: %v", unexpected)
	}
}
