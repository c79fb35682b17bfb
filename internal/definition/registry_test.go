package definition

import (
	"sync"
	"testing"
)

func testDefs() []FormDefinition {
	return []FormDefinition{
		{ID: "vendor", Title: "Vendor", DraftKey: "editVendorFormDraft", Checksum: "abc123"},
		{ID: "access_level", Title: "Access level", DraftKey: "accessLevelDraft", Checksum: "def456"},
	}
}

func TestRegistry_GetForm(t *testing.T) {
	r := NewRegistry(testDefs())

	f, ok := r.GetForm("vendor")
	if !ok {
		t.Fatal("GetForm(vendor) not found")
	}
	if f.DraftKey != "editVendorFormDraft" {
		t.Errorf("DraftKey = %q", f.DraftKey)
	}

	if _, ok := r.GetForm("unknown"); ok {
		t.Error("GetForm(unknown) should not be found")
	}
}

func TestRegistry_AllForms_sorted(t *testing.T) {
	r := NewRegistry(testDefs())
	all := r.AllForms()
	if len(all) != 2 || all[0].ID != "access_level" || all[1].ID != "vendor" {
		t.Errorf("AllForms() = %v", all)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_Checksum_orderIndependent(t *testing.T) {
	defs := testDefs()
	a := NewRegistry(defs).Checksum()
	b := NewRegistry([]FormDefinition{defs[1], defs[0]}).Checksum()
	if a == "" || a != b {
		t.Errorf("checksums differ: %q vs %q", a, b)
	}

	defs[0].Checksum = "changed"
	if NewRegistry(defs).Checksum() == a {
		t.Error("checksum should change with content")
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(testDefs())
	r.Replace([]FormDefinition{{ID: "pda", DraftKey: "pdaDraft"}})

	if _, ok := r.GetForm("vendor"); ok {
		t.Error("old definitions should be gone after Replace")
	}
	if _, ok := r.GetForm("pda"); !ok {
		t.Error("new definition missing after Replace")
	}
}

func TestRegistry_concurrentReadsDuringReplace(t *testing.T) {
	r := NewRegistry(testDefs())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.GetForm("vendor")
				r.AllForms()
			}
		}()
	}
	for j := 0; j < 50; j++ {
		r.Replace(testDefs())
	}
	wg.Wait()
}
