package openapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	if err := idx.Load(context.Background(), "testdata/portagency.yaml"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)

	want := []string{
		"createAccessLevel",
		"deleteAccessLevel",
		"listAccessLevels",
		"listPermissions",
		"updateAccessLevel",
		"updateVendor",
	}
	if diff := cmp.Diff(want, idx.OperationIDs()); diff != "" {
		t.Errorf("OperationIDs() mismatch (-want +got):\n%s", diff)
	}
	if idx.Len() != len(want) {
		t.Errorf("Len() = %d, want %d", idx.Len(), len(want))
	}
	if idx.ServerURL() != "https://agency.internal" {
		t.Errorf("ServerURL() = %q", idx.ServerURL())
	}
}

func TestIndex_Load_missingFile(t *testing.T) {
	if err := NewIndex().Load(context.Background(), "testdata/absent.yaml"); err == nil {
		t.Error("Load(absent) should fail")
	}
}

func TestIndex_Load_invalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("openapi: 3.0.3\ninfo: {}\npaths: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := NewIndex().Load(context.Background(), path); err == nil {
		t.Error("Load(invalid) should fail validation")
	}
}

func TestIndex_Operation(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.Operation("updateAccessLevel")
	if !ok {
		t.Fatal("Operation(updateAccessLevel) not found")
	}
	if op.Method != "PUT" {
		t.Errorf("Method = %q, want PUT", op.Method)
	}
	if op.PathTemplate != "/api/access-levels/{id}" {
		t.Errorf("PathTemplate = %q", op.PathTemplate)
	}
	found := false
	for _, p := range op.Parameters {
		if p.Name == "id" && p.In == "path" {
			found = true
		}
	}
	if !found {
		t.Error("path-level id parameter not merged")
	}

	if _, ok := idx.Operation("nonexistent"); ok {
		t.Error("Operation(nonexistent) should return false")
	}
}

func TestIndex_Resolve(t *testing.T) {
	idx := loadTestIndex(t)

	method, path, err := idx.Resolve("deleteAccessLevel", map[string]string{"id": "al 7/x"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if method != "DELETE" {
		t.Errorf("method = %q, want DELETE", method)
	}
	if path != "/api/access-levels/al%207%2Fx" {
		t.Errorf("path = %q", path)
	}

	if _, _, err := idx.Resolve("deleteAccessLevel", nil); err == nil {
		t.Error("Resolve() without id should fail")
	}
	if _, _, err := idx.Resolve("unknown", nil); err == nil {
		t.Error("Resolve(unknown) should fail")
	}
}

func TestExpandPath(t *testing.T) {
	got, err := ExpandPath("/api/port-calls/{callId}/documents/{docId}", map[string]string{
		"callId": "pc-1",
		"docId":  "d-9",
	})
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	if got != "/api/port-calls/pc-1/documents/d-9" {
		t.Errorf("ExpandPath() = %q", got)
	}
	if _, err := ExpandPath("/api/{broken", nil); err == nil {
		t.Error("ExpandPath(unterminated) should fail")
	}
	if got, _ := ExpandPath("/api/permissions", nil); got != "/api/permissions" {
		t.Errorf("ExpandPath(no params) = %q", got)
	}
}

func TestIndex_ValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)

	errs := idx.ValidateRequest("createAccessLevel", map[string]any{"name": "  "})
	if len(errs) != 2 {
		t.Fatalf("ValidateRequest() = %v, want 2 errors", errs)
	}
	if errs[0].Field != "name" || errs[1].Field != "permissions" {
		t.Errorf("fields = %q, %q", errs[0].Field, errs[1].Field)
	}

	ok := idx.ValidateRequest("createAccessLevel", map[string]any{"name": "Admin", "permissions": []any{}})
	if len(ok) != 0 {
		t.Errorf("ValidateRequest(valid) = %v", ok)
	}
	if errs := idx.ValidateRequest("updateVendor", map[string]any{}); errs != nil {
		t.Errorf("ValidateRequest(no body schema) = %v, want nil", errs)
	}
}
