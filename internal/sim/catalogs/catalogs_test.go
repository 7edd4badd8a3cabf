package catalogs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad_MatchesDefaults(t *testing.T) {
	got, err := Load("../../../configs")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if !reflect.DeepEqual(got.Units.ByID, want.Units.ByID) {
		t.Fatalf("units differ:\n got=%v\nwant=%v", got.Units.ByID, want.Units.ByID)
	}
	if !reflect.DeepEqual(got.Technologies.ByID, want.Technologies.ByID) {
		t.Fatalf("technologies differ")
	}
	if !reflect.DeepEqual(got.Technologies.Order, want.Technologies.Order) {
		t.Fatalf("order differ: %v vs %v", got.Technologies.Order, want.Technologies.Order)
	}
	if got.Units.Digest == "" || got.Technologies.Digest == "" {
		t.Fatalf("missing digests")
	}
	if len(got.Technologies.ByID) != 12 {
		t.Fatalf("technologies=%d want 12", len(got.Technologies.ByID))
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"dup":      `[{"id":"A","cap":1,"costs":[]},{"id":"A","cap":1,"costs":[]}]`,
		"cap":      `[{"id":"A","cap":0,"costs":[]}]`,
		"negative": `[{"id":"A","cap":1,"costs":[{"resource":"IRON","amount":-1}]}]`,
		"syntax":   `[{`,
	}
	for name, techs := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "units.json"), []byte(`[]`), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "technologies.json"), []byte(techs), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(dir); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
