package state

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dokzlo13/dmx-adapter/internal/db"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d.DB)
}

func TestStore_PutBumpsVersion(t *testing.T) {
	s := openStore(t)

	if _, ok, err := s.Get(KindProperty, "a/d/p"); ok || err != nil {
		t.Fatalf("Get on empty = ok %v, err %v", ok, err)
	}

	before := time.Now().UTC().Add(-time.Second)
	for i, payload := range []string{`1`, `2`, `3`} {
		v, err := s.Put(KindProperty, "a/d/p", []byte(payload))
		if err != nil {
			t.Fatal(err)
		}
		if v != int64(i+1) {
			t.Errorf("Put #%d version = %d", i+1, v)
		}
	}

	rec, ok, err := s.Get(KindProperty, "a/d/p")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if rec.ID != "a/d/p" || string(rec.Payload) != "3" || rec.Version != 3 {
		t.Errorf("Get = %+v", rec)
	}
	if rec.UpdatedAt.Before(before.Truncate(time.Second)) {
		t.Errorf("UpdatedAt = %v, want >= %v", rec.UpdatedAt, before)
	}
}

func TestStore_DeleteAndIDs(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"a/d/x", "a/d/p", "b/d/p"} {
		if _, err := s.Put(KindProperty, id, []byte(`0`)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Put("other", "a/d/p", []byte(`0`)); err != nil {
		t.Fatal(err)
	}

	ids, err := s.IDs(KindProperty)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a/d/p", "a/d/x", "b/d/p"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("IDs = %v, want %v", ids, want)
	}

	tests := []struct {
		name string
		ids  []string
		want int64
	}{
		{"none", nil, 0},
		{"missing", []string{"z/z/z"}, 0},
		{"two", []string{"a/d/x", "b/d/p", "z/z/z"}, 2},
		{"again", []string{"a/d/x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.Delete(KindProperty, tt.ids...)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.want {
				t.Errorf("Delete = %d, want %d", n, tt.want)
			}
		})
	}

	if ids, _ := s.IDs(KindProperty); !reflect.DeepEqual(ids, []string{"a/d/p"}) {
		t.Errorf("IDs after Delete = %v", ids)
	}
	if _, ok, _ := s.Get("other", "a/d/p"); !ok {
		t.Error("Delete removed another kind")
	}
}

type saved struct {
	Value json.RawMessage `json:"value"`
}

func TestTypedStore(t *testing.T) {
	s := openStore(t)
	ts := NewTypedStore[saved](s, KindProperty)
	other := NewTypedStore[saved](s, "other")

	if _, ok, err := ts.Get("x"); ok || err != nil {
		t.Fatalf("Get missing = ok %v, err %v", ok, err)
	}

	if _, err := ts.Set("level", saved{Value: json.RawMessage(`128`)}); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Set("color", saved{Value: json.RawMessage(`"#ff0000"`)}); err != nil {
		t.Fatal(err)
	}
	if v, err := ts.Set("color", saved{Value: json.RawMessage(`"#00ff00"`)}); err != nil || v != 2 {
		t.Fatalf("second Set = v%d, %v", v, err)
	}
	if _, err := other.Set("level", saved{Value: json.RawMessage(`1`)}); err != nil {
		t.Fatal(err)
	}

	e, ok, err := ts.Get("color")
	if err != nil || !ok {
		t.Fatalf("Get color = ok %v, err %v", ok, err)
	}
	if string(e.Value.Value) != `"#00ff00"` || e.Version != 2 || e.UpdatedAt.IsZero() {
		t.Errorf("Get color = %+v", e)
	}

	n, err := ts.Clear()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if ids, _ := ts.IDs(); len(ids) != 0 {
		t.Errorf("IDs after Clear = %v", ids)
	}
	if _, ok, _ := other.Get("level"); !ok {
		t.Error("Clear removed another kind")
	}
}

func TestTypedStore_CorruptPayload(t *testing.T) {
	s := openStore(t)
	if _, err := s.Put(KindProperty, "bad", []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}

	ts := NewTypedStore[saved](s, KindProperty)
	if _, ok, err := ts.Get("bad"); err == nil || ok {
		t.Errorf("Get corrupt = ok %v, err %v", ok, err)
	}
}
