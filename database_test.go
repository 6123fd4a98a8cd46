package hyperscan

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCompileSingle(t *testing.T) {
	db, err := Compile(`foo(bar|baz)`, Caseless, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer db.Close()

	info, err := db.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info == "" {
		t.Fatal("empty database info")
	}

	size, err := db.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size <= 0 {
		t.Fatalf("implausible database size %d", size)
	}
}

func TestCompileSingleInvalid(t *testing.T) {
	_, err := Compile(`(unbalanced`, 0, nil)
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v (%T), want *CompileError", err, err)
	}
	if ce.Expression != 0 {
		t.Errorf("Expression = %d, want 0 for single-pattern compile", ce.Expression)
	}
	if ce.Message == "" {
		t.Error("compile error carries no message")
	}
}

func TestCompileMultiFailingIndex(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		patterns := make([]Pattern, n)
		for i := range patterns {
			patterns[i] = Pattern{Expression: fmt.Sprintf("valid%d", i), ID: uint32(i)}
		}
		patterns[k].Expression = `(unbalanced`

		_, err := CompileMulti(patterns, nil)
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Fatalf("k=%d: got %v, want *CompileError", k, err)
		}
		if ce.Expression != k {
			t.Errorf("k=%d: Expression = %d", k, ce.Expression)
		}
	}
}

func TestCompileMultiEmpty(t *testing.T) {
	if _, err := CompileMulti(nil, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty batch = %v, want ErrInvalid", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	db, err := CompileMulti([]Pattern{
		{Expression: `needle`, ID: 7},
		{Expression: `[0-9]{4}`, ID: 8},
	}, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer db.Close()

	data, err := db.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty serialized buffer")
	}

	info, err := SerializedInfo(data)
	if err != nil {
		t.Fatalf("serialized info: %v", err)
	}
	if !strings.Contains(info, "Version") {
		t.Errorf("unexpected serialized info %q", info)
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	defer restored.Close()

	scratch, err := NewScratch(restored)
	if err != nil {
		t.Fatalf("scratch for restored db: %v", err)
	}
	defer scratch.Close()

	var ids []uint32
	err = restored.Scan([]byte("a needle in 2024"), scratch, func(id uint32, from, to uint64) bool {
		ids = append(ids, id)
		return true
	})
	if err != nil {
		t.Fatalf("scan restored db: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("restored db reported %d matches, want 2", len(ids))
	}
}

func TestDeserializeGarbage(t *testing.T) {
	if _, err := Deserialize([]byte("not a database")); err == nil {
		t.Fatal("deserializing garbage should fail")
	}
	if _, err := Deserialize(nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("nil buffer = %v, want ErrInvalid", err)
	}
}

func TestDatabaseUseAfterClose(t *testing.T) {
	db, err := Compile(`abc`, 0, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	db.Close()
	db.Close() // second close is a no-op

	if _, err := db.Info(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Info after close = %v, want ErrInvalid", err)
	}
	if _, err := NewScratch(db); !errors.Is(err, ErrInvalid) {
		t.Fatalf("NewScratch after close = %v, want ErrInvalid", err)
	}
}
