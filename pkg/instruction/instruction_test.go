package instruction_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bobboyms/immux-go/pkg/instruction"
)

func roundTrip(t *testing.T, instr instruction.Instruction) instruction.Instruction {
	t.Helper()
	encoded := instruction.Serialize(instr)
	decoded, n, err := instruction.Parse(encoded)
	if err != nil {
		t.Fatalf("Parse(%#v) returned error: %v", instr, err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	return decoded
}

func TestRoundTripAllVariants(t *testing.T) {
	cases := []instruction.Instruction{
		instruction.Set{Key: []byte("k1"), Value: []byte("v1")},
		instruction.Set{Key: []byte("k1"), Value: []byte{}},
		instruction.RemoveOne{Key: []byte("k1")},
		instruction.RemoveAll{},
		instruction.RevertOne{Key: []byte("k1"), TargetHeight: 7},
		instruction.RevertAll{TargetHeight: 42},
		instruction.TransactionStart{TID: 1},
		instruction.TransactionalSet{Key: []byte("k1"), Value: []byte("v1"), TID: 1},
		instruction.TransactionalRemoveOne{Key: []byte("k1"), TID: 1},
		instruction.TransactionalRevertOne{Key: []byte("k1"), TargetHeight: 3, TID: 1},
		instruction.TransactionCommit{TID: 1},
		instruction.TransactionAbort{TID: 1},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if got.Tag() != want.Tag() {
			t.Fatalf("tag mismatch: got %v, want %v", got.Tag(), want.Tag())
		}

		switch w := want.(type) {
		case instruction.Set:
			g := got.(instruction.Set)
			if !bytes.Equal(g.Key, w.Key) || !bytes.Equal(g.Value, w.Value) {
				t.Fatalf("Set mismatch: got %+v, want %+v", g, w)
			}
		case instruction.RemoveOne:
			g := got.(instruction.RemoveOne)
			if !bytes.Equal(g.Key, w.Key) {
				t.Fatalf("RemoveOne mismatch: got %+v, want %+v", g, w)
			}
		case instruction.RevertOne:
			g := got.(instruction.RevertOne)
			if !bytes.Equal(g.Key, w.Key) || g.TargetHeight != w.TargetHeight {
				t.Fatalf("RevertOne mismatch: got %+v, want %+v", g, w)
			}
		case instruction.RevertAll:
			g := got.(instruction.RevertAll)
			if g.TargetHeight != w.TargetHeight {
				t.Fatalf("RevertAll mismatch: got %+v, want %+v", g, w)
			}
		case instruction.TransactionStart:
			g := got.(instruction.TransactionStart)
			if g.TID != w.TID {
				t.Fatalf("TransactionStart mismatch: got %+v, want %+v", g, w)
			}
		case instruction.TransactionalSet:
			g := got.(instruction.TransactionalSet)
			if !bytes.Equal(g.Key, w.Key) || !bytes.Equal(g.Value, w.Value) || g.TID != w.TID {
				t.Fatalf("TransactionalSet mismatch: got %+v, want %+v", g, w)
			}
		case instruction.TransactionalRemoveOne:
			g := got.(instruction.TransactionalRemoveOne)
			if !bytes.Equal(g.Key, w.Key) || g.TID != w.TID {
				t.Fatalf("TransactionalRemoveOne mismatch: got %+v, want %+v", g, w)
			}
		case instruction.TransactionalRevertOne:
			g := got.(instruction.TransactionalRevertOne)
			if !bytes.Equal(g.Key, w.Key) || g.TargetHeight != w.TargetHeight || g.TID != w.TID {
				t.Fatalf("TransactionalRevertOne mismatch: got %+v, want %+v", g, w)
			}
		case instruction.TransactionCommit:
			g := got.(instruction.TransactionCommit)
			if g.TID != w.TID {
				t.Fatalf("TransactionCommit mismatch: got %+v, want %+v", g, w)
			}
		case instruction.TransactionAbort:
			g := got.(instruction.TransactionAbort)
			if g.TID != w.TID {
				t.Fatalf("TransactionAbort mismatch: got %+v, want %+v", g, w)
			}
		}
	}
}

func TestParseUnknownTag(t *testing.T) {
	_, _, err := instruction.Parse([]byte{0x7f})
	if !errors.Is(err, instruction.ErrUnknownTag) {
		t.Fatalf("got %v, want ErrUnknownTag", err)
	}
}

func TestParseEmptyBuffer(t *testing.T) {
	_, _, err := instruction.Parse(nil)
	if !errors.Is(err, instruction.ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestParseTruncatedAtEachField(t *testing.T) {
	full := instruction.Serialize(instruction.TransactionalSet{
		Key: []byte("akey"), Value: []byte("avalue"), TID: 9,
	})
	for n := 1; n < len(full); n++ {
		_, _, err := instruction.Parse(full[:n])
		if !errors.Is(err, instruction.ErrTruncated) {
			t.Fatalf("Parse(truncated to %d bytes) got %v, want ErrTruncated", n, err)
		}
	}
}

func TestParseKeyTooLong(t *testing.T) {
	key := make([]byte, instruction.MaxKeyLength+1)
	encoded := instruction.Serialize(instruction.RemoveOne{Key: key})
	_, _, err := instruction.Parse(encoded)
	if !errors.Is(err, instruction.ErrKeyTooLong) {
		t.Fatalf("got %v, want ErrKeyTooLong", err)
	}
}

func TestParseTrailingBytesIgnored(t *testing.T) {
	encoded := instruction.Serialize(instruction.RemoveAll{})
	encoded = append(encoded, 0xff, 0xff, 0xff)
	decoded, n, err := instruction.Parse(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("consumed %d bytes, want 1", n)
	}
	if _, ok := decoded.(instruction.RemoveAll); !ok {
		t.Fatalf("got %T, want RemoveAll", decoded)
	}
}

func TestParseEmptyKeyAndValue(t *testing.T) {
	decoded := roundTrip(t, instruction.Set{Key: []byte{}, Value: nil})
	got := decoded.(instruction.Set)
	if len(got.Key) != 0 || len(got.Value) != 0 {
		t.Fatalf("got %+v, want empty key and value", got)
	}
}
