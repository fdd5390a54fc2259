package walog

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/immux-go/pkg/instruction"
)

// Record pairs a decoded instruction with its byte offset in the log
// and the length of its encoding.
type Record struct {
	Instruction instruction.Instruction
	Offset      int64
	Length      int64
}

// CorruptError reports bytes at Offset that cannot be a truncated
// tail — an unknown tag byte or an over-length key, the shapes only
// bit-level corruption produces, never a crash mid-append (which
// always manifests as instruction.ErrTruncated: missing bytes, not
// garbage ones).
type CorruptError struct {
	Offset int64
	Cause  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("walog: corrupt instruction at offset %d: %v", e.Offset, e.Cause)
}

func (e *CorruptError) Unwrap() error { return e.Cause }

// Parser is a lazy, finite, non-restartable sequence over an owned
// byte buffer. Each call to Next invokes the instruction codec at the
// current cursor; on success it yields a Record and advances. On a
// dangling, partially-written tail instruction (instruction.ErrTruncated)
// the sequence ends cleanly with no error — that is the shape a crash
// mid-append leaves behind. On anything else — an unknown tag or an
// over-length key — the sequence ends with a *CorruptError, since
// those byte patterns cannot result from a truncated write.
type Parser struct {
	buf    []byte
	cursor int64
}

// NewParser wraps buf for sequential decoding starting at offset 0.
func NewParser(buf []byte) *Parser {
	return &Parser{buf: buf}
}

// Next returns the next record and true; or a zero Record and false
// with a nil error once the buffer is cleanly exhausted or ends in a
// truncated tail; or a zero Record, false, and a non-nil *CorruptError
// if the bytes at the cursor cannot be a truncated tail.
func (p *Parser) Next() (Record, bool, error) {
	if p.cursor >= int64(len(p.buf)) {
		return Record{}, false, nil
	}

	instr, n, err := instruction.Parse(p.buf[p.cursor:])
	if err != nil {
		if errors.Is(err, instruction.ErrTruncated) {
			return Record{}, false, nil
		}
		return Record{}, false, &CorruptError{Offset: p.cursor, Cause: err}
	}

	rec := Record{Instruction: instr, Offset: p.cursor, Length: int64(n)}
	p.cursor += int64(n)
	return rec, true, nil
}

// All drains the parser into a slice, for callers that want the whole
// sequence rather than stepping record by record. It returns the
// records decoded before any corruption together with a non-nil error
// if decoding stopped because of corruption rather than a clean or
// truncated-tail end.
func All(buf []byte) ([]Record, error) {
	p := NewParser(buf)
	var records []Record
	for {
		rec, ok, err := p.Next()
		if err != nil {
			return records, err
		}
		if !ok {
			return records, nil
		}
		records = append(records, rec)
	}
}
