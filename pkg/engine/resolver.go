package engine

import (
	"bytes"

	"github.com/bobboyms/immux-go/pkg/instruction"
	"github.com/bobboyms/immux-go/pkg/walog"
)

// resolveHistorical reconstructs the value a key held at targetHeight
// by walking the full instruction sequence backward from that height.
// Recursion terminates because every recursive call strictly decreases
// height; if height would underflow 0 without a definite result, the
// key is absent.
func resolveHistorical(records []walog.Record, targetKey []byte, targetHeight uint64) ([]byte, bool) {
	height := targetHeight
	for {
		if height >= uint64(len(records)) {
			return nil, false
		}
		rec := records[height]

		switch instr := rec.Instruction.(type) {
		case instruction.Set:
			if bytes.Equal(instr.Key, targetKey) {
				return instr.Value, true
			}
		case instruction.RemoveOne:
			if bytes.Equal(instr.Key, targetKey) {
				return nil, false
			}
		case instruction.RemoveAll:
			return nil, false
		case instruction.RevertOne:
			if bytes.Equal(instr.Key, targetKey) {
				if uint64(instr.TargetHeight) >= height {
					return nil, false
				}
				height = uint64(instr.TargetHeight)
				continue
			}
		case instruction.RevertAll:
			if uint64(instr.TargetHeight) >= height {
				return nil, false
			}
			height = uint64(instr.TargetHeight)
			continue
		}

		if height == 0 {
			return nil, false
		}
		height--
	}
}
