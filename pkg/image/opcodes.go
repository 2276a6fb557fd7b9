package image

import "fmt"

type Op uint8

const (
	OpNop Op = iota
	OpConst
	OpLoad
	OpStore
	OpPop
	OpDup
	OpField
	OpSetField
	OpAddF
	OpSubF
	OpMulF
	OpDivF
	OpNegF
	OpAddI
	OpSubI
	OpMulI
	OpDivI
	OpRemI
	OpNegI
	OpNot
	OpEqF
	OpNeF
	OpLtF
	OpLeF
	OpGtF
	OpGeF
	OpEqI
	OpNeI
	OpLtI
	OpLeI
	OpGtI
	OpGeI
	OpEqB
	OpNeB
	OpIntToFloat
	OpFloatToInt
	OpJump
	OpJumpIfFalse
	OpCall
	OpCallNative
	OpReturn
	opCount
)

var opNames = [...]string{
	OpNop:         "nop",
	OpConst:       "const",
	OpLoad:        "load",
	OpStore:       "store",
	OpPop:         "pop",
	OpDup:         "dup",
	OpField:       "field",
	OpSetField:    "setfield",
	OpAddF:        "addf",
	OpSubF:        "subf",
	OpMulF:        "mulf",
	OpDivF:        "divf",
	OpNegF:        "negf",
	OpAddI:        "addi",
	OpSubI:        "subi",
	OpMulI:        "muli",
	OpDivI:        "divi",
	OpRemI:        "remi",
	OpNegI:        "negi",
	OpNot:         "not",
	OpEqF:         "eqf",
	OpNeF:         "nef",
	OpLtF:         "ltf",
	OpLeF:         "lef",
	OpGtF:         "gtf",
	OpGeF:         "gef",
	OpEqI:         "eqi",
	OpNeI:         "nei",
	OpLtI:         "lti",
	OpLeI:         "lei",
	OpGtI:         "gti",
	OpGeI:         "gei",
	OpEqB:         "eqb",
	OpNeB:         "neb",
	OpIntToFloat:  "i2f",
	OpFloatToInt:  "f2i",
	OpJump:        "jump",
	OpJumpIfFalse: "jumpf",
	OpCall:        "call",
	OpCallNative:  "callnative",
	OpReturn:      "ret",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op_%d", int(op))
}

// Valid reports whether op is a known opcode.
func (op Op) Valid() bool { return op < opCount }

func (op Op) operands() int {
	switch op {
	case OpConst, OpLoad, OpStore, OpField, OpSetField, OpJump, OpJumpIfFalse, OpReturn:
		return 1
	case OpCall, OpCallNative:
		return 2
	default:
		return 0
	}
}

// IsJump reports whether A holds a code offset.
func (op Op) IsJump() bool { return op == OpJump || op == OpJumpIfFalse }
