// Package txscript defines the transparent script opcode values zecd's
// (out-of-core) script interpreter would recognize. Data only — no
// execution semantics live here.
package txscript

// OpCode is a single transparent script opcode byte.
type OpCode byte

// Opcodes used to generate P2SH and P2PKH scripts.
const (
	// OpDup duplicates the top stack item.
	OpDup OpCode = 0x76
	// OpEqual returns 1 if the inputs are exactly equal, 0 otherwise.
	OpEqual OpCode = 0x87
	// OpEqualVerify is OpEqual followed by OpVerify.
	OpEqualVerify OpCode = 0x88
	// OpHash160 hashes the input with SHA-256 then RIPEMD-160.
	OpHash160 OpCode = 0xa9
	// OpPush20 pushes the next 20 bytes onto the stack.
	OpPush20 OpCode = 0x14
	// OpCheckSig verifies a signature against a public key.
	OpCheckSig OpCode = 0xac
)

// Name returns the canonical mnemonic for a known opcode, or "" if op is
// not one of the opcodes zecd recognizes.
func (op OpCode) Name() string {
	switch op {
	case OpDup:
		return "OP_DUP"
	case OpEqual:
		return "OP_EQUAL"
	case OpEqualVerify:
		return "OP_EQUALVERIFY"
	case OpHash160:
		return "OP_HASH160"
	case OpPush20:
		return "OP_PUSH20"
	case OpCheckSig:
		return "OP_CHECKSIG"
	default:
		return ""
	}
}
