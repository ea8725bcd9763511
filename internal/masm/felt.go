package masm

import (
	"fmt"
	"math/bits"
)

// Modulus is the prime defining the Miden VM's 64-bit field:
// 2^64 - 2^32 + 1.
const Modulus uint64 = 0xffffffff00000001

// Felt is an element of the Miden VM's prime field, the native value type of
// the operand stack and memory. Arithmetic is modular over Modulus.
type Felt uint64

// NewFelt reduces `v` into the field.
func NewFelt(v uint64) Felt {
	if v >= Modulus {
		v -= Modulus
	}
	return Felt(v)
}

// AsUint64 returns the canonical representative of `f`.
func (f Felt) AsUint64() uint64 { return uint64(f) }

// Add returns f + g (mod p).
func (f Felt) Add(g Felt) Felt {
	sum, carry := bits.Add64(uint64(f), uint64(g), 0)
	if carry == 1 || sum >= Modulus {
		sum -= Modulus
	}
	return Felt(sum)
}

// Sub returns f - g (mod p).
func (f Felt) Sub(g Felt) Felt {
	diff, borrow := bits.Sub64(uint64(f), uint64(g), 0)
	if borrow == 1 {
		diff += Modulus
	}
	return Felt(diff)
}

// Mul returns f * g (mod p), reducing the 128-bit product.
func (f Felt) Mul(g Felt) Felt {
	hi, lo := bits.Mul64(uint64(f), uint64(g))
	return reduce128(hi, lo)
}

// Neg returns -f (mod p).
func (f Felt) Neg() Felt {
	if f == 0 {
		return 0
	}
	return Felt(Modulus - uint64(f))
}

// Inv returns the multiplicative inverse of f. Inverting zero is a
// programmer contract violation.
func (f Felt) Inv() Felt {
	if f == 0 {
		panic("BUG: attempted to invert the zero field element")
	}
	// Fermat's little theorem: f^(p-2) mod p.
	return f.Exp(Modulus - 2)
}

// Exp returns f^e (mod p) by square and multiply.
func (f Felt) Exp(e uint64) Felt {
	result := Felt(1)
	base := f
	for e > 0 {
		if e&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		e >>= 1
	}
	return result
}

// reduce128 reduces a 128-bit product modulo p, exploiting the special form
// of the modulus: 2^64 is congruent to 2^32 - 1 (mod p).
func reduce128(hi, lo uint64) Felt {
	hiHi := hi >> 32
	hiLo := hi & 0xffffffff

	t0, borrow := bits.Sub64(lo, hiHi, 0)
	if borrow == 1 {
		t0 -= 1<<32 - 1
	}
	t1 := hiLo<<32 - hiLo
	result, carry := bits.Add64(t0, t1, 0)
	if carry == 1 {
		result += 1<<32 - 1
	}
	if result >= Modulus {
		result -= Modulus
	}
	return Felt(result)
}

// String implements fmt.Stringer.
func (f Felt) String() string { return fmt.Sprintf("%d", uint64(f)) }
