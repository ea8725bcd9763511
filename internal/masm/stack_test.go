package masm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func stackOf(values ...Felt) *OperandStack[Felt] {
	s := NewOperandStack[Felt]()
	for i := len(values) - 1; i >= 0; i-- {
		s.Push(values[i])
	}
	return s
}

func contents(s *OperandStack[Felt]) []Felt {
	out := make([]Felt, s.Len())
	for i := range out {
		out[i] = s.Get(i)
	}
	return out
}

func TestOperandStack_PushPopPeek(t *testing.T) {
	s := NewOperandStack[Felt]()
	require.True(t, s.IsEmpty())
	s.Push(1)
	s.Push(2)
	require.Equal(t, Felt(2), s.Peek())
	require.Equal(t, Felt(2), s.Pop())
	require.Equal(t, Felt(1), s.Pop())
	require.True(t, s.IsEmpty())
	require.Panics(t, func() { s.Pop() })
	require.Panics(t, func() { s.Peek() })
}

func TestOperandStack_Words(t *testing.T) {
	s := NewOperandStack[Felt]()
	s.Pushw([4]Felt{1, 2, 3, 4})
	require.Equal(t, 4, s.Len())
	require.Equal(t, [4]Felt{1, 2, 3, 4}, s.Peekw())
	require.Equal(t, Felt(1), s.Peek())

	s.Padw()
	require.Equal(t, [4]Felt{0, 0, 0, 0}, s.Peekw())
	s.Dropw()
	require.Equal(t, [4]Felt{1, 2, 3, 4}, s.Popw())
	require.True(t, s.IsEmpty())
}

func TestOperandStack_DupSwap(t *testing.T) {
	s := stackOf(1, 2, 3)
	s.Dup(0)
	require.Equal(t, []Felt{1, 1, 2, 3}, contents(s))
	s.Dup(3)
	require.Equal(t, []Felt{3, 1, 1, 2, 3}, contents(s))

	s = stackOf(1, 2, 3)
	s.Swap(1)
	require.Equal(t, []Felt{2, 1, 3}, contents(s))
	s.Swap(2)
	require.Equal(t, []Felt{3, 1, 2}, contents(s))

	require.Panics(t, func() { s.Swap(0) })
	require.Panics(t, func() { s.Swap(3) })
	require.Panics(t, func() { s.Dup(5) })
}

func TestOperandStack_MoveUpDown(t *testing.T) {
	s := stackOf(1, 2, 3, 4)
	s.Movup(2)
	require.Equal(t, []Felt{3, 1, 2, 4}, contents(s))

	s = stackOf(1, 2, 3, 4)
	s.Movdn(2)
	require.Equal(t, []Felt{2, 3, 1, 4}, contents(s))

	// movup(1) and movdn(1) are both equivalent to swap(1).
	s = stackOf(1, 2)
	s.Movup(1)
	require.Equal(t, []Felt{2, 1}, contents(s))
	s.Movdn(1)
	require.Equal(t, []Felt{1, 2}, contents(s))

	require.Panics(t, func() { s.Movup(0) })
	require.Panics(t, func() { s.Movdn(0) })
	require.Panics(t, func() { s.Movup(9) })
}

func TestOperandStack_WordMoves(t *testing.T) {
	s := stackOf(1, 2, 3, 4, 5, 6, 7, 8)
	s.Swapw(1)
	require.Equal(t, []Felt{5, 6, 7, 8, 1, 2, 3, 4}, contents(s))
	s.Swapw(1)
	require.Equal(t, []Felt{1, 2, 3, 4, 5, 6, 7, 8}, contents(s))

	s.Movupw(1)
	require.Equal(t, []Felt{5, 6, 7, 8, 1, 2, 3, 4}, contents(s))
	s.Movdnw(1)
	require.Equal(t, []Felt{1, 2, 3, 4, 5, 6, 7, 8}, contents(s))

	s.Dupw(1)
	require.Equal(t, []Felt{5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8}, contents(s))

	require.Panics(t, func() { s.Swapw(0) })
	require.Panics(t, func() { s.Dupw(4) })
}

func TestOperandStack_TypeTracking(t *testing.T) {
	// The element type is parameterized: a stack can track logical type
	// names instead of concrete felts.
	s := NewOperandStack[string]()
	s.Push("u32")
	s.Push("felt")
	require.Equal(t, "felt", s.Pop())
	require.Equal(t, "u32", s.Peek())
}

func TestFelt_Arithmetic(t *testing.T) {
	require.Equal(t, Felt(5), Felt(2).Add(3))
	require.Equal(t, Felt(Modulus-1), Felt(0).Sub(1))
	require.Equal(t, Felt(0), Felt(Modulus-1).Add(1))
	require.Equal(t, Felt(6), Felt(2).Mul(3))
	require.Equal(t, Felt(1), Felt(7).Mul(Felt(7).Inv()))
	require.Equal(t, Felt(0), Felt(5).Add(Felt(5).Neg()))
	require.Equal(t, Felt(1024), Felt(2).Exp(10))
	require.Panics(t, func() { Felt(0).Inv() })

	// Multiplication of large values reduces correctly: (p-1)^2 = 1.
	pm1 := Felt(Modulus - 1)
	require.Equal(t, Felt(1), pm1.Mul(pm1))
}
