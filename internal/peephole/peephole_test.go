package peephole

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAndRunMovSelfElim(t *testing.T) {
	rules := "" +
		"mov %0, %0\n" +
		"=\n" +
		"\n" +
		"====\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"mov r4, r4", "add r1, r2"})
	require.Equal(t, []string{"add r1, r2"}, out)
}

func TestLoadZeroImmediateBecomesMove(t *testing.T) {
	rules := "" +
		"ldi %0, 0\n" +
		"=\n" +
		"mov %0, r0\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"ldi r4, 0", "ldi r5, 7"})
	require.Equal(t, []string{"mov r4, r0", "ldi r5, 7"}, out)
}

func TestTwoLineWindowStoreLoadSameReg(t *testing.T) {
	rules := "" +
		"stw %0, %1, %2\n" +
		"ldw %0, %1, %2\n" +
		"=\n" +
		"stw %0, %1, %2\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"stw r6, r7, 8", "ldw r6, r7, 8"})
	require.Equal(t, []string{"stw r6, r7, 8"}, out)
}

func TestFreshLabelMinting(t *testing.T) {
	rules := "" +
		"br %0\n" +
		"=\n" +
		"brinv %L\n" +
		"jmp %L\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"br skip"})
	require.Len(t, out, 2)
	require.Equal(t, out[0][len(out[0])-2:], out[1][len(out[1])-2:], "both lines should reference the same minted label")
}

func TestEvalArithmetic(t *testing.T) {
	rules := "" +
		"ldi %0, %1\n" +
		"%check 0 <= %1 <= 9\n" +
		"=\n" +
		"ldi %0, %eval(%1 2 *)\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"ldi r1, 5"})
	require.Equal(t, []string{"ldi r1, 10"}, out)
}

func TestCheckRangeGuardsFiring(t *testing.T) {
	rules := "" +
		"ldi %0, %1\n" +
		"%check 0 <= %1 <= 63\n" +
		"=\n" +
		"ldis %0, %1\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"ldi r1, 5", "ldi r1, 500"})
	require.Equal(t, []string{"ldis r1, 5", "ldi r1, 500"}, out)
}

func TestOnceFiresOnlyOnceForSameBinding(t *testing.T) {
	rules := "" +
		"nop %0\n" +
		"=\n" +
		"%once\n" +
		"mark %0\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	// Two separate windows with identical bindings: %once keys on the
	// captured wildcard signature, so only the first converts.
	out := rs.Run([]string{"nop r1", "nop r1"})
	require.Equal(t, []string{"mark r1", "nop r1"}, out)
}

func TestBoundedPassesTerminate(t *testing.T) {
	// A rule that keeps matching its own output must still terminate
	// within MaxPasses rather than looping forever.
	rules := "" +
		"inc %0\n" +
		"=\n" +
		"inc %0\n"
	rs, err := Load(rules)
	require.NoError(t, err)

	out := rs.Run([]string{"inc r1"})
	require.Equal(t, []string{"inc r1"}, out)
}
