package merkle

import (
	"strconv"
	"testing"

	"github.com/groundx/blocksim/common"
	"github.com/stretchr/testify/require"
)

func leafFor(items []string) LeafHasher {
	return func(i int) string { return common.Sha256Hex([]byte(items[i])) }
}

func TestRootEmpty(t *testing.T) {
	require.Equal(t, common.Sha256Hex(nil), Root(0, nil))
}

func TestRootSingle(t *testing.T) {
	items := []string{"tx0"}
	got := Root(1, leafFor(items))
	require.Equal(t, common.Sha256Hex([]byte("tx0")), got)
}

func TestProofRoundTrip(t *testing.T) {
	for n := 1; n <= 10; n++ {
		items := make([]string, n)
		for i := range items {
			items[i] = "tx" + strconv.Itoa(i)
		}
		lf := leafFor(items)
		root := Root(n, lf)
		for i := 0; i < n; i++ {
			proof := Proof(n, lf, i)
			require.True(t, Verify(lf(i), proof, root), "n=%d i=%d", n, i)
		}
	}
}

func TestProofLengthSevenLeaves(t *testing.T) {
	items := make([]string, 7)
	for i := range items {
		items[i] = "tx" + strconv.Itoa(i)
	}
	lf := leafFor(items)
	proof := Proof(7, lf, 3)
	require.Len(t, proof, 3)
	root := Root(7, lf)
	require.True(t, Verify(lf(3), proof, root))
}

func TestProofTamperedFails(t *testing.T) {
	items := make([]string, 7)
	for i := range items {
		items[i] = "tx" + strconv.Itoa(i)
	}
	lf := leafFor(items)
	root := Root(7, lf)
	proof := Proof(7, lf, 3)
	tampered := make([]ProofStep, len(proof))
	copy(tampered, proof)
	tampered[0].Sibling = common.Sha256Hex([]byte("tampered"))
	require.False(t, Verify(lf(3), tampered, root))
}
