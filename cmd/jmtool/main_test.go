package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	"github.com/colorfulnotion/statetree/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--datadir", dir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	require.NoError(t, err, "jmtool %v", args)
	return out
}

func putRoot(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out := mustRun(t, dir, append([]string{"put"}, args...)...)
	fields := strings.Fields(strings.SplitN(out, "\n", 2)[0])
	require.Len(t, fields, 2)
	require.Equal(t, "root", fields[0])
	return fields[1]
}

func TestParseArgs(t *testing.T) {
	h := common.RandomHash()
	assert.Equal(t, h, parseKey(h.Hex()))
	assert.Equal(t, common.Blake2Hash([]byte("alice")), parseKey("alice"))

	key, value, err := parseAssignment("alice=0x0102")
	require.NoError(t, err)
	assert.Equal(t, parseKey("alice"), key)
	assert.Equal(t, []byte{1, 2}, value)

	_, value, err = parseAssignment("bob=a=b")
	require.NoError(t, err)
	assert.Equal(t, []byte("a=b"), value)

	_, _, err = parseAssignment("novalue")
	assert.Error(t, err)
	_, _, err = parseAssignment("k=0xzz")
	assert.Error(t, err)
	_, err = parseRoot("0x1234")
	assert.Error(t, err)
}

func TestJMToolSession(t *testing.T) {
	dir := t.TempDir()

	root1 := putRoot(t, dir, "alice=1", "bob=0x02")
	assert.Equal(t, "0x31\n", mustRun(t, dir, "get", "alice"))
	assert.Equal(t, "0x02\n", mustRun(t, dir, "get", "bob"))
	_, err := run(t, dir, "get", "carol")
	assert.Error(t, err)

	var proved proveOutput
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "prove", "alice")), &proved))
	assert.Equal(t, root1, proved.Root.Hex())
	assert.True(t, proved.Found)
	assert.Equal(t, []byte("1"), []byte(proved.Value))
	assert.Contains(t, mustRun(t, dir, "verify", "--root", root1, "alice", proved.ProofHex, "1"), "OK")
	_, err = run(t, dir, "verify", "--root", root1, "alice", proved.ProofHex, "2")
	assert.ErrorIs(t, err, jmterrors.ErrInvalidProof)

	root2 := putRoot(t, dir, "--delete", "bob")
	assert.NotEqual(t, root1, root2)
	_, err = run(t, dir, "get", "bob")
	assert.Error(t, err)
	assert.Equal(t, "0x02\n", mustRun(t, dir, "get", "--root", root1, "bob"))

	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "prove", "bob")), &proved))
	assert.False(t, proved.Found)
	assert.Contains(t, mustRun(t, dir, "verify", "--root", root2, "bob", proved.ProofHex), "OK")

	var dump map[string]string
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "dump")), &dump))
	assert.Equal(t, map[string]string{parseKey("alice").Hex(): "0x31"}, dump)
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "dump", "--root", root1)), &dump))
	assert.Len(t, dump, 2)

	assert.Equal(t, "identical\n", mustRun(t, dir, "diff", root1, root1))
	assert.Contains(t, mustRun(t, dir, "diff", root1, root2), parseKey("bob").Hex())
	assert.Equal(t, "identical\n", mustRun(t, dir, "diff", "--compact", root2, root2))
	assert.Contains(t, mustRun(t, dir, "diff", "--compact", root1, root2), parseKey("bob").Hex())

	assert.Contains(t, mustRun(t, dir, "tree"), "leaf")

	var stale []trie.StaleNodeIndex
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, dir, "stale")), &stale))
	require.NotEmpty(t, stale)
	sinceRoot2 := 0
	for _, idx := range stale {
		if idx.StaleSinceVersion.Hex() == root2 {
			sinceRoot2++
		}
	}
	require.NotZero(t, sinceRoot2)

	assert.Contains(t, mustRun(t, dir, "prune", "--since", root2), "pruned")
	_, err = run(t, dir, "dump", "--root", root1)
	assert.ErrorIs(t, err, jmterrors.ErrMissingNode)
	assert.Equal(t, "0x31\n", mustRun(t, dir, "get", "alice"))
}

func TestJMToolVersion(t *testing.T) {
	assert.Contains(t, mustRun(t, t.TempDir(), "version"), common.Version)
}
