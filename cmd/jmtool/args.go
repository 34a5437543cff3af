package main

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/storage"
	"github.com/colorfulnotion/statetree/trie"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// parseKey accepts a 32-byte hex hash as is and hashes anything else.
func parseKey(s string) common.Hash {
	if common.IsHexHash(s) {
		return common.HexToHash(s)
	}
	return common.Blake2Hash([]byte(s))
}

// parseValue decodes 0x-prefixed hex and takes anything else literally.
func parseValue(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		v, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, err)
		}
		return v, nil
	}
	return []byte(s), nil
}

func parseAssignment(arg string) (common.Hash, []byte, error) {
	k, v, ok := strings.Cut(arg, "=")
	if !ok || k == "" {
		return common.Hash{}, nil, fmt.Errorf("expected key=value, got %q", arg)
	}
	value, err := parseValue(v)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return parseKey(k), value, nil
}

func parseRoot(s string) (common.Hash, error) {
	if !common.IsHexHash(s) {
		return common.Hash{}, fmt.Errorf("invalid root %q", s)
	}
	return common.HexToHash(s), nil
}

// resolveRoot picks the root named by flag, else the recorded head, else the
// empty tree.
func resolveRoot(store *storage.LevelDBNodeStore, flag string) (common.Hash, error) {
	if flag != "" {
		return parseRoot(flag)
	}
	head, ok, err := store.HeadRoot()
	if err != nil {
		return common.Hash{}, err
	}
	if !ok {
		return trie.SparseMerklePlaceholderHash, nil
	}
	return head, nil
}

// dumpJSON keys a dump by hex key so it diffs and prints predictably.
func dumpJSON(dump map[common.Hash][]byte) map[string]string {
	out := make(map[string]string, len(dump))
	for k, v := range dump {
		out[k.Hex()] = hexutil.Encode(v)
	}
	return out
}
