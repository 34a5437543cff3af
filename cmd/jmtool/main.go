// jmtool inspects and edits a LevelDB-backed Jellyfish Merkle state tree.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/statetree/common"
	"github.com/colorfulnotion/statetree/jmterrors"
	log "github.com/colorfulnotion/statetree/log"
	"github.com/colorfulnotion/statetree/storage"
	"github.com/colorfulnotion/statetree/trie"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nsf/jsondiff"
	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &CommandConfig{}
	var rootCmd = &cobra.Command{
		Use:   "jmtool",
		Short: "Jellyfish Merkle state tree tool",
		Long: `jmtool reads and writes a versioned Jellyfish Merkle state tree kept in a
LevelDB directory. Keys are 32-byte hex hashes, or arbitrary strings that are
hashed with BLAKE2b-256. Values starting with 0x are decoded as hex.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfg.LogJSON {
				log.InitJSONLogger(cfg.LogLevel)
			} else {
				log.InitLogger(cfg.LogLevel)
			}
			log.EnableModules(cfg.DebugModules)
			log.Debug(log.JMTool, "jmtool", "command", cmd.Name(), "config", cfg.String())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.DataDir, "datadir", "./statetree", "LevelDB directory of the node store")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error, crit)")
	flags.BoolVar(&cfg.LogJSON, "log-json", false, "Log one JSON object per line")
	flags.StringVar(&cfg.DebugModules, "debug", "", "Comma separated debug modules (trie_mod, statetree_mod, storage_mod, jmtool or all)")
	flags.IntVar(&cfg.NodeCacheSize, "node-cache", storage.DefaultNodeCacheSize, "Decoded nodes kept in memory")

	rootCmd.AddCommand(
		newPutCmd(cfg),
		newGetCmd(cfg),
		newProveCmd(cfg),
		newVerifyCmd(),
		newDumpCmd(cfg),
		newDiffCmd(cfg),
		newTreeCmd(cfg),
		newStaleCmd(cfg),
		newPruneCmd(cfg),
		newVersionCmd(),
	)
	return rootCmd
}

// withState opens the store and a state tree at the root named by rootFlag.
func withState(cfg *CommandConfig, rootFlag string, fn func(store *storage.LevelDBNodeStore, state *storage.StateTree) error) error {
	store, err := storage.NewLevelDBNodeStore(cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	root, err := resolveRoot(store, rootFlag)
	if err != nil {
		return err
	}
	return fn(store, storage.NewStateTree(store, &root))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(enc))
	return err
}

func newPutCmd(cfg *CommandConfig) *cobra.Command {
	var (
		rootFlag string
		deletes  []string
	)
	cmd := &cobra.Command{
		Use:   "put [key=value ...]",
		Short: "Commit writes as one new version and record it as head",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(deletes) == 0 {
				return fmt.Errorf("nothing to write")
			}
			return withState(cfg, rootFlag, func(store *storage.LevelDBNodeStore, state *storage.StateTree) error {
				for _, arg := range args {
					key, value, err := parseAssignment(arg)
					if err != nil {
						return err
					}
					state.Put(key, value)
				}
				for _, k := range deletes {
					state.Remove(parseKey(k))
				}

				prev := state.RootHash()
				root, err := state.Commit()
				if err != nil {
					return err
				}
				if err := state.Flush(); err != nil {
					return err
				}
				if err := store.SetHeadRoot(root); err != nil {
					return err
				}
				_, cs, _ := state.LastChangeSets()
				log.Info(log.JMTool, "put", "prev", prev, "root", root, "changes", cs)
				fmt.Fprintf(cmd.OutOrStdout(), "root %s\n%s\n", root.Hex(), cs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "Base root (default: head)")
	cmd.Flags().StringSliceVar(&deletes, "delete", nil, "Keys to remove")
	return cmd
}

func newGetCmd(cfg *CommandConfig) *cobra.Command {
	var rootFlag string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cfg, rootFlag, func(_ *storage.LevelDBNodeStore, state *storage.StateTree) error {
				value, found, err := state.Get(parseKey(args[0]))
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("key %s not found at %s", parseKey(args[0]).Hex(), state.RootHash().Hex())
				}
				fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(value))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "Root to read (default: head)")
	return cmd
}

type proveOutput struct {
	Root     common.Hash             `json:"root"`
	Key      common.Hash             `json:"key"`
	Found    bool                    `json:"found"`
	Value    hexutil.Bytes           `json:"value,omitempty"`
	Proof    *trie.SparseMerkleProof `json:"proof"`
	ProofHex string                  `json:"proof_hex"`
}

func newProveCmd(cfg *CommandConfig) *cobra.Command {
	var rootFlag string
	cmd := &cobra.Command{
		Use:   "prove <key>",
		Short: "Print an inclusion or exclusion proof for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cfg, rootFlag, func(_ *storage.LevelDBNodeStore, state *storage.StateTree) error {
				key := parseKey(args[0])
				value, found, proof, err := state.GetWithProof(key)
				if err != nil {
					return err
				}
				proofHex, err := proof.Hex()
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), &proveOutput{
					Root:     state.RootHash(),
					Key:      key,
					Found:    found,
					Value:    value,
					Proof:    proof,
					ProofHex: proofHex,
				})
			})
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "Root to prove against (default: head)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var rootFlag string
	cmd := &cobra.Command{
		Use:   "verify <key> <proof_hex> [value]",
		Short: "Check a proof offline; without a value it must prove absence",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := parseRoot(rootFlag)
			if err != nil {
				return err
			}
			proof, err := trie.DecodeProofHex(args[1])
			if err != nil {
				return err
			}
			var value []byte
			if len(args) == 3 {
				if value, err = parseValue(args[2]); err != nil {
					return err
				}
			}
			if err := proof.Verify(root, parseKey(args[0]), value); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%sINVALID%s %s\n", common.ColorRed, common.ColorReset, jmterrors.GetErrorCodeWithName(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sOK%s\n", common.ColorGreen, common.ColorReset)
			return nil
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "Trusted root hash")
	cmd.MarkFlagRequired("root")
	return cmd
}

func newDumpCmd(cfg *CommandConfig) *cobra.Command {
	var rootFlag string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every key/value pair of a version as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cfg, rootFlag, func(_ *storage.LevelDBNodeStore, state *storage.StateTree) error {
				dump, err := state.Dump()
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), dumpJSON(dump))
			})
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "Root to dump (default: head)")
	return cmd
}

func newDiffCmd(cfg *CommandConfig) *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "diff <root1> <root2>",
		Short: "Compare the contents of two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewLevelDBNodeStore(cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()

			var docs [2][]byte
			var objs [2]map[string]interface{}
			for i, arg := range args {
				root, err := parseRoot(arg)
				if err != nil {
					return err
				}
				dump, err := storage.NewStateTree(store, &root).Dump()
				if err != nil {
					return fmt.Errorf("dump %s: %w", root.Hex(), err)
				}
				if docs[i], err = json.Marshal(dumpJSON(dump)); err != nil {
					return err
				}
				if err := json.Unmarshal(docs[i], &objs[i]); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()

			if compact {
				opts := jsondiff.DefaultConsoleOptions()
				match, text := jsondiff.Compare(docs[0], docs[1], &opts)
				if match == jsondiff.FullMatch {
					fmt.Fprintln(out, "identical")
					return nil
				}
				fmt.Fprintln(out, text)
				return nil
			}

			delta, err := gojsondiff.New().Compare(docs[0], docs[1])
			if err != nil {
				return err
			}
			if !delta.Modified() {
				fmt.Fprintln(out, "identical")
				return nil
			}
			asciiFmt := formatter.NewAsciiFormatter(objs[0], formatter.AsciiFormatterConfig{Coloring: true})
			text, err := asciiFmt.Format(delta)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Print the compact jsondiff rendering")
	return cmd
}

func newTreeCmd(cfg *CommandConfig) *cobra.Command {
	var rootFlag string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Render the node structure of a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cfg, rootFlag, func(_ *storage.LevelDBNodeStore, state *storage.StateTree) error {
				tree, err := state.ToTree()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), tree.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "Root to render (default: head)")
	return cmd
}

func newStaleCmd(cfg *CommandConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List the stale node index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewLevelDBNodeStore(cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()
			indices, err := store.StaleNodeIndices()
			if err != nil {
				return err
			}
			if indices == nil {
				indices = []trie.StaleNodeIndex{}
			}
			return writeJSON(cmd.OutOrStdout(), indices)
		},
	}
}

func newPruneCmd(cfg *CommandConfig) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the nodes that became stale at a version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseRoot(since)
			if err != nil {
				return err
			}
			store, err := storage.NewLevelDBNodeStore(cfg.StoreConfig())
			if err != nil {
				return err
			}
			defer store.Close()
			pruned, err := store.PruneStaleSince(version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d nodes stale since %s\n", pruned, version.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Root whose commit made the nodes stale")
	cmd.MarkFlagRequired("since")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jmtool %s (%s)\n", common.Version, common.GetCommitHash())
		},
	}
}
