package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/handler"
	"github.com/l3aro/go-cfg-engine/pkg/store"
)

// cacheCmd groups the graph store commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "List or remove graphs in the graph store",
	Long: `The graph store keeps every graph built by "jcfg build" in the binary graph
format, keyed by method signature (e.g. "demo.A.max(II)I"). Its location and
backend come from the cache_dir and store_backend settings.`,
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored graphs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(conf, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		lister, ok := st.(store.Lister)
		if !ok {
			return fmt.Errorf("store backend %s cannot list its entries", conf.StoreBackend)
		}
		entries, err := lister.List()
		if err != nil {
			return err
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}
		var total int64
		for _, e := range entries {
			written := ""
			if !e.Written.IsZero() {
				written = humanize.Time(e.Written)
			}
			fmt.Printf("%-60s %10s  %s\n", e.Signature, humanize.Bytes(uint64(e.Size)), written)
			total += e.Size
		}
		fmt.Printf("\n%d graphs, %s\n", len(entries), humanize.Bytes(uint64(total)))
		return nil
	},
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm <signature>...",
	Short: "Remove stored graphs",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("name the signatures to remove, or pass --all")
		}
		conf, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(conf, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		var sigs []bytecode.MethodSignature
		if all {
			lister, ok := st.(store.Lister)
			if !ok {
				return fmt.Errorf("store backend %s cannot list its entries", conf.StoreBackend)
			}
			entries, err := lister.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				sig, err := bytecode.ParseSignature(e.Signature)
				if err != nil {
					logger.Warn("skipping unparseable entry", "entry", e.Signature, "error", err)
					continue
				}
				sigs = append(sigs, sig)
			}
		} else {
			for _, arg := range args {
				sig, err := bytecode.ParseSignature(arg)
				if err != nil {
					return err
				}
				sigs = append(sigs, sig)
			}
		}

		removed := 0
		for _, sig := range sigs {
			if err := st.Delete(sig); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					fmt.Fprintf(os.Stderr, "not stored: %s\n", sig)
					continue
				}
				return err
			}
			removed++
		}
		fmt.Printf("removed %d graphs\n", removed)
		return nil
	},
}

var cacheDotCmd = &cobra.Command{
	Use:   "dot <signature>",
	Short: "Print a stored graph as Graphviz dot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := bytecode.ParseSignature(args[0])
		if err != nil {
			return err
		}
		conf, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(conf, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		g, err := st.Read(sig)
		if err != nil {
			return err
		}
		return handler.WriteDot(os.Stdout, g)
	},
}

func init() {
	cacheLsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	cacheRmCmd.Flags().Bool("all", false, "Remove every stored graph")

	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheRmCmd)
	cacheCmd.AddCommand(cacheDotCmd)
}
