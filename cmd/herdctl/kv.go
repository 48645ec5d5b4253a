package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-herd/v1/herd"
)

var (
	kvCmd = &cobra.Command{
		Use:               "kv",
		Short:             "Read and write namespaced values",
		PersistentPreRunE: setup,
	}

	kvSetTTL time.Duration

	kvGetCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Read the value at a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			found, err := client.Get(cmd.Context(), args[0], &out)
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key=%s found=false\n", args[0])
				return nil
			}
			data, err := json.Marshal(out)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s found=true value=%s\n", args[0], data)
			return nil
		},
	}

	kvSetCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Store a value at a key",
		Long:  "Store a value at a key. The value is parsed as JSON when it parses and stored as a plain string otherwise.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []herd.SetOption
			if kvSetTTL > 0 {
				opts = append(opts, herd.WithTTL(kvSetTTL))
			}
			if err := client.Set(cmd.Context(), args[0], parseValue(args[1]), opts...); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	kvDelCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}

	kvTreeCmd = &cobra.Command{
		Use:   "tree [key]",
		Short: "Read a whole subtree as nested JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, found, err := client.GetTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key=%s found=false\n", args[0])
				return nil
			}
			data, err := json.MarshalIndent(root, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
)

func init() {
	kvSetCmd.Flags().DurationVar(&kvSetTTL, "ttl", 0, "Lifetime of the entry (0 keeps it until deleted)")

	kvCmd.AddCommand(kvGetCmd)
	kvCmd.AddCommand(kvSetCmd)
	kvCmd.AddCommand(kvDelCmd)
	kvCmd.AddCommand(kvTreeCmd)
}

// parseValue keeps shell ergonomics: JSON when it parses, string otherwise.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
