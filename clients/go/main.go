// sucli - command line client for the sequencer
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/sequencer/clients/go/su"
	"github.com/eldtechnologies/sequencer/internal/models"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	URL    string
	Wallet string
	client *su.Client
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sucli",
		Short:         "Command line client for the sequencer",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.client = su.NewClient(opts.URL)
			if opts.Wallet != "" {
				opts.client.WalletPath = opts.Wallet
				_ = opts.client.LoadWallet()
			}
		},
	}

	defaultURL := os.Getenv("SU_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", defaultURL, "sequencer URL (env SU_URL)")
	cmd.PersistentFlags().StringVar(&opts.Wallet, "wallet", "", "wallet file (env SU_WALLET, default ~/.su/wallet.json)")

	cmd.AddCommand(
		newKeygenCommand(opts),
		newSpawnCommand(opts),
		newSendCommand(opts),
		newReadCommand(opts),
		newGetCommand(opts),
		newProcessCommand(opts),
		newTimestampCommand(opts),
		newRecoverCommand(opts),
		newHealthCommand(opts),
	)
	return cmd
}

func newKeygenCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create a new wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := opts.client.GenerateWallet()
			if err != nil {
				return err
			}
			fmt.Printf("Wallet: %s\nPublic key: %s\n", opts.client.WalletPath, pub)
			return nil
		},
	}
}

func newSpawnCommand(opts *rootOptions) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "spawn [data]",
		Short: "Create a process (data from argument or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(args)
			if err != nil {
				return err
			}
			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			id, r, err := opts.client.Spawn(data, parsed...)
			if err != nil {
				return describe(err)
			}
			return printJSON(map[string]interface{}{"process_id": id, "receipt": r})
		},
	}
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "tag as name=value (repeatable)")
	return cmd
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "send <process_id> [data]",
		Short: "Send a message to a process (data from argument or stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readData(args[1:])
			if err != nil {
				return err
			}
			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			id, r, err := opts.client.Send(args[0], data, parsed...)
			if err != nil {
				return describe(err)
			}
			return printJSON(map[string]interface{}{"message_id": id, "receipt": r})
		},
	}
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "tag as name=value (repeatable)")
	return cmd
}

func newReadCommand(opts *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "read <process_id>",
		Short: "List the messages of a process in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := opts.client.Messages(args[0], from, to)
			if err != nil {
				return describe(err)
			}
			for _, m := range msgs {
				fmt.Printf("%s  %s  %s\n", m.SequenceKey, m.ID, m.BlockHeight)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first sequence key (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last sequence key (inclusive)")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <message_id>",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.client.Message(args[0])
			if err != nil {
				return describe(err)
			}
			return printJSON(m)
		},
	}
}

func newProcessCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <process_id>",
		Short: "Show one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client.Process(args[0])
			if err != nil {
				return describe(err)
			}
			return printJSON(p)
		},
	}
}

func newTimestampCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timestamp",
		Short: "Show the sequencer time and ledger height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.client.Timestamp()
			if err != nil {
				return describe(err)
			}
			return printJSON(s)
		},
	}
}

func newRecoverCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <bundle_id>",
		Short: "Index a bundle that reached the ledger but not the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client.Recover(args[0])
			if err != nil {
				return describe(err)
			}
			return printJSON(res)
		},
	}
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client.Health()
			if err != nil {
				return describe(err)
			}
			return printJSON(resp)
		},
	}
}

func readData(args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(args[0]), nil
	}
	return io.ReadAll(os.Stdin)
}

func parseTags(raw []string) ([]models.Tag, error) {
	tags := make([]models.Tag, 0, len(raw))
	for _, t := range raw {
		name, value, ok := strings.Cut(t, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("tag must be name=value, got %q", t)
		}
		tags = append(tags, models.Tag{Name: name, Value: value})
	}
	return tags, nil
}

// describe points at recovery when a write reached the ledger only.
func describe(err error) error {
	if apiErr, ok := err.(*su.APIError); ok && apiErr.Receipt != nil {
		return fmt.Errorf("%w\nbundle %s is on the ledger; run: sucli recover %s", err, apiErr.Receipt.ID, apiErr.Receipt.ID)
	}
	return err
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
