package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eldtechnologies/sequencer/internal/bundle"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/models"
)

type tagFlags []models.Tag

func (t *tagFlags) String() string { return fmt.Sprint(*t) }

func (t *tagFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("tag must be name=value, got %q", v)
	}
	*t = append(*t, models.Tag{Name: name, Value: value})
	return nil
}

func main() {
	walletPath := flag.String("wallet", "", "Wallet file produced by genkey")
	typ := flag.String("type", bundle.TypeMessage, "Item type: Message or Process")
	target := flag.String("target", "", "Target process id (messages only)")
	anchor := flag.String("anchor", "", "Optional anchor")
	bodyFile := flag.String("body", "", "File containing the item data (or use stdin)")
	var tags tagFlags
	flag.Var(&tags, "tag", "Extra tag as name=value (repeatable)")
	flag.Parse()

	if *walletPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -wallet <wallet.json> [-type Message|Process] [-target <process-id>] [-tag name=value] [-body <file>]")
		fmt.Fprintln(os.Stderr, "  Reads data from stdin if -body not specified")
		os.Exit(1)
	}

	wallet, err := crypto.LoadFileWallet(*walletPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid wallet: %v\n", err)
		os.Exit(1)
	}

	// Read data
	var data []byte
	if *bodyFile != "" {
		data, err = os.ReadFile(*bodyFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read data: %v\n", err)
		os.Exit(1)
	}

	item := &bundle.DataItem{
		Target: *target,
		Anchor: *anchor,
		Tags:   append([]models.Tag{{Name: bundle.TypeTag, Value: *typ}}, tags...),
		Data:   data,
	}
	if err := item.Sign(crypto.NewEd25519Signer(wallet)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(item); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode: %v\n", err)
		os.Exit(1)
	}
}
