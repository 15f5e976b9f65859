package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/eldtechnologies/sequencer/internal/crypto"
)

func main() {
	out := flag.String("out", "wallet.json", "Path of the wallet file to create")
	flag.Parse()

	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists; refusing to overwrite\n", *out)
		os.Exit(1)
	}

	wf, err := crypto.GenerateWalletFile(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate wallet: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wallet written to %s\n", *out)
	fmt.Printf("Public key (base64): %s\n", wf.PublicKey)
}
