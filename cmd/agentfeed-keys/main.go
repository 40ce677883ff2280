// Command agentfeed-keys generates and inspects signing keypairs in
// the network's standard encodings.
//
// Usage:
//
//	agentfeed-keys generate [-qr out.png]
//	agentfeed-keys inspect <nsec-or-hex> [-qr out.png]
package main

import (
	"flag"
	"fmt"
	"os"

	qrcode "github.com/skip2/go-qrcode"

	"agentfeed/internal/identity"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	// Subcommand flags come after the positional arguments
	sub := flag.NewFlagSet(args[0], flag.ExitOnError)
	qrPath := sub.String("qr", "", "write the npub as a QR code PNG to this path")

	keyring := identity.New()
	var id identity.Identity
	var err error

	switch args[0] {
	case "generate":
		sub.Parse(args[1:])
		id, err = keyring.Generate()
	case "inspect":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "inspect requires a secret key argument")
			os.Exit(2)
		}
		sub.Parse(args[2:])
		id, err = keyring.Import(args[1])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("public key:  %s\n", id.PublicKey)
	fmt.Printf("npub:        %s\n", id.Npub)
	fmt.Printf("private key: %s\n", id.SecretKey)
	fmt.Printf("nsec:        %s\n", id.Nsec)

	if *qrPath != "" {
		if err := qrcode.WriteFile(id.Npub, qrcode.Medium, 256, *qrPath); err != nil {
			fmt.Fprintf(os.Stderr, "error writing QR code: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("npub QR:     %s\n", *qrPath)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  agentfeed-keys generate [-qr out.png]")
	fmt.Fprintln(os.Stderr, "  agentfeed-keys inspect <nsec-or-hex> [-qr out.png]")
}
