// Package main provides credctl, a CLI for issuing and verifying
// credentials. It works offline against PEM files, or against the Postgres
// registry when -database-url is given.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const (
	exitOK      = 0
	exitError   = 1
	exitInvalid = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one subcommand and returns the process exit status:
// 0 on success, 1 on usage or runtime errors, 2 when a credential is invalid.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitError
	}

	cli := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	var err error
	switch args[0] {
	case "keygen":
		err = cli.keygen(args[1:])
	case "fingerprint":
		err = cli.fingerprint(args[1:])
	case "issue":
		err = cli.issue(args[1:])
	case "verify":
		return cli.verify(args[1:])
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitError
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `credctl - issue and verify signed credentials

Usage:
  credctl <command> [flags]

Commands:
  keygen        Generate an issuer signing key (PEM)
  fingerprint   Print the canonical fingerprint of a JSON record
  issue         Sign a JSON record and print the encoded payload
  verify        Verify an encoded payload or a record and signature

Examples:
  # Generate an RS256 key pair for an issuer
  credctl keygen -alg RS256 -key-id ptc-2024 -out ptc.pem -pub ptc.pub.pem

  # Fingerprint a record read from stdin
  credctl fingerprint -record - < diploma.json

  # Issue a compact credential
  credctl issue -issuer pretoria-technical-college -key ptc.pem -key-id ptc-2024 -record diploma.json

  # Verify a payload offline against a public key
  credctl verify -issuer pretoria-technical-college -pub ptc.pub.pem -key-id ptc-2024 -payload z... -record diploma.json

  # Verify against the registry database
  credctl verify -database-url postgres://... -payload z...

Settings not given as flags are read from SUMBANDILA_* environment variables.
Use "credctl <command> -h" for more information about a command.`)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
