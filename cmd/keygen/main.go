// keygen prints a fresh age identity for CREDENTIAL_KEY, or checks that an
// existing one can seal and open a token.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"buildrelay.app/relay/common/sealed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var outPath string
	var verify bool

	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.StringVarP(&outPath, "out", "o", "", "write the identity to this file (mode 0600) instead of stdout")
	flagSet.BoolVar(&verify, "verify", false, "check the CREDENTIAL_KEY in the environment instead of generating one")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if verify {
		return verifyKey(os.Getenv("CREDENTIAL_KEY"))
	}

	identity, recipient, err := sealed.GenerateKey()
	if err != nil {
		return err
	}

	if outPath == "" {
		fmt.Printf("CREDENTIAL_KEY=%s\n", identity)
		fmt.Fprintf(os.Stderr, "# recipient: %s\n", recipient)
		return nil
	}

	if err := os.WriteFile(outPath, []byte(identity+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	fmt.Fprintf(os.Stderr, "wrote identity to %s (recipient %s)\n", outPath, recipient)
	return nil
}

func verifyKey(identity string) error {
	if identity == "" {
		return errors.New("CREDENTIAL_KEY is not set")
	}
	s, err := sealed.New(identity)
	if err != nil {
		return err
	}
	ciphertext, err := s.Encrypt("keygen-check")
	if err != nil {
		return err
	}
	plaintext, err := s.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if plaintext != "keygen-check" {
		return errors.New("round trip returned different plaintext")
	}
	fmt.Println("CREDENTIAL_KEY ok")
	return nil
}
