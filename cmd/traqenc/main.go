// traqenc encrypts a credential for use in the config file. The output
// carries the "enc:" prefix and decrypts at load time with secret.passphrase.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"codetraq/internal/secret"
)

func main() {
	var passphrase string
	flag.StringVar(&passphrase, "passphrase", "", "passphrase (defaults to $TRAQ_PASSPHRASE)")
	flag.Parse()

	if passphrase == "" {
		passphrase = os.Getenv("TRAQ_PASSPHRASE")
	}
	if passphrase == "" {
		fmt.Fprintln(os.Stderr, "error: no passphrase (use -passphrase or $TRAQ_PASSPHRASE)")
		os.Exit(2)
	}

	plaintext := strings.Join(flag.Args(), " ")
	if plaintext == "" {
		// read from stdin so the value stays out of shell history
		sc := bufio.NewScanner(os.Stdin)
		if sc.Scan() {
			plaintext = sc.Text()
		}
	}
	if plaintext == "" {
		fmt.Fprintln(os.Stderr, "usage: traqenc [-passphrase P] <value>  (or pipe the value on stdin)")
		os.Exit(2)
	}

	enc, err := secret.Encrypt(passphrase, plaintext)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(enc)
}
