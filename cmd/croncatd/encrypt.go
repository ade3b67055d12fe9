package main

import (
	"fmt"
	"io"
	"os"

	"croncat/internal/infra/config"
)

// runEncrypt prints an "enc:" value for the config file, keyed by
// CRONCAT_CONFIG_KEY.
func runEncrypt(args []string, out io.Writer) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: croncatd encrypt <value>")
	}
	passphrase := os.Getenv("CRONCAT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("CRONCAT_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "enc:%s\n", enc)
	return nil
}
