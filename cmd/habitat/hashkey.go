package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	hbmcp "github.com/Strob0t/Habitat/internal/adapter/mcp"
	"github.com/Strob0t/Habitat/internal/secrets"
)

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash an MCP API key for the secrets file",
		Long: `Reads an API key (prompting without echo on a terminal, otherwise
from the first line of stdin) and prints a secrets file line with its
bcrypt hash.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := readKey(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := hbmcp.HashKey(key)
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %q\n", secrets.KeyMCPAPIKey, hash)
			return nil
		},
	}
}

func readKey(in io.Reader) (string, error) {
	var key string
	if f, ok := in.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(syscall.Stdin)) { //nolint:unconvert // int conversion needed on some platforms
		fmt.Fprint(os.Stderr, "API key: ")
		b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		key = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return "", errors.New("empty key")
	}
	return key, nil
}
