// Package cli provides command-line interface commands for scancache.
// This file implements API key generation. Keys are configured on the
// daemon as bcrypt hashes, so the commands print a configuration snippet
// instead of storing anything.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/scancache/internal/auth"
	"github.com/anstrom/scancache/internal/config"
)

var (
	apiKeyName     string
	apiKeyReadOnly bool
	apiKeyOutput   string
)

// apiKeysCmd represents the apikeys command group
var apiKeysCmd = &cobra.Command{
	Use:     "apikeys",
	Aliases: []string{"apikey", "keys"},
	Short:   "Generate API keys for the daemon",
	Long: `Generate API keys for client authentication with the scancache daemon.

The daemon only stores bcrypt hashes of its keys under api.api_keys. The
generate command prints the new key once together with the configuration
entry to add. Read-only keys may only use GET endpoints.

To use CLI commands against an authenticated daemon, set SCANCACHE_API_KEY
to one of the generated keys.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// apiKeysGenerateCmd creates a new API key
var apiKeysGenerateCmd = &cobra.Command{
	Use:     "generate",
	Aliases: []string{"create", "new"},
	Short:   "Generate a new API key",
	Example: `  scancache apikeys generate --name dashboard --read-only
  scancache apikeys generate --name admin --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return executeGenerateAPIKey(cmd.OutOrStdout())
	},
}

// apiKeysHashCmd hashes an existing key read from stdin
var apiKeysHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash an existing API key read from stdin",
	Long: `Read an API key from stdin and print the configuration entry for it.
Use this to rotate the bcrypt hash or to register a key generated elsewhere.`,
	Example: `  echo "$SCANCACHE_API_KEY" | scancache apikeys hash --name cli`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return executeHashAPIKey(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(apiKeysCmd)
	apiKeysCmd.AddCommand(apiKeysGenerateCmd)
	apiKeysCmd.AddCommand(apiKeysHashCmd)

	for _, c := range []*cobra.Command{apiKeysGenerateCmd, apiKeysHashCmd} {
		c.Flags().StringVar(&apiKeyName, "name", "", "name of the key owner (required)")
		c.Flags().BoolVar(&apiKeyReadOnly, "read-only", false, "restrict the key to GET endpoints")
		_ = c.MarkFlagRequired("name")
	}
	apiKeysGenerateCmd.Flags().StringVarP(&apiKeyOutput, "output", "o", "text", "output format: text or json")
}

func executeGenerateAPIKey(w io.Writer) error {
	generated, err := auth.GenerateAPIKey(apiKeyName, apiKeyReadOnly)
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}

	switch apiKeyOutput {
	case outputJSON:
		return writeJSONOutput(w, generated)
	case "text":
	default:
		return fmt.Errorf("invalid --output %q: expected text or json", apiKeyOutput)
	}

	fmt.Fprintln(w, headingColor("API Key Generated"))
	fmt.Fprintf(w, "Name:      %s\n", generated.KeyInfo.Name)
	fmt.Fprintf(w, "Prefix:    %s\n", generated.KeyInfo.KeyPrefix)
	fmt.Fprintf(w, "Read-only: %t\n", generated.KeyInfo.ReadOnly)
	fmt.Fprintf(w, "Key:       %s\n", generated.Key)
	fmt.Fprintln(w)
	fmt.Fprintln(w, fairColor("Save this key now - it will not be shown again!"))
	fmt.Fprintln(w)
	if err := printKeyConfig(w, generated.KeyInfo.Name, generated.Hash, generated.KeyInfo.ReadOnly); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "To use this key with CLI commands:")
	fmt.Fprintf(w, "  export %s_API_KEY=%s\n", envPrefix, generated.Key)
	return nil
}

func executeHashAPIKey(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	key := strings.TrimSpace(line)
	if !auth.IsValidAPIKeyFormat(key) {
		return fmt.Errorf("input is not a valid API key")
	}

	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}
	return printKeyConfig(w, apiKeyName, hash, apiKeyReadOnly)
}

// printKeyConfig prints the api.api_keys entry for a key.
func printKeyConfig(w io.Writer, name, hash string, readOnly bool) error {
	fmt.Fprintln(w, "Add to the api.api_keys section of the daemon configuration:")
	data, err := yaml.Marshal([]config.APIKeyConfig{{Name: name, Hash: hash, ReadOnly: readOnly}})
	if err != nil {
		return fmt.Errorf("failed to encode key configuration: %w", err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}
