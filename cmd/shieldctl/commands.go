package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"idshield/internal/shield/bitcodec"
	"idshield/internal/shield/cipher"
	"idshield/internal/shield/wiretoken"
)

const passphraseEnv = "SHIELD_ENVELOPE_PASSPHRASE"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shieldctl",
		Short:         "Build and inspect identity shield tokens and envelopes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newEncodeCmd(),
		newDecodeCmd(),
		newTokenCmd(),
		newParseCmd(),
		newSealCmd(),
		newOpenCmd(),
		newSubmitCmd(),
	)
	return root
}

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode TEXT",
		Short: "Encode text as space-separated 8-bit groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), bitcodec.Encode(args[0]))
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode BITS",
		Short: "Decode 8-bit groups back to text; malformed groups are dropped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, dropped := bitcodec.DecodeStats(args[0])
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if dropped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "dropped %d malformed group(s)\n", dropped)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "token --field name=value [--field name=value ...]",
		Short: "Build a wire token from named fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseFieldFlags(fields)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), wiretoken.Build(parsed))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "field as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func parseFieldFlags(flags []string) ([]wiretoken.Field, error) {
	out := make([]wiretoken.Field, 0, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --field %q: want name=value", f)
		}
		out = append(out, wiretoken.Field{Name: strings.TrimSpace(name), Value: value})
	}
	return out, nil
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [TOKEN|-]",
		Short: "Parse a wire token and print decoded fields as name=value",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			fields, dropped := wiretoken.ParseStats(token)
			names := make([]string, 0, len(fields))
			for name := range fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, bitcodec.Decode(fields[name]))
			}
			if dropped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "dropped %d segment(s) without a tag\n", dropped)
			}
			return nil
		},
	}
}

type cipherFlags struct {
	passphrase string
	iterations int
	legacy     bool
}

func (f *cipherFlags) register(cmd *cobra.Command, legacyHelp string) {
	cmd.Flags().StringVarP(&f.passphrase, "passphrase", "p", "", "envelope passphrase (default $"+passphraseEnv+")")
	cmd.Flags().IntVar(&f.iterations, "iterations", cipher.DefaultIterations, "PBKDF2 iterations")
	cmd.Flags().BoolVar(&f.legacy, "legacy", false, legacyHelp)
}

func (f *cipherFlags) resolvePassphrase() (string, error) {
	if f.passphrase != "" {
		return f.passphrase, nil
	}
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("a passphrase is required: use --passphrase or $%s", passphraseEnv)
}

func newSealCmd() *cobra.Command {
	var flags cipherFlags
	cmd := &cobra.Command{
		Use:   "seal [TOKEN|-]",
		Short: "Seal a token into a JSON envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := flags.resolvePassphrase()
			if err != nil {
				return err
			}
			plaintext, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			opts := []cipher.Option{cipher.WithIterations(flags.iterations)}
			if flags.legacy {
				opts = append(opts, cipher.WithLegacy(true), cipher.WithAlgorithm(cipher.AlgoLegacyXOR))
			}
			c, err := cipher.New(opts...)
			if err != nil {
				return err
			}
			env, err := c.Seal(cmd.Context(), []byte(plaintext), pass)
			if err != nil {
				return fmt.Errorf("seal: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(env)
		},
	}
	flags.register(cmd, "seal with the legacy XOR construction (not confidential)")
	return cmd
}

func newOpenCmd() *cobra.Command {
	var flags cipherFlags
	cmd := &cobra.Command{
		Use:   "open [ENVELOPE_JSON|-]",
		Short: "Verify and open a JSON envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := flags.resolvePassphrase()
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			env, err := cipher.ParseEnvelope([]byte(raw))
			if err != nil {
				return err
			}
			c, err := cipher.New(cipher.WithIterations(flags.iterations), cipher.WithLegacy(flags.legacy))
			if err != nil {
				return err
			}
			plaintext, err := c.Open(cmd.Context(), env, pass)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(plaintext))
			return nil
		},
	}
	flags.register(cmd, "accept legacy XOR envelopes")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var (
		url         string
		fingerprint string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit --fingerprint HASH [ENVELOPE_JSON|-]",
		Short: "Post a submission to a running server and print the response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"fingerprint": fingerprint}
			if len(args) > 0 {
				raw, err := readInput(cmd, args)
				if err != nil {
					return err
				}
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("envelope is not valid JSON")
				}
				body["envelope"] = json.RawMessage(raw)
			}
			payload, err := json.Marshal(body)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(url, "/")+"/shield/submit", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:4002", "server base URL")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "identity hash")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("fingerprint")
	return cmd
}

// readInput returns the single argument, or stdin when it is "-" or absent.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
