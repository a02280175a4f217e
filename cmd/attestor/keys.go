package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"Attestor/client"
	"Attestor/internal/config"
	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/relay"
	"Attestor/internal/signature"
	"Attestor/internal/verifier"
)

// newKeygenCmd writes a fresh secp256k1 signer key.
func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signer key and print its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := signature.GenerateKey()
			if err != nil {
				return err
			}

			if out != "" {
				if err := os.WriteFile(out, []byte(signature.EncodePrivateKey(key)+"\n"), 0600); err != nil {
					return fmt.Errorf("write key:\n%w", err)
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "private:", signature.EncodePrivateKey(key))
			}

			fmt.Fprintln(cmd.OutOrStdout(), signature.PublicKeyOf(key))

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "private key file, printed when empty")

	return cmd
}

// newVerifierSetCmd prints the root of a verifier set file.
func newVerifierSetCmd(flags *rootFlags) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "verifier-set <file>",
		Short: "Print the Merkle root of a verifier set file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := flags.loadSet(args[0], domain)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, set.Root())
			fmt.Fprintf(w, "signers=%d quorum=%s nonce=%d\n", set.Len(), set.Quorum(), set.Nonce())

			return nil
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "domain separator hex, defaults to the config's")

	return cmd
}

// newSignCmd signs a payload root with a key file.
func newSignCmd(flags *rootFlags) *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "sign <payload-root>",
		Short: "Sign a payload root and print the 65-byte signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := flags.hashFunction()
			if err != nil {
				return err
			}

			sig, _, err := signPayload(h, keyPath, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), sig)

			return nil
		},
	}

	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "private key file")
	cmd.MarkFlagRequired("key")

	return cmd
}

// newSubmitCmd signs a payload root and submits it to a node.
func newSubmitCmd(flags *rootFlags) *cobra.Command {
	var opts struct {
		key     string
		set     string
		domain  string
		relay   string
		http    string
		timeout time.Duration
	}

	cmd := &cobra.Command{
		Use:   "submit <payload-root>",
		Short: "Sign a payload root and submit it over the relay or HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.relay == "") == (opts.http == "") {
				return fmt.Errorf("exactly one of --relay or --http is required")
			}

			h, err := flags.hashFunction()
			if err != nil {
				return err
			}

			set, err := flags.loadSet(opts.set, opts.domain)
			if err != nil {
				return err
			}

			sig, pub, err := signPayload(h, opts.key, args[0])
			if err != nil {
				return err
			}

			pos := set.Position(pub)
			if pos < 0 {
				return fmt.Errorf("key %s is not in the verifier set", pub)
			}

			info, err := set.SigningInfo(pos, sig)
			if err != nil {
				return err
			}

			payloadRoot, _ := hasher.Parse(args[0])

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			state, err := submit(ctx, opts.relay, opts.http, payloadRoot, set.Root(), info)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "position=%d state=%s\n", pos, state)

			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.key, "key", "k", "", "private key file")
	cmd.Flags().StringVarP(&opts.set, "set", "s", "", "verifier set file")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "domain separator hex, defaults to the config's")
	cmd.Flags().StringVar(&opts.relay, "relay", "", "QUIC relay address")
	cmd.Flags().StringVar(&opts.http, "http", "", "HTTP API address")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("set")

	return cmd
}

// submit opens the session if needed and sends the signature.
func submit(ctx context.Context, relayAddr, httpAddr string, payloadRoot, setRoot hasher.Hash, info verifier.SigningInfo) (string, error) {
	if relayAddr != "" {
		c, err := relay.Dial(ctx, relayAddr, nil)
		if err != nil {
			return "", err
		}
		defer c.Close()

		if _, err := c.OpenSession(ctx, payloadRoot, setRoot); err != nil {
			return "", fmt.Errorf("open session:\n%w", err)
		}

		state, err := c.SubmitSignature(ctx, payloadRoot, setRoot, info)
		if err != nil {
			return "", err
		}

		return state.State, nil
	}

	c := client.NewClient(httpAddr)

	if _, err := c.OpenSession(ctx, payloadRoot, setRoot); err != nil {
		return "", fmt.Errorf("open session:\n%w", err)
	}

	resp, err := c.SubmitSignature(ctx, payloadRoot, setRoot, info)
	if err != nil {
		return "", err
	}

	return resp.State, nil
}

// newRotationPayloadCmd prints the payload root a committee signs to rotate.
func newRotationPayloadCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rotation-payload <new-root> <signing-root>",
		Short: "Print the payload root that authorizes a verifier set rotation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := flags.hashFunction()
			if err != nil {
				return err
			}

			newRoot, err := hasher.Parse(args[0])
			if err != nil {
				return fmt.Errorf("new root:\n%w", err)
			}

			signingRoot, err := hasher.Parse(args[1])
			if err != nil {
				return fmt.Errorf("signing root:\n%w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), message.RotationPayloadHash(h, newRoot, signingRoot))

			return nil
		},
	}
}

// loadSet builds the verifier set in path under the domain separator.
func (f *rootFlags) loadSet(path, domain string) (*verifier.Set, error) {
	h, err := f.hashFunction()
	if err != nil {
		return nil, err
	}

	ds, err := f.domainSeparator(domain)
	if err != nil {
		return nil, err
	}

	return config.LoadVerifierSet(path, h, ds)
}

// signPayload signs the hex payload root with the key in keyPath.
func signPayload(h hasher.Function, keyPath, payload string) (signature.Signature, signature.PublicKey, error) {
	root, err := hasher.Parse(payload)
	if err != nil {
		return signature.Signature{}, signature.PublicKey{}, fmt.Errorf("payload root:\n%w", err)
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return signature.Signature{}, signature.PublicKey{}, fmt.Errorf("read key:\n%w", err)
	}

	key, err := signature.ParsePrivateKey(strings.TrimSpace(string(data)))
	if err != nil {
		return signature.Signature{}, signature.PublicKey{}, err
	}

	sig := signature.Sign(key, signature.PrefixedHash(h, root))

	return sig, signature.PublicKeyOf(key), nil
}
