package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

func genkeyCmd(a *app) *cobra.Command {
	var (
		out   string
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate an RSA identity key pair",
		Long: `Generate an RSA identity and write it as PEM. The private key goes to
--out and the public key to --out with a .pub suffix. The peer ID printed
is the address other peers send envelopes to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = a.cfg.KeyPath
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", out)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			kp, err := crypto.GenerateKeyPairBits(bits)
			if err != nil {
				return err
			}
			if err := crypto.SaveKeyPair(out, kp); err != nil {
				return fmt.Errorf("failed to save key pair: %w", err)
			}
			id, err := protocol.PeerIDFromPublicKey(kp.Public)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Private key saved to %s\n", out)
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Public key saved to %s.pub\n", out)
			fmt.Fprintf(cmd.OutOrStdout(), "Peer ID: %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "private key path (default: key_path from config)")
	cmd.Flags().IntVar(&bits, "bits", crypto.DefaultKeyBits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")
	return cmd
}
