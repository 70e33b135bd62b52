package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-relay/pkg/crypto"
	"github.com/ZentaChain/zentalk-relay/pkg/network"
)

func probeCmd(a *app) *cobra.Command {
	var (
		endpoint string
		keyPath  string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to a relay and authenticate",
		Long: `Dial a relay, run the handshake and report the result. Without --key an
ephemeral identity is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if endpoint == "" {
				return errors.New("--endpoint is required")
			}

			var (
				kp  *crypto.KeyPair
				err error
			)
			if keyPath != "" {
				kp, err = crypto.LoadKeyPair(keyPath)
			} else {
				kp, err = crypto.GenerateKeyPairBits(crypto.MinKeyBits)
			}
			if err != nil {
				return err
			}

			client, err := network.NewClient(network.ClientConfig{
				Keys:              kp,
				Dialer:            network.EndpointDialer(endpoint),
				RetryPolicy:       network.RetryConstantInterval(250 * time.Millisecond),
				KeepaliveInterval: -1,
				HandshakeTimeout:  timeout,
				Logger:            a.log,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("probe of %s failed: %w", endpoint, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Authenticated to %s as %s in %s\n",
				endpoint, client.PeerID(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "relay endpoint: host:port, tcp://, ws:// or wss://")
	cmd.Flags().StringVar(&keyPath, "key", "", "identity key to authenticate with")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall probe timeout")
	return cmd
}
