package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/at2-node/at2/internal/config"
	"github.com/at2-node/at2/internal/rpc"
	"github.com/at2-node/at2/internal/service"
	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/helpers"
)

// clientSession bundles what every transacting/querying subcommand needs:
// the account signing key and a dialed RPC connection to the configured node.
type clientSession struct {
	cfg  *config.ClientConfig
	priv ed25519.PrivateKey
	self wire.AccountID
	rc   *rpc.Client
}

func openSession(configPath string) (*clientSession, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}
	seed, err := hex.DecodeString(cfg.SignKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("client config sign_key: want %d-byte hex seed", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var self wire.AccountID
	copy(self[:], priv.Public().(ed25519.PublicKey))

	rc, err := rpc.Dial(cfg.RPCAddress)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCAddress, err)
	}
	return &clientSession{cfg: cfg, priv: priv, self: self, rc: rc}, nil
}

func (s *clientSession) Close() { s.rc.Close() }

func newSendAssetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send-asset <sequence> <recipient> <amount>",
		Short: "sign and submit a transfer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("sequence: %w", err)
			}
			recipientBytes, err := helpers.HexToBytes(args[1])
			if err != nil || len(recipientBytes) != len(wire.AccountID{}) {
				return fmt.Errorf("recipient: want %d-byte hex account id", len(wire.AccountID{}))
			}
			var recipient wire.AccountID
			copy(recipient[:], recipientBytes)
			amount, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}

			sess, err := openSession(*configPath)
			if err != nil {
				return err
			}
			defer sess.Close()

			payload, err := wire.Sign(sess.priv, wire.Sequence(seq), wire.Transaction{Recipient: recipient, Amount: amount})
			if err != nil {
				return fmt.Errorf("sign transaction: %w", err)
			}

			params := service.SendAssetParams{
				Sender:    payload.Sender,
				Sequence:  payload.Sequence,
				Recipient: payload.Tx.Recipient,
				Amount:    payload.Tx.Amount,
				Signature: "0x" + hex.EncodeToString(payload.Signature[:]),
			}
			if err := sess.rc.Call("SendAsset", params, nil); err != nil {
				return fmt.Errorf("send-asset: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newGetBalanceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-balance",
		Short: "print this account's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(*configPath)
			if err != nil {
				return err
			}
			defer sess.Close()

			var result service.BalanceResult
			if err := sess.rc.Call("GetBalance", service.AccountParams{Sender: sess.self}, &result); err != nil {
				return fmt.Errorf("get-balance: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Amount)
			return nil
		},
	}
}

func newGetLastSequenceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-last-sequence",
		Short: "print this account's last consumed sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(*configPath)
			if err != nil {
				return err
			}
			defer sess.Close()

			var result service.SequenceResult
			if err := sess.rc.Call("GetLastSequence", service.AccountParams{Sender: sess.self}, &result); err != nil {
				return fmt.Errorf("get-last-sequence: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Sequence)
			return nil
		},
	}
}

func newGetLatestTransactionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-latest-transactions",
		Short: "print the node's recent transaction log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(*configPath)
			if err != nil {
				return err
			}
			defer sess.Close()

			var result []wire.FullTransaction
			if err := sess.rc.Call("GetLatestTransactions", nil, &result); err != nil {
				return fmt.Errorf("get-latest-transactions: %w", err)
			}
			for _, tx := range result {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s seq=%d -> %s amount=%d state=%s\n",
					tx.Timestamp.Format("2006-01-02T15:04:05Z07:00"), tx.Sender.String(), tx.SenderSequence,
					tx.Recipient.String(), tx.Amount, tx.State)
			}
			return nil
		},
	}
}
