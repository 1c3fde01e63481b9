package cmd

import (
	"fmt"

	"wecomgw/pkg/channel/wecom"
	"wecomgw/pkg/config"

	"github.com/spf13/cobra"
)

var (
	verifyTimestamp string
	verifyNonce     string
	verifyEchostr   string
	verifySig       string
	verifyAccount   string
)

// verifyCmd recomputes a callback signature locally, which is the quickest
// way to debug a failing URL verification against the configured token.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Debug a callback signature",
	Long:  "Recomputes the callback signature for the given parameters using the configured token and, when the signature matches, decrypts the echo string.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		acct := cfg.Channels.Wecom.Account(verifyAccount)
		if acct.Token == "" {
			fmt.Println("no token configured for this account")
			return
		}

		expected := wecom.Signature(acct.Token, verifyTimestamp, verifyNonce, verifyEchostr)
		fmt.Printf("expected signature: %s\n", expected)

		if verifySig != "" {
			if wecom.VerifySignature(acct.Token, verifyTimestamp, verifyNonce, verifyEchostr, verifySig) {
				fmt.Println("signature: match")
			} else {
				fmt.Println("signature: MISMATCH")
				return
			}
		}

		if acct.EncodingAESKey == "" || acct.CorpID == "" {
			return
		}

		plaintext, err := wecom.Decrypt(acct.EncodingAESKey, verifyEchostr, acct.CorpID)
		if err != nil {
			fmt.Printf("decrypt failed: %v\n", err)
			return
		}
		fmt.Printf("decrypted: %s\n", plaintext)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyTimestamp, "timestamp", "", "timestamp query parameter")
	verifyCmd.Flags().StringVar(&verifyNonce, "nonce", "", "nonce query parameter")
	verifyCmd.Flags().StringVar(&verifyEchostr, "echostr", "", "echostr or Encrypt payload")
	verifyCmd.Flags().StringVar(&verifySig, "signature", "", "msg_signature to check against")
	verifyCmd.Flags().StringVar(&verifyAccount, "account", config.DefaultAccountID, "account id")
}
