package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wippyai/ffb-runtime/errors"
	"github.com/wippyai/ffb-runtime/native"
	"github.com/wippyai/ffb-runtime/signature"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("out")
		identity, _ := cmd.Flags().GetString("identity")
		s, err := signature.GenerateKey(identity)
		if err != nil {
			return err
		}
		defer s.Destroy()
		if err := s.Save(out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key:         %s\nfingerprint: %s\npublic:      %s\n",
			out, s.Fingerprint(), base64.StdEncoding.EncodeToString(s.PublicKey()))
		return nil
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "Sign a plugin or profile and write its .sig sidecar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		kind, _ := cmd.Flags().GetString("type")
		comment, _ := cmd.Flags().GetString("comment")
		s, err := signature.LoadSigner(keyPath)
		if err != nil {
			return err
		}
		defer s.Destroy()
		m, err := s.SignFile(args[0], signature.ContentType(kind), comment)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed %s by %s (%s)\n", args[0], m.Signer, m.KeyFingerprint)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a file's signature against a trust store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		policy, _ := cmd.Flags().GetString("policy")
		cfg, err := native.PolicyByName(policy)
		if err != nil {
			return err
		}
		res, err := signature.NewVerifier(store, cfg.RequireSignatures, cfg.AllowUnsigned).Verify(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "signed:   %t\nverified: %t\ntrust:    %s\n", res.Signed, res.Verified, res.TrustLevel)
		if res.Metadata != nil {
			fmt.Fprintf(w, "signer:   %s\n", res.Metadata.Signer)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "warning:  %s\n", warn)
		}
		return nil
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage the signing key trust store",
}

var trustAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a key from a key file or a base64 public key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		pub, identity, err := publicKeyFromFlags(cmd)
		if err != nil {
			return err
		}
		levelName, _ := cmd.Flags().GetString("level")
		level, err := signature.ParseTrustLevel(levelName)
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		fp, err := store.Add(pub, identity, level, reason)
		if err != nil {
			return err
		}
		if err := store.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s as %s\n", fp, level)
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove <fingerprint>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		ok, err := store.Remove(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(errors.PhaseVerify, "key", args[0])
		}
		return store.Save()
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FINGERPRINT\tIDENTITY\tLEVEL\tADDED")
		for _, e := range store.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Fingerprint, e.Identifier, e.Level, e.AddedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	},
}

func init() {
	keygenCmd.Flags().StringP("out", "o", "signing.key", "Where to write the key")
	keygenCmd.Flags().String("identity", "", "Signer name stored with the key")

	signCmd.Flags().StringP("key", "k", "signing.key", "Signing key")
	signCmd.Flags().String("type", string(signature.ContentPlugin), "Content type: plugin, profile or firmware")
	signCmd.Flags().String("comment", "", "Comment stored in the sidecar")

	for _, c := range []*cobra.Command{verifyCmd, trustCmd} {
		c.PersistentFlags().StringP("trust", "t", "trust.json", "Trust store file")
	}
	verifyCmd.Flags().String("policy", "strict", "strict, permissive or development")

	trustAddCmd.Flags().StringP("key", "k", "", "Key file to take the public key from")
	trustAddCmd.Flags().String("pub", "", "Base64 Ed25519 public key")
	trustAddCmd.Flags().String("identity", "", "Name for the key; defaults to the key file identity")
	trustAddCmd.Flags().String("level", "trusted", "trusted, unknown or distrusted")
	trustAddCmd.Flags().String("reason", "", "Why the key was added")
	trustCmd.AddCommand(trustAddCmd, trustRemoveCmd, trustListCmd)
}

func openStore(cmd *cobra.Command) (*signature.TrustStore, error) {
	path, _ := cmd.Flags().GetString("trust")
	return signature.OpenTrustStore(path)
}

func publicKeyFromFlags(cmd *cobra.Command) (ed25519.PublicKey, string, error) {
	keyPath, _ := cmd.Flags().GetString("key")
	encoded, _ := cmd.Flags().GetString("pub")
	identity, _ := cmd.Flags().GetString("identity")
	switch {
	case keyPath != "":
		s, err := signature.LoadSigner(keyPath)
		if err != nil {
			return nil, "", err
		}
		defer s.Destroy()
		if identity == "" {
			identity = s.Identity()
		}
		return append(ed25519.PublicKey(nil), s.PublicKey()...), identity, nil
	case encoded != "":
		pub, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", errors.Wrap(errors.PhaseVerify, errors.KindInvalidInput, err, "decode public key")
		}
		return pub, identity, nil
	}
	return nil, "", errors.InvalidInput(errors.PhaseVerify, "one of --key or --pub is required")
}
