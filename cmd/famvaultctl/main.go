package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"famvault.org/internal/access"
	"famvault.org/internal/auth"
	"famvault.org/internal/client"
	"famvault.org/internal/docs"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

var (
	baseURL string
	token   string
	timeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "famvaultctl",
	Short:         "Family document vault client",
	SilenceUsage:  true,
}

// newClient builds a client from the persistent flags.
func newClient() (*client.Client, error) {
	if token == "" {
		return nil, errors.New("no token: pass --token or set FAMVAULT_TOKEN")
	}
	return client.New(baseURL, client.WithToken(token))
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return client.WithTimeout(cmd.Context(), timeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ifMatchFlag reads --if-match. A zero token means "read first".
func ifMatchFlag(cmd *cobra.Command) (version.Token, error) {
	raw, _ := cmd.Flags().GetString("if-match")
	return version.Parse(raw)
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token with FAMVAULT_AUTH_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roleRaw, _ := cmd.Flags().GetString("role")
		family, _ := cmd.Flags().GetString("family")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		role, err := access.ParseRole(roleRaw)
		if err != nil {
			return err
		}
		tok, err := auth.GenerateToken(access.Actor{ID: args[0], Role: role, FamilyID: family}, ttl)
		if err != nil {
			return fmt.Errorf("minting token: %w", err)
		}
		fmt.Println(tok)
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		u, _, err := c.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(u)
	},
}

// doc command
var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage documents",
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		items, err := c.ListDocuments(ctx)
		if err != nil {
			return err
		}
		for _, d := range items {
			fmt.Printf("%s\t%s\t%s\t%s\n", d.ID, d.EffectivePermission, d.Version, d.Title)
		}
		return nil
	},
}

var docGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		d, err := c.GetDocument(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

var docRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ifMatch, err := ifMatchFlag(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		patch := docs.DocumentPatch{Title: &args[1]}
		var d docs.DocumentView
		if ifMatch.IsZero() {
			s := client.NewSession(c)
			if _, err := s.OpenDocument(ctx, args[0]); err != nil {
				return err
			}
			d, err = s.UpdateDocument(ctx, args[0], patch)
		} else {
			d, err = c.UpdateDocument(ctx, args[0], patch, ifMatch)
		}
		if err != nil {
			return explain(err)
		}
		fmt.Printf("renamed %s, version %s\n", d.ID, d.Version)
		return nil
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ifMatch, err := ifMatchFlag(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if ifMatch.IsZero() {
			s := client.NewSession(c)
			if _, err := s.OpenDocument(ctx, args[0]); err != nil {
				return err
			}
			err = s.DeleteDocument(ctx, args[0])
		} else {
			err = c.DeleteDocument(ctx, args[0], ifMatch)
		}
		if err != nil {
			return explain(err)
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

// share command
var shareCmd = &cobra.Command{
	Use:   "share <document-id> <user-id>=<level>...",
	Short: "Grant access to several users at once",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		items := make([]sharing.Item, 0, len(args)-1)
		for _, arg := range args[1:] {
			user, level, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected user=level, got %q", arg)
			}
			items = append(items, sharing.Item{UserID: user, AccessLevel: level})
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		res, err := c.ShareBulk(ctx, args[0], items)
		if err != nil {
			return err
		}
		for _, g := range res.Created {
			fmt.Printf("created\t%s\t%s\n", g.UserID, g.AccessLevel)
		}
		for _, g := range res.Updated {
			fmt.Printf("updated\t%s\t%s\n", g.UserID, g.AccessLevel)
		}
		for _, r := range res.Rejected {
			fmt.Printf("rejected\t%s\t%s\t%s\n", r.UserID, r.Reason, r.Message)
		}
		if res.Failed() {
			return errors.New("no grants were applied")
		}
		return nil
	},
}

var grantsCmd = &cobra.Command{
	Use:   "grants <document-id>",
	Short: "List a document's active grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		grants, err := c.ListGrants(ctx, args[0])
		if err != nil {
			return err
		}
		for _, g := range grants {
			fmt.Printf("%s\t%s\t%s\n", g.UserID, g.AccessLevel, g.Version)
		}
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <document-id> <user-id>",
	Short: "Revoke a user's grant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ifMatch, err := ifMatchFlag(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := c.RevokeGrant(ctx, args[0], args[1], ifMatch); err != nil {
			return explain(err)
		}
		fmt.Printf("revoked %s on %s\n", args[1], args[0])
		return nil
	},
}

// explain adds the recovery hint for stale writes.
func explain(err error) error {
	var mismatch *version.MismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("%w (current version %s, re-read and retry)", err, mismatch.Current)
	}
	var verr *docs.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("%w: %v", err, verr.Issues)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", envOr("FAMVAULT_API_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("FAMVAULT_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")

	tokenCmd.Flags().String("role", string(access.RoleMember), "Role: member, family_admin or super_admin")
	tokenCmd.Flags().String("family", "", "Family ID")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")

	for _, c := range []*cobra.Command{docRenameCmd, docDeleteCmd, revokeCmd} {
		c.Flags().String("if-match", "", "Version to require; without it the current version is read first")
	}

	docCmd.AddCommand(docListCmd, docGetCmd, docRenameCmd, docDeleteCmd)
	rootCmd.AddCommand(tokenCmd, meCmd, docCmd, shareCmd, grantsCmd, revokeCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
