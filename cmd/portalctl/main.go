// portalctl signs in to the portal from a terminal and keeps the session in
// a local file, so later commands reuse the access token and refresh cookie.
//
//	portalctl login --email alice@example.com
//	portalctl me
//	portalctl refresh
//	portalctl logout
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/iliyamo/custom-gpt-portal/pkg/apiclient"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			fmt.Fprintln(os.Stderr, "session expired: run `portalctl login` again")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".portalctl-session.json"
	}
	return filepath.Join(dir, "portalctl", "session.json")
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var (
		baseURL     string
		sessionPath string
		email       string
	)
	fs := pflag.NewFlagSet("portalctl", pflag.ContinueOnError)
	fs.StringVar(&baseURL, "server", envOr("PORTAL_URL", "http://localhost:8080"), "portal API base URL")
	fs.StringVar(&sessionPath, "session", defaultSessionPath(), "session file")
	fs.StringVarP(&email, "email", "e", "", "account email (login)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: portalctl [flags] login|me|refresh|logout")
	}

	store := apiclient.NewFallbackStore(apiclient.NewFileStore(sessionPath), apiclient.NewMemoryStore())
	c, err := apiclient.New(baseURL, apiclient.WithStore(store))
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch cmd := fs.Arg(0); cmd {
	case "login":
		if email == "" {
			return errors.New("--email is required")
		}
		password := os.Getenv("PORTAL_PASSWORD")
		if password == "" {
			fmt.Fprint(stdout, "password: ")
			line, err := bufio.NewReader(stdin).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			password = strings.TrimRight(line, "\r\n")
		}
		u, err := c.Login(ctx, email, password)
		if err != nil {
			return err
		}
		return printJSON(stdout, u)
	case "me":
		u, err := c.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, u)
	case "refresh":
		if _, err := c.Refresh(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "access token refreshed")
		return nil
	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "logged out")
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
