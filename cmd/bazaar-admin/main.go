// Command bazaar-admin is the operator CLI for token management:
// issuing tokens, revoking presented tokens, and inspecting the
// revocation registry.
//
// Usage:
//
//	bazaar-admin issue -scope plugin -subject install-3 -resource markdown-tools
//	bazaar-admin revoke -token <raw token>
//	bazaar-admin unrevoke -token <raw token>
//	bazaar-admin list
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/plugbazaar/bazaar/pkg/config"
	"github.com/plugbazaar/bazaar/pkg/revocation"
	"github.com/plugbazaar/bazaar/pkg/token"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "issue":
		err = runIssue(os.Args[2:])
	case "revoke":
		err = runRevoke(os.Args[2:])
	case "unrevoke":
		err = runUnrevoke(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bazaar-admin: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bazaar-admin <issue|revoke|unrevoke|list> [flags]")
}

func newCodec() (*token.Codec, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return token.NewCodec(
		cfg.Auth.AccountSecret, cfg.Auth.APISecret, cfg.Auth.PluginSecret)
}

func newRegistry() (*revocation.Registry, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := revocation.NewClient(
		cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB,
		cfg.Redis.PoolSize, cfg.Redis.MaxRetries)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return revocation.NewRegistry(client), func() { client.Close() }, nil
}

func runIssue(args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	scopeName := fs.String("scope", "", "Token scope: account, api, or plugin")
	subject := fs.String("subject", "", "Principal the token identifies")
	resource := fs.String("resource", "", "Plugin the token is bound to (plugin scope only)")
	fs.Parse(args)

	scope := token.Scope(*scopeName)
	if !scope.Valid() {
		return fmt.Errorf("unknown scope %q", *scopeName)
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	codec, err := newCodec()
	if err != nil {
		return err
	}
	raw, err := codec.Encode(scope, *subject, *resource)
	if err != nil {
		return err
	}
	fmt.Println(raw)
	return nil
}

func runRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	raw := fs.String("token", "", "Raw token to revoke")
	fs.Parse(args)

	if *raw == "" {
		return fmt.Errorf("-token is required")
	}

	registry, closeFn, err := newRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash := token.HashToken(*raw)
	if err := registry.Revoke(ctx, hash); err != nil {
		return err
	}
	fmt.Printf("revoked %s\n", hash)
	return nil
}

func runUnrevoke(args []string) error {
	fs := flag.NewFlagSet("unrevoke", flag.ExitOnError)
	raw := fs.String("token", "", "Raw token to reinstate")
	fs.Parse(args)

	if *raw == "" {
		return fmt.Errorf("-token is required")
	}

	registry, closeFn, err := newRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash := token.HashToken(*raw)
	if err := registry.Unrevoke(ctx, hash); err != nil {
		return err
	}
	fmt.Printf("reinstated %s\n", hash)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	registry, closeFn, err := newRegistry()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := registry.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\n", e.TokenHash, e.RevokedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(os.Stderr, "%d revoked tokens\n", len(entries))
	return nil
}
