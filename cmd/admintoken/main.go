// Command admintoken mints bearer tokens for the administrative API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/interntrack/attendance/internal/auth"
	"github.com/interntrack/attendance/internal/config"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cfg := config.Load()
	return &cli.App{
		Name:  "admintoken",
		Usage: "Mint an admin JWT for the attendance API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "subject",
				Aliases: []string{"s"},
				Usage:   "Token subject (operator name)",
				Value:   "admin",
			},
			&cli.StringFlag{
				Name:    "issuer",
				Usage:   "JWT issuer",
				Value:   cfg.JWTIssuer,
				EnvVars: []string{"JWT_ISSUER"},
			},
			&cli.StringFlag{
				Name:    "key",
				Usage:   "HS256 signing key",
				Value:   cfg.JWTSigningKey,
				EnvVars: []string{"JWT_SIGNING_KEY"},
			},
			&cli.DurationFlag{
				Name:    "ttl",
				Usage:   "Token lifetime",
				Value:   cfg.AdminTokenTTL,
				EnvVars: []string{"ADMIN_TOKEN_TTL"},
			},
			&cli.BoolFlag{
				Name:  "with-expiry",
				Usage: "Print the expiry time after the token",
			},
		},
		Action: mint,
	}
}

func mint(c *cli.Context) error {
	token, exp, err := auth.Issue(c.String("subject"), auth.RoleAdmin, c.String("issuer"), c.String("key"), c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(c.App.Writer, token)
	if c.Bool("with-expiry") {
		fmt.Fprintln(c.App.Writer, exp.Format(time.RFC3339))
	}
	return nil
}
