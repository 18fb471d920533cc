// Command keygatectl is an admin CLI client for the keygate service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `keygatectl
Usage:
  keygatectl -addr URL [-token TOKEN] <cmd> [args]

The admin token may also come from the KEYGATE_ADMIN_TOKEN environment variable.

Commands:
  version
  create            -hours <1..8760>
  whitelist-add     -email <addr>
  whitelist-remove  -email <addr>
  stats
  cleanup
  authorize         -email <addr> [-key <code>]     (smoke test, no token needed)
`)
	os.Exit(2)
}

// client performs JSON requests against the admin API.
type client struct {
	base  string
	token string
	hc    *http.Client
}

// do issues one request and decodes the JSON response body.
func (c *client) do(ctx context.Context, method, path string, body any) (map[string]any, int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.base, "/")+path, rd)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Admin-Token", c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func die(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// main dispatches subcommands against the REST API.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("KEYGATE_ADMIN_TOKEN"), "admin token")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := &client{base: *addr, token: *token, hc: &http.Client{Timeout: 30 * time.Second}}

	switch cmd {

	case "version":
		fmt.Printf("keygatectl %s (%s)\n", version, buildDate)

	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		hours := fs.Int("hours", 24, "key lifetime in hours")
		_ = fs.Parse(flag.Args()[1:])
		out, code, err := c.do(ctx, http.MethodPost, "/admin/create", map[string]any{"duration_hours": *hours})
		report(out, code, err)

	case "whitelist-add":
		fs := flag.NewFlagSet("whitelist-add", flag.ExitOnError)
		email := fs.String("email", "", "email to allow")
		_ = fs.Parse(flag.Args()[1:])
		if *email == "" {
			usage()
		}
		out, code, err := c.do(ctx, http.MethodPost, "/admin/whitelist/add", map[string]any{"email": *email})
		report(out, code, err)

	case "whitelist-remove":
		fs := flag.NewFlagSet("whitelist-remove", flag.ExitOnError)
		email := fs.String("email", "", "email to disallow")
		_ = fs.Parse(flag.Args()[1:])
		if *email == "" {
			usage()
		}
		out, code, err := c.do(ctx, http.MethodPost, "/admin/whitelist/remove", map[string]any{"email": *email})
		report(out, code, err)

	case "stats":
		out, code, err := c.do(ctx, http.MethodGet, "/admin/stats", nil)
		report(out, code, err)

	case "cleanup":
		out, code, err := c.do(ctx, http.MethodPost, "/admin/cleanup", nil)
		report(out, code, err)

	case "authorize":
		fs := flag.NewFlagSet("authorize", flag.ExitOnError)
		email := fs.String("email", "", "client email")
		key := fs.String("key", "", "license key (optional)")
		_ = fs.Parse(flag.Args()[1:])
		if *email == "" {
			usage()
		}
		body := map[string]any{"email": *email}
		if *key != "" {
			body["key"] = *key
		}
		out, code, err := c.do(ctx, http.MethodPost, "/api/authorize", body)
		report(out, code, err)

	default:
		usage()
	}
}

// report prints the server's JSON and exits non-zero on a non-2xx status.
func report(out map[string]any, status int, err error) {
	if err != nil {
		die(err)
	}
	printJSON(out)
	if status < 200 || status >= 300 {
		os.Exit(1)
	}
}
