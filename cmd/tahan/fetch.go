package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/tahan"
)

type fetchOptions struct {
	method     string
	data       string
	headers    []string
	auth       bool
	idempotent string
	noCache    bool
	include    bool
}

func newFetchCommand(a *app) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Execute a request and print the response body",
		Example: `  tahan fetch https://api.example.com/items
  tahan fetch --auth -X POST --idempotent=no -d @order.json https://api.example.com/orders`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.method, "method", "X", http.MethodGet, "HTTP method")
	flags.StringVarP(&opts.data, "data", "d", "", "request body, or @file to read it from a file")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, `request header as "Name: value" (repeatable)`)
	flags.BoolVar(&opts.auth, "auth", false, "authenticate with the stored session")
	flags.StringVar(&opts.idempotent, "idempotent", "", "yes or no; required for POST, PUT, PATCH and DELETE")
	flags.BoolVar(&opts.noCache, "no-cache", false, "bypass the response cache")
	flags.BoolVarP(&opts.include, "include", "i", false, "print the status line and headers")
	return cmd
}

func (a *app) fetch(cmd *cobra.Command, url string, opts fetchOptions) error {
	ctx := cmd.Context()

	req := tahan.NewRequest(strings.ToUpper(opts.method), url)
	req.RequiresAuth = opts.auth
	req.CacheBypass = opts.noCache

	switch strings.ToLower(opts.idempotent) {
	case "":
	case "yes", "true":
		req.Idempotency = tahan.Idempotent
	case "no", "false":
		req.Idempotency = tahan.NotIdempotent
	default:
		return fmt.Errorf("invalid --idempotent value %q", opts.idempotent)
	}

	for _, h := range opts.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		req = req.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	if opts.data != "" {
		body, err := readBody(opts.data, cmd.InOrStdin())
		if err != nil {
			return err
		}
		req = req.WithBody(body)
	}

	options := append(a.cfg.Options(), tahan.WithLogger(a.logger))
	if opts.auth {
		manager, err := a.tokenManager(ctx)
		if err != nil {
			return err
		}
		options = append(options, tahan.WithAuthorizer(manager))
	}

	client := tahan.New(options...)
	resp, err := client.Execute(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.include {
		fmt.Fprintf(out, "%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
		for name, values := range resp.Header {
			for _, v := range values {
				fmt.Fprintf(out, "%s: %s\n", name, v)
			}
		}
		fmt.Fprintln(out)
	}
	_, err = out.Write(resp.Body)
	return err
}

// readBody resolves -d: "@-" reads stdin, "@path" reads a file and anything
// else is the body itself.
func readBody(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "@-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		body, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return body, nil
	default:
		return []byte(data), nil
	}
}
