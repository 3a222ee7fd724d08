// Package main is the entrypoint for the opcatalog command line client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/morezero/opcatalog/internal/config"
	"github.com/morezero/opcatalog/internal/server"
	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/operation"
)

const usage = `Usage: opcatalog [command]
       opcatalog list <catalog>[:path]          List the operations of a catalog path.
       opcatalog info <endpoint>                Show the parameters an operation declares.
       opcatalog exec [flags] <endpoint>        Invoke an operation and print its result.
       opcatalog endpoints [catalog]            List the known endpoints.
       opcatalog bridge                         Serve operations to COMMS requesters.

Commands:
  list       Read a catalog listing, e.g. "services" or "services:clients/cegid".
  info       Read operation documentation. Prints {} for addresses that are not operations.
  exec       Invoke an operation. Flags:
               -params JSON   positional parameters (array, default [])
               -kv JSON       named parameters (object, default {})
               -lax           do not fail on a non-empty errs in the result
               -file PATH     attach a file (repeatable)
               -download      save the reply body under OPCATALOG_DOWNLOAD_DIR
  endpoints  Print the endpoint table (embedded, merged with OPCATALOG_ENDPOINTS_FILE).
  bridge     Answer execute/info/list requests on OPCATALOG_BRIDGE_SUBJECT (default
             opcatalog.invoke) until interrupted. Requires COMMS_URL.

An <endpoint> is a known endpoint ("services.clients.cegid.get"), an alias,
"<catalog>:<path>" ("web:clients/get") or an address under a catalog root.

Environment: OPCATALOG_ORIGIN (default http://127.0.0.1:5000), OPCATALOG_REQUEST_TIMEOUT,
OPCATALOG_DOWNLOAD_DIR, OPCATALOG_CACHE_TTL, REDIS_URL, COMMS_URL, OPCATALOG_BRIDGE_SUBJECT,
METRICS_ADDR, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "help", "-h", "--help", "":
		fmt.Print(usage)
		return
	case "list", "info", "exec", "endpoints", "bridge":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("opcatalog: load config: %v", err)
	}
	server.SetupLogging(cfg)

	s, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatalf("opcatalog: %v", err)
	}
	s.StartHTTP()

	err = run(ctx, s, cfg, cmd, args, os.Stdout)
	s.Close(context.Background())
	if err != nil {
		log.Fatalf("opcatalog %s: %s", cmd, describe(err))
	}
}

func run(ctx context.Context, s *server.Server, cfg *config.Config, cmd string, args []string, w io.Writer) error {
	switch cmd {
	case "list":
		return runList(ctx, s, args, w)
	case "info":
		return runInfo(ctx, s, args, w)
	case "exec":
		return runExec(ctx, s, cfg, args, w)
	case "endpoints":
		return runEndpoints(s, args, w)
	case "bridge":
		return s.ServeBridge(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// describe renders client failures with their discriminator.
func describe(err error) string {
	if e, ok := apierr.As(err); ok {
		return fmt.Sprintf("[%s] %s", e.Name, err)
	}
	return err.Error()
}

func runList(ctx context.Context, s *server.Server, args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("require exactly one <catalog>[:path] argument")
	}
	u, err := s.CatalogURL(args[0])
	if err != nil {
		return err
	}
	listing, err := s.Lister().ListOperations(ctx, u)
	if err != nil {
		return err
	}
	if listing == nil {
		return apierr.API("%s is not an operation catalog", u)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDESCRIPTION")
	for _, op := range listing.Operations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", op.Name, op.Type, op.Desc)
	}
	return tw.Flush()
}

func runInfo(ctx context.Context, s *server.Server, args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("require exactly one <endpoint> argument")
	}
	c, err := s.Client(args[0])
	if err != nil {
		return err
	}
	info, err := c.Info(ctx)
	if err != nil {
		return err
	}
	return writeJSON(w, info)
}

type fileList []string

func (f *fileList) String() string {
	return strings.Join(*f, ",")
}

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

type execArgs struct {
	ref          string
	parameters   any
	parameterskv any
	strict       bool
	files        []string
	download     bool
}

func parseExecArgs(args []string) (*execArgs, error) {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	params := fs.String("params", "", "positional parameters as a JSON array")
	kv := fs.String("kv", "", "named parameters as a JSON object")
	lax := fs.Bool("lax", false, "do not fail on result errs")
	download := fs.Bool("download", false, "save the reply body")
	var files fileList
	fs.Var(&files, "file", "file to attach (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, errors.New("require exactly one <endpoint> argument")
	}

	out := &execArgs{ref: fs.Arg(0), strict: !*lax, files: files, download: *download}
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &out.parameters); err != nil {
			return nil, fmt.Errorf("-params is not valid JSON: %w", err)
		}
	}
	if *kv != "" {
		if err := json.Unmarshal([]byte(*kv), &out.parameterskv); err != nil {
			return nil, fmt.Errorf("-kv is not valid JSON: %w", err)
		}
	}
	return out, nil
}

func readFiles(paths []string) ([]operation.File, error) {
	files := make([]operation.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, operation.File{
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Data:        data,
		})
	}
	return files, nil
}

func runExec(ctx context.Context, s *server.Server, cfg *config.Config, args []string, w io.Writer) error {
	ea, err := parseExecArgs(args)
	if err != nil {
		return err
	}
	c, err := s.Client(ea.ref)
	if err != nil {
		return err
	}
	if len(ea.files) > 0 {
		files, err := readFiles(ea.files)
		if err != nil {
			return err
		}
		c.AddFiles(files...)
	}

	resp, err := c.Execute(ctx, ea.parameters, ea.parameterskv, ea.strict)
	if err != nil {
		return err
	}

	if ea.download {
		name, err := resp.Download(operation.DirSaver{Dir: cfg.DownloadDir})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, filepath.Join(cfg.DownloadDir, filepath.Base(name)))
		return nil
	}

	result, err := resp.Result()
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func runEndpoints(s *server.Server, args []string, w io.Writer) error {
	set := s.Endpoints()
	catalogs := set.Catalogs()
	if len(args) > 0 {
		catalogs = args
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tPATH\tRETURNS")
	for _, catalog := range catalogs {
		for _, key := range set.Keys(catalog) {
			ep, _ := set.Get(catalog, key)
			fmt.Fprintf(tw, "%s.%s\t%s\t%s\n", catalog, key, ep.Path, ep.Returns)
		}
	}
	for _, alias := range set.Aliases() {
		catalog, ep, _ := set.Lookup(alias)
		fmt.Fprintf(tw, "%s\t%s:%s\t(alias)\n", alias, catalog, ep.Path)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
