package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goldlens/internal/config"
	"goldlens/internal/logger"
	"goldlens/pkg/api"
	"goldlens/pkg/model"
)

const usage = `usage: goldlens [-config file] <command> [args]

commands:
  annotate [-url u] [-in file] [-out file]   annotate one HTML document
  rate [-refresh] [-history n]               show the current gold price per gram
  toggle on|off                              enable or disable conversion
  format metric|troy                         set the display format
  exclude list|add|remove [pattern]          manage excluded URL patterns
  targets                                    list browser pages
  proxy [-target id]                         rewrite documents in a running browser
`

// main 命令行入口
func main() {
	configPath := flag.String("config", "", "path to goldlens yaml config")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := api.NewService(cfg, l)
	if err != nil {
		l.Err(err, "初始化服务失败")
		os.Exit(1)
	}
	code := 0
	if err := run(ctx, svc, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	if err := svc.Close(); err != nil {
		l.Warn("关闭服务失败", "error", err.Error())
	}
	os.Exit(code)
}

func run(ctx context.Context, svc api.Service, cmd string, args []string) error {
	switch cmd {
	case "annotate":
		return annotate(ctx, svc, args)
	case "rate":
		return showRate(ctx, svc, args)
	case "toggle":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("toggle: expected on or off")
		}
		return svc.SetEnabled(ctx, args[0] == "on")
	case "format":
		if len(args) != 1 {
			return fmt.Errorf("format: expected metric or troy")
		}
		return svc.SetDisplayFormat(ctx, model.DisplayFormat(args[0]))
	case "exclude":
		return exclude(ctx, svc, args)
	case "targets":
		targets, err := svc.ListTargets(ctx)
		if err != nil {
			return err
		}
		return printJSON(targets)
	case "proxy":
		return proxy(ctx, svc, args)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func annotate(ctx context.Context, svc api.Service, args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ContinueOnError)
	url := fs.String("url", "about:blank", "document URL used for exclusion rules")
	in := fs.String("in", "", "input file, stdin when empty")
	out := fs.String("out", "", "output file, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	o, err := svc.Annotate(ctx, *url, r, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: %d converted in %s\n", o.Result, o.Converted, o.Duration.Round(time.Microsecond))
	return nil
}

func showRate(ctx context.Context, svc api.Service, args []string) error {
	fs := flag.NewFlagSet("rate", flag.ContinueOnError)
	refresh := fs.Bool("refresh", false, "fetch a new price before printing")
	history := fs.Int("history", 0, "print the last n stored prices")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *history > 0 {
		list, err := svc.RateHistory(ctx, *history)
		if err != nil {
			return err
		}
		return printJSON(list)
	}

	var (
		r   *model.ExchangeRate
		err error
	)
	if *refresh {
		r, err = svc.RefreshRate(ctx)
	} else {
		r, err = svc.CurrentRate(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s USD/g  source=%s  observed=%s\n", r.RatePerUnit.StringFixed(4), r.Source, r.ObservedAt.Format(time.RFC3339))
	return nil
}

func exclude(ctx context.Context, svc api.Service, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("exclude: expected list, add or remove")
	}
	switch args[0] {
	case "list":
		s, err := svc.Settings(ctx)
		if err != nil {
			return err
		}
		for _, p := range s.ExcludedURLs {
			fmt.Println(p)
		}
		return nil
	case "add":
		if len(args) != 2 {
			return fmt.Errorf("exclude add: expected one pattern")
		}
		_, err := svc.AddExclusion(ctx, args[1])
		return err
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("exclude remove: expected one pattern")
		}
		_, found, err := svc.RemoveExclusion(ctx, args[1])
		if err == nil && !found {
			err = fmt.Errorf("exclude remove: %q is not in the list", args[1])
		}
		return err
	default:
		return fmt.Errorf("exclude: unknown action %q", args[0])
	}
}

func proxy(ctx context.Context, svc api.Service, args []string) error {
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	target := fs.String("target", "", "page target id, first page when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	svc.Start(ctx)
	id, err := svc.AttachTarget(ctx, model.TargetID(*target))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "attached to %s, press Ctrl+C to stop\n", id)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return svc.DetachTarget(id)
		case e := <-svc.Events():
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
