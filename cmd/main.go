package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/webrag/internal/app"
	cfgPkg "github.com/xhad/webrag/pkg/config"
	"github.com/xhad/webrag/pkg/llm"
	"github.com/xhad/webrag/server"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

type Options struct {
	ConfigPath string
	Query      string
	URLs       urlList
	MaxTokens  int
	Serve      bool
	Addr       string
	Store      string
	LogLevel   string
	JSON       bool
}

func main() {
	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Options {
	var opts Options

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.Query, "query", "", "Build context for this query and exit")
	flag.Var(&opts.URLs, "url", "Source URL for -query (repeatable)")
	flag.IntVar(&opts.MaxTokens, "max-tokens", 0, "Context token budget (default from config)")
	flag.BoolVar(&opts.Serve, "serve", false, "Run the HTTP/websocket server")
	flag.StringVar(&opts.Addr, "addr", "", "Server listen address (default from config)")
	flag.StringVar(&opts.Store, "store", "", "Content store backend: memory, postgres or redis")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.JSON, "json", false, "Print -query results as JSON")
	flag.Parse()

	return opts
}

func loadConfig(opts Options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Command line flags win over the config file
	if opts.MaxTokens > 0 {
		cfg.RAG.MaxTokens = opts.MaxTokens
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Store != "" {
		cfg.Store.Backend = opts.Store
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func run(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case opts.Serve:
		return server.New(a.Assembler, a.Chat, cfg.RAG.MaxTokens, a.Logger.WithPrefix("http")).
			ListenAndServe(ctx, cfg.Server.Addr)
	case opts.Query != "":
		return printContext(ctx, a, opts)
	default:
		return chatLoop(ctx, a)
	}
}

func printContext(ctx context.Context, a *app.App, opts Options) error {
	spinner := getSpinner(" Retrieving context...")
	result, err := a.Assembler.GenerateContext(ctx, opts.Query, opts.URLs, a.Config.RAG.MaxTokens)
	spinner.Finish()
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Context == "" {
		color.Yellow("No context could be retrieved")
		return nil
	}
	fmt.Println(result.Context)
	color.Blue("%s", llm.FormatSources(result.Sources))
	return nil
}

// splitMessage separates the URLs in a chat message from the question.
func splitMessage(input string) (string, []string) {
	urls := urlRegex.FindAllString(input, -1)
	query := strings.Join(strings.Fields(urlRegex.ReplaceAllString(input, " ")), " ")
	return query, urls
}

func chatLoop(ctx context.Context, a *app.App) error {
	// Interactive chat loop with colored output
	color.Cyan("\nChat with web context (paste URLs into a message, type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		input := scanner.Text()
		if strings.ToLower(strings.TrimSpace(input)) == "exit" {
			break
		}

		query, urls := splitMessage(input)
		if query == "" {
			color.Yellow("Ask a question along with the URLs")
			continue
		}
		if len(urls) > 0 {
			color.Blue("Using %d source URL(s)", len(urls))
		}

		responseSpinner := getSpinner(" Generating response...")
		reply, err := a.Chat.Chat(ctx, query, urls)
		responseSpinner.Finish()

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		assistantPrompt("\nAssistant: %s\n", reply.Content)
		if sources := llm.FormatSources(reply.Sources); sources != "" {
			color.Blue("%s", sources)
		}

		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}
