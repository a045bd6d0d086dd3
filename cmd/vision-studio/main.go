package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	visionstudio "github.com/menta2k/vision-studio"
	"github.com/menta2k/vision-studio/internal/config"
	"github.com/menta2k/vision-studio/internal/server"
	"github.com/menta2k/vision-studio/internal/utils"
	"github.com/menta2k/vision-studio/pkg/client"
	"github.com/menta2k/vision-studio/pkg/detection"
	"github.com/menta2k/vision-studio/pkg/gemini"
	"github.com/menta2k/vision-studio/pkg/ollama"
	"github.com/menta2k/vision-studio/pkg/openai"
	"github.com/menta2k/vision-studio/pkg/present"
	"github.com/menta2k/vision-studio/pkg/processing"
	"github.com/menta2k/vision-studio/pkg/render"
)

const usage = `usage: %s <command> [flags]

commands:
  serve        run the web interface
  annotate     annotate one image from the command line
  init-config  write the default configuration file
  version      print the version

run '%[1]s <command> -h' for command flags
`

func main() {
	name := filepath.Base(os.Args[0])
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, name)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "annotate":
		err = runAnnotate(os.Args[2:])
	case "init-config":
		err = runInitConfig(os.Args[2:])
	case "version":
		fmt.Println(visionstudio.GetVersion())
	case "-h", "--help", "help":
		fmt.Fprintf(os.Stdout, usage, name)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n"+usage, os.Args[1], name)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// commonFlags are shared by every command that talks to a model
type commonFlags struct {
	configPath string
	envFile    string
	backend    string
	model      string
	url        string
	debug      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (default "+config.GetConfigPath()+" if present)")
	fs.StringVar(&c.envFile, "env", ".env", "dotenv file to load")
	fs.StringVar(&c.backend, "backend", "", "backend to use: gemini, ollama or openai")
	fs.StringVar(&c.model, "model", "", "model name")
	fs.StringVar(&c.url, "url", "", "server URL (ollama: http://localhost:11434, openai: http://localhost:8080/v1)")
	fs.BoolVar(&c.debug, "debug", false, "verbose development logging")
}

// load builds the effective configuration: file, then .env and environment,
// then flags
func (c *commonFlags) load() (*config.Config, error) {
	cfg := config.Default()
	path := c.configPath
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.LoadEnv(c.envFile); err != nil {
		return nil, err
	}

	if c.backend != "" {
		cfg.Model.SwitchBackend(c.backend)
	}
	if c.model != "" {
		cfg.Model.Name = c.model
	}
	if c.url != "" {
		cfg.Model.URL = c.url
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newVisionClient creates the client for the configured backend
func newVisionClient(ctx context.Context, m config.ModelConfig) (client.VisionClient, error) {
	switch m.Backend {
	case config.BackendGemini:
		return gemini.NewClient(ctx, m.APIKey, m.URL, nil)
	case config.BackendOllama:
		url := m.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		return ollama.NewClient(url, nil)
	case config.BackendOpenAI:
		return openai.NewClient(m.URL, m.APIKey, nil)
	default:
		return nil, fmt.Errorf("unknown backend: %s (use gemini, ollama or openai)", m.Backend)
	}
}

// newStudio wires the model client, detector and renderer together
func newStudio(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*visionstudio.Studio, error) {
	vc, err := newVisionClient(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Model.Backend, err)
	}

	rcfg := render.DefaultConfig()
	rcfg.FontPath = cfg.Render.FontPath
	rcfg.FontSize = cfg.Render.FontSize
	rcfg.StrokeWidth = cfg.Render.StrokeWidth
	renderer, err := render.NewWithConfig(rcfg)
	if err != nil {
		return nil, err
	}

	detector := detection.NewDetector(vc, detection.Options{
		Model:   cfg.Model.Name,
		Timeout: cfg.Model.Timeout(),
		Quality: cfg.Model.SendQuality,
	})

	logger.Info("studio ready",
		zap.String("backend", vc.Name()),
		zap.String("model", modelName(cfg.Model)),
		zap.Int("palette", renderer.PaletteSize()),
	)

	return visionstudio.New(detector, renderer,
		visionstudio.WithLogger(logger),
		visionstudio.WithTargetWidth(cfg.Upload.TargetWidth),
	), nil
}

// modelName is the model the backend will actually use, for logging
func modelName(m config.ModelConfig) string {
	if m.Name == "" && m.Backend == config.BackendGemini {
		return gemini.DefaultModel
	}
	return m.Name
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "listen address (default from config, :8080)")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := newLogger(common.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	studio, err := newStudio(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(studio, cfg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx, cfg.Server.Addr)
}

func runAnnotate(args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	in := fs.String("in", "", "input image path (jpg/png)")
	prompt := fs.String("prompt", "", "what to ask about the image")
	outDir := fs.String("out", "out", "output directory")
	format := fs.String("ext", "", "output format: png|jpg|webp (default from config)")
	asJSON := fs.Bool("json", false, "print the result as JSON instead of markdown")
	fs.Parse(args)

	if *in == "" || *prompt == "" {
		return fmt.Errorf("usage: %s annotate -in input.jpg -prompt \"what is red?\" [-backend gemini|ollama|openai] [-out outdir] [-ext png|jpg|webp]", filepath.Base(os.Args[0]))
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *format != "" {
		cfg.Output.Format = *format
	}

	logger, err := newLogger(common.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	studio, err := newStudio(ctx, cfg, logger)
	if err != nil {
		return err
	}

	processor := processing.NewProcessor(cfg.Upload.SupportedFormats, cfg.Upload.MaxBytes)
	img, err := processor.LoadImage(*in)
	if err != nil {
		return err
	}

	out, err := studio.Annotate(ctx, img, *prompt)
	if err != nil {
		return err
	}

	if err := utils.EnsureDir(*outDir); err != nil {
		return err
	}
	outPath := utils.GenerateOutputFilename(*in, *outDir, "_annotated", cfg.Output.Format)
	if err := processing.SaveImage(out.Image, outPath, cfg.Output.Format, cfg.Output.Quality, cfg.Output.Lossless); err != nil {
		return fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	logger.Info("wrote annotated image", zap.String("path", outPath))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Printf("## Detailed Information\n\n%s", present.Markdown(out.ExtraInfo))
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("o", config.GetConfigPath(), "where to write the configuration")
	force := fs.Bool("f", false, "overwrite an existing file")
	fs.Parse(args)

	if utils.FileExists(*path) && !*force {
		return fmt.Errorf("%s already exists (use -f to overwrite)", *path)
	}
	if err := config.Default().SaveToFile(*path); err != nil {
		return err
	}
	fmt.Println("wrote", *path)
	return nil
}
