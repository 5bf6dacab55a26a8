package main

import (
	"fmt"
	"os"
	"strings"

	"trackscan/internal/config"
)

// cliArgs holds the effective configuration plus the scan inputs.
type cliArgs struct {
	cfg        config.Config
	configPath string
	sourceURL  string   // youtube / spotify URL input
	files      []string // local audio file inputs
	history    bool     // show scan history and exit
	abort      bool     // abort the active job and exit
}

// parseArgs parses command-line arguments and loads configuration.
// Priority: CLI flags > config file > defaults
func parseArgs() (cliArgs, error) {
	args := os.Args[1:]

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printUsage()
			os.Exit(0)
		}
		if arg == "--init-config" {
			return cliArgs{}, initConfigFile()
		}
	}

	var configPath string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" || args[i] == "-c" {
			if i+1 >= len(args) {
				return cliArgs{}, fmt.Errorf("--config requires a path argument")
			}
			configPath = args[i+1]
			break
		}
	}

	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		return cliArgs{}, fmt.Errorf("failed to load config: %w", err)
	}
	if configPath == "" {
		configPath = config.FindConfigFile()
	}

	out := cliArgs{configPath: configPath}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--verbose", "-v":
			cfg.Verbose = true

		case "--segments", "-s":
			if i+1 >= len(args) {
				return cliArgs{}, fmt.Errorf("--segments requires a number argument")
			}
			i++
			var n int
			if _, err := fmt.Sscanf(args[i], "%d", &n); err != nil {
				return cliArgs{}, fmt.Errorf("invalid segments value: %s", args[i])
			}
			cfg.Segments = n

		case "--token", "-t":
			if i+1 >= len(args) {
				return cliArgs{}, fmt.Errorf("--token requires a token argument")
			}
			i++
			cfg.AuthToken = args[i]

		case "--history":
			out.history = true

		case "--abort":
			out.abort = true

		case "--config", "-c":
			i++

		default:
			if len(arg) > 0 && arg[0] == '-' {
				return cliArgs{}, fmt.Errorf("unknown flag: %s", arg)
			}
			if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
				if out.sourceURL != "" {
					return cliArgs{}, fmt.Errorf("only one source URL may be given")
				}
				out.sourceURL = arg
			} else {
				out.files = append(out.files, arg)
			}
		}
	}

	if out.sourceURL != "" && len(out.files) > 0 {
		return cliArgs{}, fmt.Errorf("cannot mix a source URL with local files")
	}

	out.cfg = cfg
	return out, nil
}

// initConfigFile creates a new config file with default values
func initConfigFile() error {
	path := config.GetDefaultConfigPath()

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config file already exists at: %s\n", path)
		fmt.Println("Delete it first if you want to recreate it.")
		os.Exit(0)
	}

	cfg := config.DefaultConfig()

	if err := config.SaveConfigFile(cfg, path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	fmt.Printf("Created default config file at: %s\n", path)
	fmt.Println("\nYou can now edit this file to customize your settings.")
	fmt.Println("Available options:")
	fmt.Println("  api_base_url: recognition backend URL")
	fmt.Println("  auth_token: bearer token (or set TRACKSCAN_TOKEN)")
	fmt.Println("  push_url: optional push channel (http(s) for SSE, ws(s) for WebSocket)")
	fmt.Println("  segments: 1-3 (snippets extracted per file)")
	fmt.Println("  verbose: true/false (enable detailed logging)")

	os.Exit(0)
	return nil
}

// printUsage displays the help message
func printUsage() {
	fmt.Println("trackscan - Scan audio files and streaming links for track matches")
	fmt.Println()
	fmt.Println("Usage: trackscan [options] <file.mp3 ...|url>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -v, --verbose              Show detailed output")
	fmt.Println("  -s, --segments <n>         Snippets to extract per file (1-3, default: 3)")
	fmt.Println("  -t, --token <token>        Bearer token for the recognition backend")
	fmt.Println("  -c, --config <path>        Path to config file")
	fmt.Println("      --history              Show scan history and exit")
	fmt.Println("      --abort                Abort the active batch job and exit")
	fmt.Println("  -h, --help                 Show this help message")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  --init-config              Create a default config file")
	fmt.Println()
	fmt.Println("Config file locations (checked in order):")
	fmt.Println("  ./trackscan.yaml")
	fmt.Println("  ~/.config/trackscan/config.yaml")
	fmt.Println("  ~/.trackscan.yaml")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Scan a single local file (synchronous)")
	fmt.Println("  trackscan song.mp3")
	fmt.Println()
	fmt.Println("  # Scan a directory of files as a batch job")
	fmt.Println("  trackscan ~/Music/rips/*.flac")
	fmt.Println()
	fmt.Println("  # Scan every video in a YouTube playlist")
	fmt.Println("  trackscan https://www.youtube.com/playlist?list=...")
	fmt.Println()
	fmt.Println("  # Scan a Spotify playlist")
	fmt.Println("  trackscan https://open.spotify.com/playlist/...")
}
