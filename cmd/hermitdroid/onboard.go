package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/hermitdroid/hermitdroid/internal/clifmt"
	"github.com/hermitdroid/hermitdroid/workspace"
)

const bootstrapDoc = `# First run

You are waking up for the first time. Before doing anything else:

1. Read this file, then introduce yourself to the user with notify_user.
2. Ask what they want help with on this device and write what you learn
   to USER.md.
3. Write a short SOUL.md describing who you are and how you behave.
4. Delete nothing; the user curates these files with you.

Until SOUL.md exists, treat every tick as part of this bootstrap.
`

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive first-time setup",
	RunE: func(*cobra.Command, []string) error {
		in := bufio.NewReader(os.Stdin)
		fmt.Println(clifmt.Headerf("hermitdroid setup"))
		fmt.Println()

		endpoint := ask(in, "LLM endpoint", "https://api.openai.com/v1")
		model := ask(in, "Model", "gpt-4o-mini")

		fmt.Print("API key (hidden): ")
		keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read api key: %w", err)
		}
		apiKey := strings.TrimSpace(string(keyBytes))
		if apiKey == "" {
			return fmt.Errorf("an API key is required")
		}

		serial := ask(in, "Device serial (blank for the only attached device)", "")
		restricted := ask(in, "Restricted app packages, comma separated", "com.android.vending")

		home := defaultHome()
		if err := os.MkdirAll(home, 0o700); err != nil {
			return err
		}

		cfg := map[string]any{
			"llm": map[string]any{
				"endpoint": endpoint,
				"api_key":  apiKey,
				"model":    model,
			},
			"device": map[string]any{
				"serial": serial,
			},
			"guard": map[string]any{
				"restricted_apps":         splitCSV(restricted),
				"confirm_timeout_seconds": 120,
			},
			"agent": map[string]any{
				"heartbeat_seconds": 120,
			},
			"server": map[string]any{
				"addr": "127.0.0.1:8787",
			},
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		cfgPath := filepath.Join(home, "config.yaml")
		if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
			return err
		}
		fmt.Println(clifmt.Success("wrote " + cfgPath))

		ws, err := workspace.New(filepath.Join(home, "workspace"))
		if err != nil {
			return err
		}
		soul, err := ws.ReadDoc(workspace.DocSoul)
		if err != nil {
			return err
		}
		if soul == "" {
			if err := ws.WriteDoc(workspace.DocBootstrap, bootstrapDoc); err != nil {
				return err
			}
			fmt.Println(clifmt.Success("wrote " + filepath.Join(ws.Root, workspace.DocBootstrap)))
			fmt.Println()
			fmt.Println("The agent introduces itself on its first tick. Start it with:")
		} else {
			fmt.Println()
			fmt.Println("Existing workspace found. Start the agent with:")
		}
		fmt.Println("  hermitdroid gateway")
		return nil
	},
}

func ask(in *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
