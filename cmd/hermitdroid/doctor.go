package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hermitdroid/hermitdroid/internal/clifmt"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment can run the agent",
	RunE: func(cmd *cobra.Command, _ []string) error {
		failed := 0
		check := func(name string, err error) {
			if err != nil {
				failed++
				fmt.Printf("%s %s: %s\n", clifmt.Warn("FAIL"), name, err.Error())
				return
			}
			fmt.Printf("%s %s\n", clifmt.Success(" ok "), name)
		}

		_, lookErr := exec.LookPath("adb")
		check("adb on PATH", lookErr)

		if lookErr == nil {
			check("device attached", checkDevice(cmd))
		}

		check("config file", checkConfig())
		check("api key configured", checkAPIKey())

		if failed > 0 {
			return fmt.Errorf("%d checks failed", failed)
		}
		fmt.Println(clifmt.Success("all checks passed"))
		return nil
	},
}

func checkDevice(cmd *cobra.Command) error {
	out, err := exec.CommandContext(cmd.Context(), "adb", "devices").Output()
	if err != nil {
		return fmt.Errorf("adb devices: %w", err)
	}
	serial := strings.TrimSpace(viper.GetString("device.serial"))
	var devices []string
	for _, line := range strings.Split(string(out), "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			devices = append(devices, fields[0])
		}
	}
	switch {
	case len(devices) == 0:
		return fmt.Errorf("no devices in adb devices output")
	case serial == "" && len(devices) > 1:
		return fmt.Errorf("%d devices attached, set device.serial", len(devices))
	case serial != "":
		for _, d := range devices {
			if d == serial {
				return nil
			}
		}
		return fmt.Errorf("serial %s not attached (have: %s)", serial, strings.Join(devices, ", "))
	}
	return nil
}

func checkConfig() error {
	if viper.ConfigFileUsed() != "" {
		return nil
	}
	return fmt.Errorf("no config file; run hermitdroid onboard or create %s", filepath.Join(defaultHome(), "config.yaml"))
}

func checkAPIKey() error {
	if llmAPIKeyFromViper() != "" {
		return nil
	}
	if os.Getenv("HERMITDROID_LLM_API_KEY") != "" {
		return nil
	}
	return fmt.Errorf("llm.api_key is empty")
}
