package clicmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datacontracts/shepherd/internal/config"
)

type checkStatus string

const (
	checkPass checkStatus = "PASS"
	checkWarn checkStatus = "WARN"
	checkFail checkStatus = "FAIL"
)

type check struct {
	Name    string      `json:"name"`
	Status  checkStatus `json:"status"`
	Message string      `json:"message"`
}

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run configuration and credential diagnostics",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output machine-readable JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, cfgErr := config.Load()
	checks := []check{configCheck(cfgErr)}
	if cfgErr == nil {
		checks = append(checks, apiKeyCheck(cfg), dataDirCheck(cfg), chatBackendCheck(cfg))
	}

	if doctorJSON {
		b, _ := json.MarshalIndent(checks, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
	} else {
		printHeader("contractbot doctor")
		for _, c := range checks {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", c.Status, c.Name, c.Message)
		}
	}

	for _, c := range checks {
		if c.Status == checkFail {
			return fmt.Errorf("doctor found failing checks")
		}
	}
	return nil
}

func configCheck(err error) check {
	if err != nil {
		return check{Name: "config", Status: checkFail, Message: err.Error()}
	}
	return check{Name: "config", Status: checkPass, Message: "loaded"}
}

func apiKeyCheck(cfg *config.Config) check {
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		return check{Name: "llm_api_key", Status: checkFail, Message: "no API key; set OPENAI_API_KEY or providers.openai.apiKey"}
	}
	return check{Name: "llm_api_key", Status: checkPass, Message: "present"}
}

func dataDirCheck(cfg *config.Config) check {
	info, err := os.Stat(cfg.Paths.DataDir)
	if os.IsNotExist(err) {
		return check{Name: "data_dir", Status: checkWarn, Message: cfg.Paths.DataDir + " does not exist yet; created on first run"}
	}
	if err != nil {
		return check{Name: "data_dir", Status: checkFail, Message: err.Error()}
	}
	if !info.IsDir() {
		return check{Name: "data_dir", Status: checkFail, Message: cfg.Paths.DataDir + " exists but is not a directory"}
	}
	return check{Name: "data_dir", Status: checkPass, Message: cfg.Paths.DataDir}
}

func chatBackendCheck(cfg *config.Config) check {
	switch strings.ToLower(cfg.Chat.Backend) {
	case "slack":
		if cfg.Chat.Slack.BotToken == "" || cfg.Chat.Slack.AppToken == "" {
			return check{Name: "chat_backend", Status: checkFail, Message: "slack backend requires both botToken and appToken"}
		}
		return check{Name: "chat_backend", Status: checkPass, Message: "slack credentials present"}
	case "whatsapp":
		return check{Name: "chat_backend", Status: checkWarn, Message: "whatsapp pairs on first `contractbot run`; scan the QR code written to the data directory"}
	default:
		return check{Name: "chat_backend", Status: checkFail, Message: fmt.Sprintf("unknown chat backend %q", cfg.Chat.Backend)}
	}
}
