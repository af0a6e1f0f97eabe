package clicmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datacontracts/shepherd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON, with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		redacted := redact(cfg)
		b, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <dotted.path>",
	Short: "Get one effective config value by dotted path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		doc, err := toGenericMap(cfg)
		if err != nil {
			return err
		}
		val, ok := lookupPath(doc, args[0])
		if !ok {
			return fmt.Errorf("no such config path: %s", args[0])
		}
		switch v := val.(type) {
		case map[string]any, []any:
			b, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
		default:
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <dotted.path> <value>",
	Short: "Set one config value by dotted path and persist it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		doc, err := toGenericMap(cfg)
		if err != nil {
			return err
		}
		if err := setPath(doc, args[0], parseValue(args[1])); err != nil {
			return err
		}
		if err := fromGenericMap(doc, cfg); err != nil {
			return err
		}
		return config.Save(cfg)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configGetCmd, configSetCmd)
}

// redact returns a copy of cfg with credential fields blanked, for safe
// display.
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Providers.OpenAI.APIKey != "" {
		c.Providers.OpenAI.APIKey = "***"
	}
	if c.Chat.Slack.BotToken != "" {
		c.Chat.Slack.BotToken = "***"
	}
	if c.Chat.Slack.AppToken != "" {
		c.Chat.Slack.AppToken = "***"
	}
	return &c
}

func toGenericMap(cfg *config.Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromGenericMap(doc map[string]any, cfg *config.Config) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, cfg)
}

func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	m := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return fmt.Errorf("no such config path: %s", path)
		}
		m = next
	}
	last := parts[len(parts)-1]
	if _, ok := m[last]; !ok {
		return fmt.Errorf("no such config path: %s", path)
	}
	m[last] = value
	return nil
}

// parseValue interprets a CLI string as a bool, a number, or a JSON
// array/object/null if it parses as one; anything else, including a
// JSON-quoted string, is kept as the raw string.
func parseValue(raw string) any {
	if raw == "true" || raw == "false" {
		b, _ := strconv.ParseBool(raw)
		return b
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		if _, isString := v.(string); !isString {
			return v
		}
	}
	return raw
}
