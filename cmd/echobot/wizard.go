package main

import (
	"fmt"
	"strconv"
	"strings"

	"echobot/internal/config"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: token → allow list → journal → status server → save config",
		Long:  "Guides you through the bot token, who may use the bot, the delivery journal and the status server. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("%w\nfix the file by hand or start over with 'echobot init --force'", err)
	}
	// Token default comes from the file as written, so a ${VAR} reference
	// is offered again instead of its expanded secret.
	raw, err := config.LoadFile(cfgPath)
	if err != nil {
		return err
	}

	fmt.Println("Welcome to echobot! Let's configure your bot.")
	fmt.Println()

	// 1. Token.
	tokenPrompt := promptui.Prompt{
		Label:    "Telegram bot token (from @BotFather, or a reference like ${TELEGRAM_BOT_TOKEN})",
		Default:  raw.String("telegram.token"),
		Mask:     '*',
		Validate: validateWizardToken,
	}
	token, err := tokenPrompt.Run()
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	// 2. Allow list.
	allowPrompt := promptui.Prompt{
		Label:    "Allowed Telegram user ids (comma-separated, blank = everyone)",
		Default:  joinIDs(cfg.Telegram.AllowFrom),
		Validate: func(s string) error { _, err := parseIDs(s); return err },
	}
	allowStr, err := allowPrompt.Run()
	if err != nil {
		return fmt.Errorf("allow list: %w", err)
	}
	allowFrom, _ := parseIDs(allowStr)

	// 3. Journal.
	journalPrompt := promptui.Select{
		Label: "Record delivery outcomes in a local SQLite journal?",
		Items: []string{"no", "yes"},
	}
	journalIdx, _, err := journalPrompt.Run()
	if err != nil {
		return fmt.Errorf("journal selection: %w", err)
	}

	// 4. Status server.
	statusPrompt := promptui.Select{
		Label: "Serve /healthz and /metrics over HTTP?",
		Items: []string{"no", "yes"},
	}
	statusIdx, _, err := statusPrompt.Run()
	if err != nil {
		return fmt.Errorf("status selection: %w", err)
	}
	port := cfg.Status.Port
	if statusIdx == 1 {
		portPrompt := promptui.Prompt{
			Label:   "Status port",
			Default: strconv.Itoa(cfg.Status.Port),
			Validate: func(s string) error {
				n, err := strconv.Atoi(s)
				if err != nil || n < 1 || n > 65535 {
					return fmt.Errorf("port must be between 1 and 65535")
				}
				return nil
			},
		}
		portStr, err := portPrompt.Run()
		if err != nil {
			return fmt.Errorf("status port: %w", err)
		}
		port, _ = strconv.Atoi(portStr)
	}

	updates := wizardUpdates(strings.TrimSpace(token), allowFrom, journalIdx == 1, statusIdx == 1, port)
	if err := config.SetInFile(cfgPath, updates); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'echobot doctor' to check the setup, then 'echobot run'.")
	return nil
}

// wizardUpdates maps the wizard answers onto config keys.
func wizardUpdates(token string, allowFrom []int64, journal, status bool, port int) map[string]string {
	return map[string]string{
		"telegram.token":      token,
		"telegram.allow_from": joinIDs(allowFrom),
		"journal.enabled":     strconv.FormatBool(journal),
		"status.enabled":      strconv.FormatBool(status),
		"status.port":         strconv.Itoa(port),
	}
}

// validateWizardToken accepts a well-formed token or an env reference.
func validateWizardToken(s string) error {
	s = strings.TrimSpace(s)
	if config.IsEnvReference(s) {
		return nil
	}
	return config.ValidateToken(s)
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
