package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"echobot/internal/channel"
	"echobot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your echobot installation",
		Long: `Verifies that echobot's configuration, bot token, journal database and
status port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("echobot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (defaults and %s* env vars apply)", cfgPath, config.EnvPrefix))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			if err := config.ValidateForRun(cfg); err != nil {
				printFail("Bot token", err.Error())
				failed++
			} else if username, err := checkToken(cfg.Telegram); err != nil {
				printFail("Bot token", err.Error())
				failed++
			} else {
				printPass("Bot token", "@"+username)
				passed++
			}

			if len(cfg.Telegram.AllowFrom) == 0 {
				printWarn("Allow list", "empty: the bot echoes anyone who writes to it")
				warned++
			} else {
				printPass("Allow list", fmt.Sprintf("%d user(s)", len(cfg.Telegram.AllowFrom)))
				passed++
			}

			if cfg.Journal.Enabled {
				if err := checkDatabase(cfg.Journal.DBPath); err != nil {
					printFail("Journal", err.Error())
					failed++
				} else {
					printPass("Journal", cfg.Journal.DBPath)
					passed++
				}
			}

			if cfg.Status.Enabled {
				if err := checkPort(cfg.Status.Host, cfg.Status.Port); err != nil {
					printWarn("Status port", fmt.Sprintf("port %d may be in use: %v", cfg.Status.Port, err))
					warned++
				} else {
					printPass("Status port", fmt.Sprintf("%s:%d available", cfg.Status.Host, cfg.Status.Port))
					passed++
				}
			}

			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Log.File)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running echobot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nechobot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! echobot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkToken calls getMe and returns the bot username.
func checkToken(cfg config.TelegramConfig) (string, error) {
	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Token,
		APIEndpoint: cfg.APIEndpoint,
		Logger:      logger,
	})
	if err := tg.Connect(); err != nil {
		return "", err
	}
	return tg.Username(), nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
