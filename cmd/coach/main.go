// Package main provides the terminal pronunciation coach.
package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/windfall/pronunciation_service/internal/apiclient"
	"github.com/windfall/pronunciation_service/internal/catalog"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/practice"
)

const defaultServer = "http://localhost:8080"

var (
	serverURL string
	tokenFile string
	timeout   time.Duration

	loginPhone string
	loginCode  string

	itemsCategory string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "coach",
		Short:         "English pronunciation practice in the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	server := os.Getenv("COACH_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", server, "pronunciation service URL (env COACH_SERVER)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "session token file (default: user config dir)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "HTTP timeout per request")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newActivateCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newLevelsCmd())
	rootCmd.AddCommand(newItemsCmd())
	rootCmd.AddCommand(newPracticeCmd())
	rootCmd.AddCommand(newPlayCmd())

	return rootCmd
}

func newClient() (*apiclient.Client, error) {
	path := tokenFile
	if path == "" {
		var err error
		path, err = apiclient.DefaultTokenPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve token file: %w", err)
		}
	}
	return apiclient.New(serverURL, &apiclient.FileTokenStore{Path: path}, timeout), nil
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a phone number and verification code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			phone := loginPhone
			if phone == "" {
				if phone, err = prompt(cmd, "手机号码: "); err != nil {
					return err
				}
			}
			if err := c.SendOTP(ctx, phone); err != nil {
				return userError(err)
			}
			code := loginCode
			if code == "" {
				if code, err = prompt(cmd, "验证码: "); err != nil {
					return err
				}
			}
			s, err := c.VerifyOTP(ctx, phone, code)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已登录: %s\n", s.Identifier)
			if !s.Activated {
				fmt.Fprintln(cmd.OutOrStdout(), "账号尚未激活，请运行 coach activate <激活码>。")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&loginPhone, "phone", "", "11-digit phone number")
	cmd.Flags().StringVar(&loginCode, "code", "", "6-digit verification code")
	return cmd
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate CODE",
		Short: "Redeem an activation code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ok, err := c.Activate(cmd.Context(), args[0])
			if err != nil {
				return userError(err)
			}
			if !ok {
				return stderrors.New("激活码无效或已被使用。")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "激活成功！")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			u, err := c.CurrentUser(cmd.Context())
			if err != nil {
				return userError(err)
			}
			if u == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "未登录")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (activated: %t)\n", u.Identifier, u.Activated)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "已退出登录")
			return nil
		},
	}
}

func newLevelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "List practice levels and phoneme categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Default()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, level := range model.Levels {
				items, _ := cat.Items(level, "")
				fmt.Fprintf(out, "%-10s %d items\n", level, len(items))
				for _, title := range cat.Categories(level) {
					fmt.Fprintf(out, "  - %s\n", title)
				}
			}
			return nil
		},
	}
}

func newItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items LEVEL",
		Short: "List the items of a level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := model.ParseLevel(args[0])
			if err != nil {
				return err
			}
			items, err := loadItems(level, itemsCategory)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, item := range items {
				line := fmt.Sprintf("%3d  %s", i+1, item.Text)
				if item.IPA != "" && item.IPA != item.Text {
					line += "  " + item.IPA
				}
				if item.ExampleWord != "" {
					line += "  (" + item.ExampleWord + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&itemsCategory, "category", "", "phoneme category title")
	return cmd
}

func loadItems(level model.PracticeLevel, category string) ([]model.PracticeItem, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	return cat.Items(level, category)
}

// selectItem resolves LEVEL and a 1-based INDEX into an item.
func selectItem(args []string, category string) (model.PracticeLevel, model.PracticeItem, error) {
	level, err := model.ParseLevel(args[0])
	if err != nil {
		return "", model.PracticeItem{}, err
	}
	items, err := loadItems(level, category)
	if err != nil {
		return "", model.PracticeItem{}, err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 || n > len(items) {
		return "", model.PracticeItem{}, fmt.Errorf("item index must be between 1 and %d", len(items))
	}
	return level, items[n-1], nil
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// userError turns service errors into the learner-facing message.
func userError(err error) error {
	return fmt.Errorf("%s", practice.Message(err))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
