package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/api"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const requestTimeout = 15 * time.Second

var (
	flagUsername string
	flagPassword string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the chat server",
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session locally",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the user the stored session belongs to",
	RunE:  runWhoami,
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVarP(&flagUsername, "username", "u", "", "username (prompted when empty)")
		c.Flags().StringVarP(&flagPassword, "password", "p", "", "password (prompted when empty)")
	}
}

func (a *app) apiClient() *api.Client {
	st := stats.NewStatsUpdater()
	st.Run()
	a.closers = append(a.closers, closerFunc(func() error { st.Stop(); return nil }))
	return api.NewClient(a.cfg.ServerURL, a.sess, a.log, st)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func credentials() (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	username := flagUsername
	if username == "" {
		fmt.Print("Username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	password := flagPassword
	if password == "" {
		fmt.Print("Password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			// not a terminal, read a plain line
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", "", fmt.Errorf("read password: %w", err)
			}
			b = []byte(strings.TrimSpace(line))
		} else {
			fmt.Println()
		}
		password = string(b)
	}

	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}
	return username, password, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	username, password, err := credentials()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	if err := a.apiClient().Register(ctx, username, password); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Printf("Registered %s. Run `gochat login` to start chatting.\n", username)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	username, password, err := credentials()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	token, err := a.apiClient().Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := a.sess.Save(token, username); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Printf("Logged in as %s.\n", username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sess.Clear(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.sess.Credential(); !ok {
		fmt.Println("Not logged in.")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	username, err := a.apiClient().CurrentUser(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			if err := a.sess.Clear(); err != nil {
				a.log.Warn().Err(err).Msg("clear session")
			}
			fmt.Println("Session rejected by the server. Please log in again.")
			return nil
		}
		return fmt.Errorf("whoami: %w", err)
	}
	if err := a.sess.SetUsername(username); err != nil {
		a.log.Warn().Err(err).Msg("store username")
	}
	fmt.Println(username)
	return nil
}
