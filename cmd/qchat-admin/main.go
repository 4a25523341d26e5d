package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// A very simple CLI tool for inspecting a running qchat server through its
// read-only API.

var serverAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:           "qchat-admin",
		Short:         "inspect a running qchat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", "http://localhost:8000", "base URL of the qchat server")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "aggregate room/user/message statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetch("/api/rooms")
		},
	}

	roomCmd := &cobra.Command{
		Use:   "room <roomId>",
		Short: "summary and member list of one room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetch("/api/rooms/" + url.PathEscape(args[0]))
		},
	}

	var limit int
	messagesCmd := &cobra.Command{
		Use:   "messages <roomId>",
		Short: "most recent messages of one room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetch(fmt.Sprintf("/api/rooms/%s/messages?limit=%d", url.PathEscape(args[0]), limit))
		},
	}
	messagesCmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of messages to fetch (capped at 100)")

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "all connected users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetch("/api/users")
		},
	}

	rootCmd.AddCommand(statsCmd, roomCmd, messagesCmd, usersCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func fetch(path string) error {
	resp, err := http.Get(serverAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
