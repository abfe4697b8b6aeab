// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dialogctl is the terminal client for the Aleutian Dialog server.
//
// Usage:
//
//	dialogctl ask "travel insurance"  # one message, one reply
//	dialogctl chat                    # interactive conversation
//	dialogctl chat --resume <id>      # pick up an existing session
//	dialogctl products                # list the product catalog
//	dialogctl session <id>            # inspect stored session state
//	dialogctl reset <id>              # drop a session
//
// The server address comes from --server or DIALOG_SERVER_URL, defaulting
// to http://localhost:8080.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "dialogctl",
		Short: "Terminal client for the Aleutian Dialog server",
		Long: "dialogctl talks to a running Aleutian Dialog server: interactive chat,\n" +
			"session inspection, and catalog queries.",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Dialog server base URL (default $DIALOG_SERVER_URL or http://localhost:8080)")

	askCmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	askCmd.Flags().String("session", "", "Send the message into an existing session")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Run:   runChatCommand,
	}
	chatCmd.Flags().String("resume", "", "Resume an existing session by ID")

	productsCmd := &cobra.Command{
		Use:   "products",
		Short: "List the products the assistant covers",
		Run:   runProductsCommand,
	}

	sessionCmd := &cobra.Command{
		Use:   "session <id>",
		Short: "Show the stored state of a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionCommand,
	}

	resetCmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Drop a session so the next message starts fresh",
		Args:  cobra.ExactArgs(1),
		Run:   runResetCommand,
	}

	rootCmd.AddCommand(askCmd, chatCmd, productsCmd, sessionCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getServerBaseURL resolves the server address: flag, then environment,
// then the local default.
func getServerBaseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("DIALOG_SERVER_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8080"
}

func connectHint(baseURL string) string {
	return fmt.Sprintf("Is the server running? Start it with: go run ./cmd/dialog\nOr point --server (or DIALOG_SERVER_URL) somewhere other than %s.", baseURL)
}
