// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// runAskCommand sends a single message and prints the reply, without
// entering the interactive loop. Handy for scripting and quick checks.
func runAskCommand(cmd *cobra.Command, args []string) {
	baseURL := getServerBaseURL()
	client := newAPIClient(baseURL)
	styles := newPalette(colorEnabled())

	sessionID, _ := cmd.Flags().GetString("session")
	message := strings.Join(args, " ")

	resp, err := client.Chat(sessionID, message)
	if err != nil {
		log.Fatalf("Error: %v\n%s", err, connectHint(baseURL))
	}

	fmt.Println(styles.Assistant.Render("assistant> ") + resp.Reply)
	fmt.Println(styles.Status.Render(statusLine(resp)))
	fmt.Println(styles.Status.Render("Continue with: dialogctl chat --resume " + resp.SessionID))
}

func runChatCommand(cmd *cobra.Command, args []string) {
	if len(args) > 0 {
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
		fmt.Println("Use 'dialogctl chat --help' to see available flags.")
	}

	baseURL := getServerBaseURL()
	client := newAPIClient(baseURL)
	styles := newPalette(colorEnabled())
	sessionID, _ := cmd.Flags().GetString("resume")

	if sessionID != "" {
		// Fail fast on a bad ID instead of silently starting a new session.
		sess, err := client.Session(sessionID)
		if err != nil {
			log.Fatalf("Failed to load session for resume: %v", err)
		}
		fmt.Println(styles.Status.Render(fmt.Sprintf("Resuming session %s (%d turns so far)", sess.SessionID, sess.TurnCount)))
		if sess.Product != "" {
			fmt.Println(styles.Status.Render("Active product: " + sess.Product))
		}
	}

	fmt.Println(styles.Title.Render("Aleutian Dialog"))
	fmt.Println(styles.Status.Render(`Type a message and press Enter. "exit" quits, "Restart Session" starts over.`))
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(styles.Prompt.Render("you> "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" || input == "q" {
			fmt.Println("Goodbye.")
			break
		}

		done := make(chan bool)
		go showSpinner("Thinking", done)

		resp, err := client.Chat(sessionID, input)

		done <- true
		fmt.Print("\r\033[K")

		if err != nil {
			fmt.Println(styles.Error.Render("Error: " + err.Error()))
			fmt.Println(styles.Status.Render(connectHint(baseURL)))
			continue
		}
		sessionID = resp.SessionID

		fmt.Println(styles.Assistant.Render("assistant> ") + resp.Reply)
		fmt.Println(styles.Status.Render(statusLine(resp)))
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("reading input: %v", err)
	}
	if sessionID != "" {
		fmt.Println(styles.Status.Render("Session: " + sessionID + " (resume with: dialogctl chat --resume " + sessionID + ")"))
	}
}

// statusLine summarizes where the conversation stands after a turn.
func statusLine(resp *chatResponse) string {
	parts := []string{"phase: " + resp.Phase}
	if resp.Product != "" {
		parts = append(parts, "product: "+resp.Product)
	}
	if resp.PendingSlot != "" {
		parts = append(parts, "waiting on: "+resp.PendingSlot)
	}
	if resp.Degraded {
		parts = append(parts, "degraded")
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

// showSpinner animates while a turn is in flight.
func showSpinner(msg string, done chan bool) {
	chars := []string{"▖", "▘", "▝", "▗"}
	i := 0

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	for {
		select {
		case <-done:
			return
		default:
			fmt.Printf("\r%s  %s... \033[K", chars[i%len(chars)], msg)
			i++
			time.Sleep(100 * time.Millisecond)
		}
	}
}
