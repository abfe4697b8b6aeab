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
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func runProductsCommand(_ *cobra.Command, _ []string) {
	client := newAPIClient(getServerBaseURL())
	styles := newPalette(colorEnabled())

	resp, err := client.Products()
	if err != nil {
		log.Fatalf("Error: %v\n%s", err, connectHint(getServerBaseURL()))
	}

	fmt.Println(styles.Title.Render("Products"))
	for _, p := range resp.Products {
		line := fmt.Sprintf("  %-20s %s", p.Name, p.DisplayName)
		if len(p.Slots) > 0 {
			line += styles.Status.Render("  (asks for: " + strings.Join(p.Slots, ", ") + ")")
		}
		fmt.Println(line)
	}
}

func runSessionCommand(_ *cobra.Command, args []string) {
	client := newAPIClient(getServerBaseURL())
	styles := newPalette(colorEnabled())

	sess, err := client.Session(args[0])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Println(styles.Title.Render("Session " + sess.SessionID))
	fmt.Printf("  phase: %s\n", sess.Phase)
	if sess.Product != "" {
		fmt.Printf("  product: %s\n", sess.Product)
	}
	if len(sess.Slots) > 0 {
		keys := make([]string, 0, len(sess.Slots))
		for k := range sess.Slots {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("  slots:")
		for _, k := range keys {
			fmt.Printf("    %s: %s\n", k, sess.Slots[k])
		}
	}
	if sess.PendingSlot != "" {
		fmt.Printf("  waiting on: %s\n", sess.PendingSlot)
	}
	fmt.Printf("  turns: %d\n", sess.TurnCount)
	if sess.RecGiven {
		fmt.Println("  recommendation: given")
	}
	if sess.Degraded {
		fmt.Println(styles.Warn.Render("  degraded: model calls have been failing"))
	}
	if sess.Summary != "" {
		fmt.Printf("  summary: %s\n", sess.Summary)
	}

	if len(sess.History) > 0 {
		fmt.Println()
		fmt.Println(styles.Title.Render("Recent messages"))
		for _, m := range sess.History {
			switch m.Role {
			case "user":
				fmt.Println(styles.Prompt.Render("you> ") + m.Content)
			case "assistant":
				fmt.Println(styles.Assistant.Render("assistant> ") + m.Content)
			default:
				fmt.Printf("%s> %s\n", m.Role, m.Content)
			}
		}
	}
}

func runResetCommand(_ *cobra.Command, args []string) {
	client := newAPIClient(getServerBaseURL())

	if err := client.Reset(args[0]); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Session %s reset.\n", args[0])
}
