// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slotfill

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/rules"
)

// choiceRetryAfter is the rejection count at which the re-ask switches from
// free phrasing to an enumerated choice. Two wrong answers in a row means
// the open question is not landing.
const choiceRetryAfter = 2

// askQuestion phrases the first-time question for a slot. A curated question
// from the rule file wins; otherwise a serviceable one is generated from the
// rule shape.
func askQuestion(slot string, rule *rules.Rule) string {
	if rule != nil && rule.Question != "" {
		return rule.Question
	}
	human := humanizeSlot(slot)
	if rule == nil {
		return fmt.Sprintf("Could you tell me the %s?", human)
	}
	switch rule.Type {
	case rules.TypeEnum:
		return fmt.Sprintf("Which %s would you like: %s?", human, orList(rule.Values))
	case rules.TypeSet:
		return fmt.Sprintf("Any %s you'd like — %s — or none?", human, strings.Join(rule.Values, ", "))
	case rules.TypeInteger:
		if rule.Unit != "" {
			return fmt.Sprintf("How many %s for the %s?", rule.Unit, human)
		}
		return fmt.Sprintf("What number should I put down for %s?", human)
	case rules.TypeAge:
		return "May I know your age?"
	case rules.TypeLocation:
		return fmt.Sprintf("Which country or region for the %s?", human)
	default:
		return fmt.Sprintf("Could you tell me the %s?", human)
	}
}

// reaskQuestion phrases the follow-up after a rejected answer. The first
// retry explains what was wrong with the value; from choiceRetryAfter
// onwards the question collapses to an explicit menu.
func reaskQuestion(slot string, rej *rules.Rejection, rule *rules.Rule, attempts int) string {
	if attempts >= choiceRetryAfter {
		if menu := choiceMenu(slot, rule); menu != "" {
			return menu
		}
	}

	human := humanizeSlot(slot)
	switch rej.Code {
	case rules.CodeEmpty:
		return fmt.Sprintf("I didn't catch a value for the %s — could you say it again?", human)
	case rules.CodeNotInEnum:
		return fmt.Sprintf("Sorry, %s. Which of these fits best for the %s: %s?",
			rej.Reason, human, orList(rule.Values))
	case rules.CodeNotInteger:
		return fmt.Sprintf("I need a number for the %s — %s. What should I put down?", human, rej.Reason)
	case rules.CodeOutOfRange:
		return fmt.Sprintf("That's outside what I can offer for the %s: %s. What value would you like?", human, rej.Reason)
	case rules.CodeBadFormat:
		return fmt.Sprintf("I couldn't quite use that for the %s: %s. Could you rephrase it?", human, rej.Reason)
	default:
		return fmt.Sprintf("Sorry, I couldn't use that answer for the %s. Could you try again?", human)
	}
}

// choiceMenu builds the enumerated-choice fallback question. Empty when the
// rule shape has no finite set of options to enumerate.
func choiceMenu(slot string, rule *rules.Rule) string {
	if rule == nil {
		return ""
	}
	human := humanizeSlot(slot)
	switch rule.Type {
	case rules.TypeEnum:
		var sb strings.Builder
		fmt.Fprintf(&sb, "Let me make the %s easier — please pick one:\n", human)
		for i, v := range rule.Values {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, v)
		}
		sb.WriteString("Just reply with the option that fits.")
		return sb.String()
	case rules.TypeSet:
		return fmt.Sprintf("Please pick from these %s (or say 'none'): %s.",
			human, strings.Join(rule.Values, ", "))
	case rules.TypeInteger, rules.TypeAge:
		if rule.Min != nil && rule.Max != nil {
			unit := rule.Unit
			if unit == "" {
				unit = "— just the number"
			}
			return fmt.Sprintf("Please give me a single number between %d and %d %s for the %s.",
				*rule.Min, *rule.Max, unit, human)
		}
		return ""
	default:
		return ""
	}
}

func humanizeSlot(slot string) string {
	return strings.ReplaceAll(slot, "_", " ")
}

func orList(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	case 2:
		return values[0] + " or " + values[1]
	default:
		return strings.Join(values[:len(values)-1], ", ") + ", or " + values[len(values)-1]
	}
}
