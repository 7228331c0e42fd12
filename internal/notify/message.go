package notify

import (
	"fmt"
	"strings"

	"leadflow/discovery-service/internal/model"
)

// excerptCap bounds the body text shown in an alert.
const excerptCap = 300

// Message is the block-structured webhook payload.
type Message struct {
	Blocks []Block `json:"blocks"`
}

// Block is one section of a Message. Exactly the fields relevant to its Type
// are populated.
type Block struct {
	Type     string   `json:"type"`
	Text     *Text    `json:"text,omitempty"`
	Fields   []Text   `json:"fields,omitempty"`
	Elements []Button `json:"elements,omitempty"`
}

// Text is a typed text object inside a block.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Button is an action element linking out of the alert.
type Button struct {
	Type string `json:"type"`
	Text Text   `json:"text"`
	URL  string `json:"url"`
}

// BuildMessage assembles the alert for a newly persisted lead: header,
// title + bounded excerpt, scored fields, matched-keyword context, and a
// button deep-linking to the original post.
func BuildMessage(lead *model.Lead, monitorName string) Message {
	excerpt := lead.Excerpt
	if r := []rune(excerpt); len(r) > excerptCap {
		excerpt = string(r[:excerptCap]) + "…"
	}

	msg := Message{
		Blocks: []Block{
			{
				Type: "header",
				Text: &Text{Type: "plain_text", Text: fmt.Sprintf("New %s-priority lead — %s", lead.Priority, monitorName)},
			},
			{
				Type: "section",
				Text: &Text{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", lead.Title, excerpt)},
			},
			{
				Type: "section",
				Fields: []Text{
					{Type: "mrkdwn", Text: fmt.Sprintf("*Score:* %d", lead.Score)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Priority:* %s", lead.Priority)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Board:* r/%s", lead.Board)},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Author:* u/%s", lead.Author)},
				},
			},
		},
	}

	if ctxText := keywordSummary(lead); ctxText != "" {
		msg.Blocks = append(msg.Blocks, Block{
			Type: "context",
			Text: &Text{Type: "mrkdwn", Text: ctxText},
		})
	}

	msg.Blocks = append(msg.Blocks, Block{
		Type: "actions",
		Elements: []Button{
			{
				Type: "button",
				Text: Text{Type: "plain_text", Text: "View post"},
				URL:  lead.Permalink,
			},
		},
	})

	return msg
}

func keywordSummary(lead *model.Lead) string {
	var parts []string
	if len(lead.MatchedHighIntent) > 0 {
		parts = append(parts, "intent: "+strings.Join(lead.MatchedHighIntent, ", "))
	}
	if len(lead.MatchedService) > 0 {
		parts = append(parts, "service: "+strings.Join(lead.MatchedService, ", "))
	}
	if len(lead.MatchedLocation) > 0 {
		parts = append(parts, "location: "+strings.Join(lead.MatchedLocation, ", "))
	}
	return strings.Join(parts, " · ")
}
