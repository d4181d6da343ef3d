package slackbot

import (
	"context"
	"fmt"
	"strings"

	"insightpipe/internal/domain"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// Poster is the part of *slack.Client the notifier needs.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts one message per created ticket to a channel.
type Notifier struct {
	api     Poster
	channel string
	log     *logrus.Entry
}

func NewNotifier(api Poster, channelID string, log *logrus.Entry) *Notifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Notifier{api: api, channel: channelID, log: log.WithField("component", "slack")}
}

func (n *Notifier) TicketCreated(ctx context.Context, ticket domain.Ticket, o domain.Outcome) error {
	text := formatTicketMessage(ticket, o)
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(ticketBlocks(ticket, o)...),
	)
	if err != nil {
		return fmt.Errorf("posting ticket %s to slack: %w", ticket.ID, err)
	}
	n.log.WithFields(logrus.Fields{"ticket_id": ticket.ID, "channel": n.channel, "ts": ts}).Info("ticket announced")
	return nil
}

func formatTicketMessage(ticket domain.Ticket, o domain.Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New ticket for %s: %s\n", ticket.OrgID, ticket.ClusterLabel)
	fmt.Fprintf(&sb, "%s\n", ticket.Recommendation.Recommendation)
	fmt.Fprintf(&sb, "Impact: %s, urgency: %s. %d insights, %d%% negative.",
		ticket.Recommendation.Impact, ticket.Recommendation.Urgency, o.ClusterSize, o.NegativePercentage)
	return sb.String()
}

func ticketBlocks(ticket domain.Ticket, o domain.Outcome) []slack.Block {
	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, "New ticket: "+ticket.ClusterLabel, false, false),
	)
	body := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*%s*\n%s", ticket.Recommendation.Recommendation, ticket.Recommendation.ClusterSummary),
			false, false),
		[]*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, "*Impact:* "+string(ticket.Recommendation.Impact), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, "*Urgency:* "+string(ticket.Recommendation.Urgency), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Insights:* %d", o.ClusterSize), false, false),
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Negative:* %d%%", o.NegativePercentage), false, false),
		},
		nil,
	)
	footer := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("org `%s` · ticket `%s`", ticket.OrgID, ticket.ID), false, false),
	)
	return []slack.Block{header, body, footer}
}
