// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package bot implements a Slack bot that answers questions about the frames
// of a troop dataset and the state of the shared player.
package bot

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Config is the configuration for the Slack bot.
type Config struct {
	Debug bool                 // log Slack protocol traffic
	Logf  func(string, ...any) // default: log.Printf

	// Tokens default to $SLACK_APP_TOKEN and $SLACK_BOT_TOKEN.
	AppToken string // xapp-...
	BotToken string // xoxb-...

	// Source answers questions about the dataset (required).
	Source Source
}

// SlackBot answers app mentions and slash commands over Socket Mode.
type SlackBot struct {
	src    Source
	logf   func(string, ...any)
	api    *slack.Client
	client *socketmode.Client
}

// NewSlackBot checks config and returns a bot ready to Run.
func NewSlackBot(config *Config) (*SlackBot, error) {
	if config.Source == nil {
		return nil, errors.New("no Source is set")
	}
	appToken, err := token(config.AppToken, "SLACK_APP_TOKEN", "xapp-")
	if err != nil {
		return nil, err
	}
	botToken, err := token(config.BotToken, "SLACK_BOT_TOKEN", "xoxb-")
	if err != nil {
		return nil, err
	}

	logf := config.Logf
	if logf == nil {
		logf = log.Printf
	}
	api := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
		slack.OptionDebug(config.Debug),
		slack.OptionLog(log.New(os.Stderr, "slack: ", log.LstdFlags)),
	)
	return &SlackBot{
		src:  config.Source,
		logf: logf,
		api:  api,
		client: socketmode.New(api,
			socketmode.OptionDebug(config.Debug),
			socketmode.OptionLog(log.New(os.Stderr, "socketmode: ", log.LstdFlags)),
		),
	}, nil
}

// token returns v, or the value of env if v is empty, after checking that it
// has the given prefix.
func token(v, env, prefix string) (string, error) {
	if v == "" {
		v = os.Getenv(env)
	}
	switch {
	case v == "":
		return "", fmt.Errorf("%s must be set", env)
	case !strings.HasPrefix(v, prefix):
		return "", fmt.Errorf("%s must have the prefix %q", env, prefix)
	}
	return v, nil
}

// Run connects to Slack and serves events until the connection fails for
// good.
func (b *SlackBot) Run() error {
	go func() {
		for evt := range b.client.Events {
			b.handle(evt)
		}
	}()
	return b.client.Run()
}

func (b *SlackBot) handle(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		b.logf("Slack bot connected")
	case socketmode.EventTypeConnectionError:
		b.logf("WARNING: Slack connection failed: %v (retrying)", evt.Data)

	case socketmode.EventTypeEventsAPI:
		b.client.Ack(*evt.Request)
		if ev, ok := evt.Data.(slackevents.EventsAPIEvent); ok && ev.Type == slackevents.CallbackEvent {
			b.callback(ev.InnerEvent)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			b.client.Ack(*evt.Request)
			return
		}
		text := slack.NewTextBlockObject(slack.MarkdownType, Reply(b.src, cmd.Text), false, false)
		b.client.Ack(*evt.Request, map[string]any{
			"blocks": []slack.Block{slack.NewSectionBlock(text, nil, nil)},
		})

	case socketmode.EventTypeInteractive:
		b.client.Ack(*evt.Request)
	}
}

// callback answers mentions of the bot, in the thread they were made in.
func (b *SlackBot) callback(inner slackevents.EventsAPIInnerEvent) {
	ev, ok := inner.Data.(*slackevents.AppMentionEvent)
	if !ok {
		return
	}
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	_, _, err := b.api.PostMessage(ev.Channel,
		slack.MsgOptionText(Reply(b.src, ev.Text), false),
		slack.MsgOptionTS(thread),
	)
	if err != nil {
		b.logf("WARNING: replying to %s in %s: %v (continuing)", ev.User, ev.Channel, err)
	}
}
