package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
)

var (
	feedFollow  bool
	feedTimeout time.Duration
)

var feedCmd = &cobra.Command{
	Use:   "feed [amount]",
	Short: "Trigger a feed cycle",
	Long: `Starts a feed cycle. The amount is a preset name (small, medium,
large) or a gram count; without an argument the small preset is used.

With --follow, progress events are streamed until the cycle completes.`,
	Example: `  feederctl feed
  feederctl feed medium
  feederctl feed 75 --follow`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().BoolVarP(&feedFollow, "follow", "f", false, "stream progress until the cycle finishes")
	feedCmd.Flags().DurationVar(&feedTimeout, "feed-timeout", 5*time.Minute, "how long to follow before giving up")
	rootCmd.AddCommand(feedCmd)
}

// feedEvent mirrors the daemon's feed cycle events.
type feedEvent struct {
	Type           string  `json:"type"`
	SessionID      string  `json:"session_id"`
	TargetGrams    float64 `json:"target_g,omitempty"`
	DispensedGrams float64 `json:"dispensed_g,omitempty"`
	ProgressPct    float64 `json:"progress_pct,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	DurationMS     int64   `json:"duration_ms,omitempty"`
}

func runFeed(_ *cobra.Command, args []string) error {
	amount := "small"
	if len(args) == 1 {
		amount = args[0]
	}
	switch amount {
	case "small", "medium", "large":
	default:
		if _, err := strconv.ParseFloat(amount, 64); err != nil {
			return fmt.Errorf("amount %q is neither a preset nor a gram count", amount)
		}
	}

	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	events := make(chan feedEvent, 16)
	err = subscribe(client, mqtt.Topics{}.FeedEvents(), func(_ pahomqtt.Client, m pahomqtt.Message) {
		var ev feedEvent
		if json.Unmarshal(m.Payload(), &ev) == nil {
			select {
			case events <- ev:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	if err := publish(client, mqtt.Topics{}.Command(), []byte("FEED:"+amount)); err != nil {
		return err
	}

	// Wait for the cycle to start; a rejection comes back as an
	// immediate complete event.
	deadline := time.After(flagTimeout)
	var sessionID string
	for sessionID == "" {
		select {
		case ev := <-events:
			switch ev.Type {
			case "started":
				sessionID = ev.SessionID
				fmt.Printf("%s session %s, target %.0fg\n",
					okStyle.Render("feed started"), ev.SessionID, ev.TargetGrams)
			case "complete":
				return fmt.Errorf("feed did not start: %s", ev.Reason)
			}
		case <-deadline:
			return fmt.Errorf("no feed response after %s", flagTimeout)
		}
	}

	if !feedFollow {
		return nil
	}

	quiet := time.After(feedTimeout)
	for {
		select {
		case ev := <-events:
			if ev.SessionID != sessionID {
				continue
			}
			switch ev.Type {
			case "progress":
				fmt.Printf("  %s %.0f/%.0fg (%.0f%%)\n",
					dimStyle.Render("dispensing"), ev.DispensedGrams, ev.TargetGrams, ev.ProgressPct)
			case "complete":
				if ev.Reason == "target_reached" || ev.Reason == "" {
					fmt.Printf("%s %.0fg in %.1fs\n",
						okStyle.Render("✓ feed complete"),
						ev.DispensedGrams,
						float64(ev.DurationMS)/1000)
					return nil
				}
				return fmt.Errorf("feed ended early after %.0fg: %s", ev.DispensedGrams, ev.Reason)
			}
		case <-quiet:
			return fmt.Errorf("feed still running after %s, giving up the follow", feedTimeout)
		}
	}
}
