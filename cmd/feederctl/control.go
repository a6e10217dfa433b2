package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
)

var controlCmd = &cobra.Command{
	Use:   "control <target> <action> [value]",
	Short: "Switch or drive one output",
	Long: `Publishes a control message for a single output and waits for the
device to acknowledge it.

Targets: led, fan, auger, blower, actuator
Actions: on, off, pwm <0-255>, forward, reverse, up, down, stop`,
	Example: `  feederctl control led on
  feederctl control auger pwm 180
  feederctl control actuator up
  feederctl control fan off`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runControl,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop every output immediately",
	Long: `Sends the emergency stop. Every motor and relay goes off and any
running feed cycle is interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return sendRaw("STOP:all")
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <token>",
	Short: "Send a raw protocol token",
	Long: `Publishes one protocol token verbatim for the daemon to validate and
relay. Useful for commands without a dedicated subcommand:

  feederctl send CAL:tare
  feederctl send CFG:feed_small_g:40
  feederctl send TIMING:sensors:5000`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return sendRaw(args[0])
	},
}

func init() {
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(sendCmd)
}

// controlMessage mirrors the JSON body the daemon accepts on control
// topics.
type controlMessage struct {
	ID     string   `json:"id"`
	Action string   `json:"action"`
	Value  *float64 `json:"value,omitempty"`
	Source string   `json:"source"`
}

// commandEvent mirrors the daemon's command outcome events.
type commandEvent struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func runControl(_ *cobra.Command, args []string) error {
	target := args[0]
	msg := controlMessage{
		ID:     "ctl-" + uuid.NewString()[:8],
		Action: args[1],
		Source: "cli",
	}
	if len(args) == 3 {
		v, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("value %q is not a number", args[2])
		}
		msg.Value = &v
	}

	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Subscribe before publishing so the outcome cannot slip past.
	events := make(chan commandEvent, 4)
	err = subscribe(client, mqtt.Topics{}.CommandEvents(), func(_ pahomqtt.Client, m pahomqtt.Message) {
		var ev commandEvent
		if json.Unmarshal(m.Payload(), &ev) == nil && ev.ID == msg.ID {
			select {
			case events <- ev:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := publish(client, mqtt.Topics{}.Control(target), payload); err != nil {
		return err
	}

	return waitOutcome(events)
}

// sendRaw publishes a raw token and reports the device's verdict.
func sendRaw(token string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Raw tokens have no client-chosen ID; match on the echoed token.
	events := make(chan commandEvent, 4)
	err = subscribe(client, mqtt.Topics{}.CommandEvents(), func(_ pahomqtt.Client, m pahomqtt.Message) {
		var ev commandEvent
		if json.Unmarshal(m.Payload(), &ev) == nil && ev.Token == token {
			select {
			case events <- ev:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	if err := publish(client, mqtt.Topics{}.Command(), []byte(token)); err != nil {
		return err
	}

	return waitOutcome(events)
}

// waitOutcome blocks for the command's terminal event and renders it.
func waitOutcome(events <-chan commandEvent) error {
	select {
	case ev := <-events:
		switch ev.Outcome {
		case "acked":
			fmt.Printf("%s %s %s\n",
				okStyle.Render("✓ acked"),
				ev.Token,
				dimStyle.Render(fmt.Sprintf("(%dms)", ev.LatencyMS)))
			return nil
		case "nakked":
			return fmt.Errorf("device rejected %s: %s", ev.Token, ev.Detail)
		case "dropped":
			return fmt.Errorf("command dropped: %s", ev.Detail)
		default:
			fmt.Printf("%s %s %s\n", warnStyle.Render(ev.Outcome), ev.Token, dimStyle.Render(ev.Detail))
			return nil
		}
	case <-time.After(flagTimeout):
		return fmt.Errorf("no acknowledgement after %s", flagTimeout)
	}
}
