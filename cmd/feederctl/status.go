package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current device status",
	Long: `Reads the retained status snapshot the daemon keeps on the broker:
link state, actuator states, the latest sensor reading, and any
running feed cycle.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw snapshot JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// The snapshot is retained, so it arrives immediately after
	// subscribing when a daemon has ever been connected.
	msgs := make(chan pahomqtt.Message, 1)
	err = subscribe(client, mqtt.Topics{}.Status(), func(_ pahomqtt.Client, m pahomqtt.Message) {
		select {
		case msgs <- m:
		default:
		}
	})
	if err != nil {
		return err
	}

	var payload []byte
	select {
	case m := <-msgs:
		payload = m.Payload()
	case <-time.After(flagTimeout):
		return fmt.Errorf("no status on %s after %s: is the daemon running?", flagBroker, flagTimeout)
	}

	if statusJSON {
		fmt.Println(string(payload))
		return nil
	}

	var snap device.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("parsing status snapshot: %w", err)
	}

	printSnapshot(snap)
	return nil
}

func printSnapshot(snap device.Snapshot) {
	fmt.Println(titleStyle.Render("Feeder " + snap.DeviceID))

	online := errStyle.Render("OFFLINE")
	if snap.Online {
		online = okStyle.Render("online")
	}
	fmt.Println(row("Link", online))
	if !snap.LastSeen.IsZero() {
		fmt.Println(row("Last seen", snap.LastSeen.Local().Format(time.RFC3339)))
	}

	if snap.FeedActive {
		fmt.Println(row("Feed cycle", warnStyle.Render("RUNNING")+dimStyle.Render(" ("+snap.FeedSessionID+")")))
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Outputs"))
	targets := make([]string, 0, len(snap.Actuators))
	for t := range snap.Actuators {
		targets = append(targets, string(t))
	}
	sort.Strings(targets)
	for _, t := range targets {
		st := snap.Actuators[device.Target(t)]
		v := onOff(st.On)
		if st.On && st.PWM > 0 {
			v += dimStyle.Render(fmt.Sprintf(" pwm=%d", st.PWM))
		}
		if st.On && st.Direction != "" && st.Direction != device.DirectionNone {
			v += dimStyle.Render(" " + string(st.Direction))
		}
		fmt.Println(row(t, v))
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Sensors"))
	if snap.Reading == nil {
		fmt.Println(dimStyle.Render("no reading yet"))
		return
	}
	if snap.SensorsStale {
		fmt.Println(warnStyle.Render("reading is stale"))
	}
	r := snap.Reading
	printSensor("Hopper temp", r.FeedTempC, "%.1f °C")
	printSensor("Hopper humidity", r.FeedHumidityPct, "%.0f %%")
	printSensor("Box temp", r.ControlTempC, "%.1f °C")
	printSensor("Box humidity", r.ControlHumidityPct, "%.0f %%")
	printSensor("Feed weight", r.WeightKg, "%.3f kg")
	printSensor("Soil moisture", r.SoilMoisturePct, "%.0f %%")
	printSensor("Battery", r.BatteryPct, "%.0f %%")
	printSensor("Load", r.LoadVoltageV, "%.2f V")
	printSensor("Solar", r.SolarVoltageV, "%.2f V")
	if r.Charging != nil && *r.Charging {
		fmt.Println(row("Charging", okStyle.Render("yes")))
	}
}

// printSensor renders one optional reading; nil means the sensor
// failed and the line shows an error marker instead of a value.
func printSensor(label string, v *float64, format string) {
	if v == nil {
		fmt.Println(row(label, errStyle.Render("read failed")))
		return
	}
	fmt.Println(row(label, fmt.Sprintf(format, *v)))
}
