// feederctl - Feeder Command-Line Client
//
// feederctl talks to a running feederd over MQTT: inspect the retained
// device status, drive outputs, trigger and follow feed cycles, and
// watch the live event stream. It connects straight to the broker so
// it works from any machine that can reach it, daemon co-located or
// not.
//
//	feederctl status
//	feederctl control led on
//	feederctl control auger pwm 180
//	feederctl feed medium
//	feederctl feed 75 --follow
//	feederctl stop
//	feederctl watch
package main

import (
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Persistent connection flags.
var (
	flagBroker   string
	flagUsername string
	flagPassword string
	flagClientID string
	flagTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "feederctl",
	Short: "Control and observe a pond feeder over MQTT",
	Long: `feederctl is the command-line client for the pond feeder daemon.

It publishes control messages and subscribes to status and event
topics on the MQTT broker the daemon is connected to. Credentials can
also come from the environment: FEEDER_MQTT_USERNAME and
FEEDER_MQTT_PASSWORD.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagBroker, "broker", "b", "tcp://localhost:1883", "MQTT broker URL")
	pf.StringVarP(&flagUsername, "username", "u", "", "MQTT username")
	pf.StringVarP(&flagPassword, "password", "p", "", "MQTT password")
	pf.StringVar(&flagClientID, "client-id", "", "MQTT client ID (random by default)")
	pf.DurationVar(&flagTimeout, "timeout", 10*time.Second, "operation timeout")
}

// connect dials the broker and blocks until the session is up.
func connect() (pahomqtt.Client, error) {
	clientID := flagClientID
	if clientID == "" {
		clientID = "feederctl-" + uuid.NewString()[:8]
	}
	username := flagUsername
	if username == "" {
		username = os.Getenv("FEEDER_MQTT_USERNAME")
	}
	password := flagPassword
	if password == "" {
		password = os.Getenv("FEEDER_MQTT_PASSWORD")
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(flagBroker).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetConnectTimeout(flagTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(flagTimeout) {
		return nil, fmt.Errorf("connecting to %s: timed out after %s", flagBroker, flagTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", flagBroker, err)
	}
	return client, nil
}

// publish sends one message and waits for broker acknowledgement.
func publish(client pahomqtt.Client, topic string, payload []byte) error {
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(flagTimeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	return token.Error()
}

// subscribe registers a handler and waits for the broker to confirm.
func subscribe(client pahomqtt.Client, topic string, handler pahomqtt.MessageHandler) error {
	token := client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(flagTimeout) {
		return fmt.Errorf("subscribing to %s: timed out", topic)
	}
	return token.Error()
}
