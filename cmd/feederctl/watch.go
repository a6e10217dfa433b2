package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
)

var watchAll bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events from the feeder",
	Long: `Subscribes to the feeder's event topics and prints each message as
it arrives, until interrupted. With --all, every feeder topic is
shown including status and sensor snapshots.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchAll, "all", "a", false, "watch every feeder topic, not just events")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	pattern := mqtt.Topics{}.AllEvents()
	if watchAll {
		pattern = mqtt.Topics{}.AllTopics()
	}

	err = subscribe(client, pattern, func(_ pahomqtt.Client, m pahomqtt.Message) {
		fmt.Printf("%s %s %s\n",
			dimStyle.Render(time.Now().Format("15:04:05")),
			titleStyle.Render(m.Topic()),
			string(m.Payload()))
	})
	if err != nil {
		return err
	}

	fmt.Println(dimStyle.Render("watching " + pattern + " (ctrl-c to stop)"))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return nil
}
