package main

import (
	"context"
	"os"
	"time"

	"gator-chat/simulator"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		jww.FATAL.Printf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	config := simulator.SimConfig{
		NumUsers:            10,
		SimulationTime:      10 * time.Minute,
		MessageFrequency:    120.0,
		ReadProbability:     0.8,
		ReactionProbability: 0.1,
		MaxFriends:          5,
		DisconnectRate:      0.01,
		ReconnectRate:       0.05,
		ZipfS:               1.07,
		AckTimeout:          5 * time.Second,
		EngineURL:           "http://localhost:8080",
	}
	var verbose bool

	cmd := &cobra.Command{
		Use:          "simulator",
		Short:        "Drive chat traffic against a running server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				jww.SetStdoutThreshold(jww.LevelDebug)
			} else {
				jww.SetStdoutThreshold(jww.LevelInfo)
			}

			jww.INFO.Printf("Starting simulation with configuration:")
			jww.INFO.Printf("- Engine URL: %s", config.EngineURL)
			jww.INFO.Printf("- Number of users: %d", config.NumUsers)
			jww.INFO.Printf("- Simulation time: %v", config.SimulationTime)
			jww.INFO.Printf("- Message frequency: %.2f messages/user/hour", config.MessageFrequency)
			jww.INFO.Printf("- Disconnect rate: %.2f", config.DisconnectRate)
			jww.INFO.Printf("- Reconnect rate: %.2f", config.ReconnectRate)
			jww.INFO.Printf("- Zipf parameter: %.2f", config.ZipfS)

			ctx, cancel := context.WithTimeout(cmd.Context(), config.SimulationTime)
			defer cancel()

			sim := simulator.NewSimulator(config)
			if err := sim.Run(ctx); err != nil {
				return err
			}

			m := sim.GetMetrics()
			jww.INFO.Printf("Simulation completed. Final metrics:")
			jww.INFO.Printf("- Total users: %d", m.TotalUsers)
			jww.INFO.Printf("- Messages: %d sent, %d acked, %d failed", m.MessagesSent, m.MessagesAcked, m.MessagesFailed)
			jww.INFO.Printf("- Receipts: %d delivered, %d read", m.Deliveries, m.ReadReceipts)
			jww.INFO.Printf("- Reactions: %d, reconnects: %d", m.Reactions, m.Reconnects)
			jww.INFO.Printf("- Error count: %d", m.ErrorCount)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&config.EngineURL, "url", config.EngineURL, "server base URL")
	f.IntVar(&config.NumUsers, "users", config.NumUsers, "number of simulated users")
	f.DurationVar(&config.SimulationTime, "duration", config.SimulationTime, "how long to run")
	f.Float64Var(&config.MessageFrequency, "message-frequency", config.MessageFrequency, "messages per user per hour")
	f.Float64Var(&config.ReadProbability, "read-probability", config.ReadProbability, "chance a received message is marked read")
	f.Float64Var(&config.ReactionProbability, "reaction-probability", config.ReactionProbability, "chance a received message gets a reaction")
	f.IntVar(&config.MaxFriends, "max-friends", config.MaxFriends, "upper bound of the Zipf friend count")
	f.Float64Var(&config.DisconnectRate, "disconnect-rate", config.DisconnectRate, "per-second chance a user disconnects")
	f.Float64Var(&config.ReconnectRate, "reconnect-rate", config.ReconnectRate, "per-second chance a user reconnects")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}
