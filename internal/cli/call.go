package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Tandem/internal/call"
	"github.com/BioHazard786/Tandem/internal/config"
	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/media"
	"github.com/BioHazard786/Tandem/internal/signalclient"
	"github.com/BioHazard786/Tandem/internal/ui"
)

var (
	flagUserID             string
	flagSTUN               string
	flagTURN               string
	flagTURNUser           string
	flagTURNPass           string
	flagRelay              bool
	flagNoAutoRelay        bool
	flagNoAudio            bool
	flagNoVideo            bool
	flagSettleDelay        time.Duration
	flagNegotiationTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:     "call",
	Aliases: []string{"c"},
	Short:   "Find a random partner and start a call",
	Long: `Join the queue, wait for another person and start a video call with them.

Press Ctrl+C while searching to leave the queue. During the call press Esc
to hang up.

Examples:
  tandem call
  tandem call --server localhost:8080 --user alice
  tandem call --relay --turn turn.example.com --turn-user u --turn-pass p`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{
			Server:             flagServer,
			UserID:             flagUserID,
			STUNServer:         flagSTUN,
			TURNServer:         flagTURN,
			TURNUser:           flagTURNUser,
			TURNPass:           flagTURNPass,
			ForceRelay:         flagRelay,
			NoAutoRelay:        flagNoAutoRelay,
			SettleDelay:        flagSettleDelay,
			NegotiationTimeout: flagNegotiationTimeout,
		})
		if err != nil {
			return call.NewError("load config", err)
		}
		return startCall(cmd.Context(), cfg)
	},
}

func startCall(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	userID := cfg.UserID
	if userID == "" {
		userID = anonymousID()
	}
	wsURL, err := cfg.WebSocketURL(userID)
	if err != nil {
		return err
	}

	client, err := connect(ctx, wsURL, userID)
	if err != nil {
		return err
	}
	defer client.Close()

	room, err := search(ctx, client)
	if errors.Is(err, context.Canceled) {
		ui.PrintInfo("Search cancelled")
		return nil
	}
	if err != nil {
		return call.NewError("find match", err)
	}

	fmt.Println()
	fmt.Println(ui.RoomView(room, userID))
	fmt.Println()

	return runSession(ctx, cfg, client, room, userID)
}

func connect(ctx context.Context, wsURL, userID string) (*signalclient.Client, error) {
	sp := ui.NewConnectionSpinner("Connecting to server...")
	sp.Start()

	client, err := signalclient.Dial(ctx, wsURL, userID)
	if err != nil {
		sp.Stop()
		return nil, call.NewError("connect to server", err)
	}

	count, err := client.OnlineCount(ctx)
	if err != nil {
		sp.Stop()
		client.Close()
		return nil, call.NewError("connect to server", err)
	}
	sp.Success(fmt.Sprintf("Connected as %s (%d online)", userID, count))
	return client, nil
}

func search(ctx context.Context, client *signalclient.Client) (matchmaking.Room, error) {
	searchCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sp := ui.NewSearchSpinner("Looking for someone to talk to...")
	sp.Start()
	defer sp.Stop()

	return client.FindMatch(searchCtx, func() {
		sp.UpdateMessage("Waiting in the queue (Ctrl+C to leave)...")
	})
}

func runSession(ctx context.Context, cfg *config.Config, client *signalclient.Client, room matchmaking.Room, userID string) error {
	api, err := call.NewAPI(call.APIOptions{Logger: slog.Default()})
	if err != nil {
		return err
	}

	transport := client.Room(room)
	defer transport.Close()

	session, err := call.NewSession(call.SessionOptions{
		Room:      room,
		Self:      userID,
		Transport: transport,
		API:       api,
		WebRTC:    cfg.WebRTC(),
		Media: func() (media.Source, error) {
			return media.NewSynthetic(media.Options{Audio: !flagNoAudio, Video: !flagNoVideo})
		},
		SettleDelay:        cfg.SettleDelay,
		NegotiationTimeout: cfg.NegotiationTimeout,
	})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	model, err := ui.RunCallScreen(ui.SessionController(session), room, userID)
	if err != nil {
		session.Hangup()
	}
	callErr := <-runErr

	fmt.Println()
	fmt.Println(ui.CallSummaryView(model.Summary()))
	if callErr != nil {
		return callErr
	}
	return err
}

func anonymousID() string {
	return "guest-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&flagUserID, "user", "u", "", "User ID (default: random guest ID)")
	callCmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server URLs, comma separated")
	callCmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server host")
	callCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	callCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	callCmd.Flags().BoolVar(&flagRelay, "relay", false, "Force relay mode through TURN")
	callCmd.Flags().BoolVar(&flagNoAutoRelay, "no-auto-relay", false, "Do not switch to relay mode on VPN or CGNAT networks")
	callCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Join without a microphone track")
	callCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Join without a camera track")
	callCmd.Flags().DurationVar(&flagSettleDelay, "settle-delay", 0, "Wait before sending the offer (default 2s)")
	callCmd.Flags().DurationVar(&flagNegotiationTimeout, "negotiation-timeout", 0, "Give up if the call is not connected in time (default 30s)")
}
