// Command player is a headless memematch client. It takes a seat over the
// lobby API, connects to the realtime store and plays with random choices.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"memematch/internal/app"
	"memematch/internal/bots"
	"memematch/internal/config"
	"memematch/internal/domain"
	httpTransport "memematch/internal/transport/http"
	"memematch/internal/transport/ws"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	lobby := flag.String("lobby", "", "lobby code to join; empty creates a lobby")
	name := flag.String("name", "", "display name (default: random)")
	addBots := flag.Int("bots", 0, "AI players to add when creating a lobby")
	start := flag.Bool("start", false, "start the game after creating the lobby")
	flag.Parse()

	cfg := config.Load()

	logOpts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var logger *slog.Logger
	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, logOpts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, logOpts))
	}
	slog.SetDefault(logger)

	if *name == "" {
		*name = fmt.Sprintf("Player %04d", rand.Intn(10000))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, options{
		server: *server,
		lobby:  *lobby,
		name:   *name,
		bots:   *addBots,
		start:  *start,
	}); err != nil {
		logger.Error("player stopped", "error", err)
		os.Exit(1)
	}
}

type options struct {
	server string
	lobby  string
	name   string
	bots   int
	start  bool
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options) error {
	api := httpTransport.NewClient(opts.server)

	seat, err := takeSeat(ctx, api, opts)
	if err != nil {
		return err
	}
	logger = logger.With("lobby", seat.LobbyCode, "playerID", seat.Player.ID)
	logger.Info("seated", "name", seat.Player.Name, "invite", seat.InviteLink)

	remote, err := ws.Dial(ctx, api.SocketURL(seat), logger)
	if err != nil {
		return err
	}
	defer remote.Close()

	views := make(chan app.View, 1)
	ctrl, err := app.NewController(app.Config{
		LobbyCode: seat.LobbyCode,
		UserID:    seat.Player.ID,
		Store:     remote,
		Bots:      bots.NewService(remote, logger).WithLatencyScale(cfg.Game.BotLatencyScale),
		Timings:   cfg.Game.Timings(),
		Logger:    logger,
		OnChange: func(v app.View) {
			// keep only the latest view
			select {
			case <-views:
			default:
			}
			views <- v
		},
	})
	if err != nil {
		return err
	}
	ctrl.Start(ctx)
	defer ctrl.Close()

	if opts.lobby == "" && opts.start {
		if err := api.StartGame(ctx, seat.LobbyCode, seat.Player.ID); err != nil {
			return err
		}
	}

	p := &autoPlayer{ctrl: ctrl, logger: logger, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for {
		select {
		case <-ctx.Done():
			if err := api.LeaveLobby(context.Background(), seat.LobbyCode, seat.Player.ID); err != nil {
				logger.Warn("leave lobby", "error", err)
			}
			return nil
		case v := <-views:
			if done := p.act(ctx, v); done {
				return nil
			}
		}
	}
}

func takeSeat(ctx context.Context, api *httpTransport.Client, opts options) (*httpTransport.LobbyResponse, error) {
	if opts.lobby != "" {
		return api.JoinLobby(ctx, opts.lobby, opts.name)
	}

	seat, err := api.CreateLobby(ctx, httpTransport.CreateLobbyRequest{Name: opts.name})
	if err != nil {
		return nil, err
	}
	difficulties := []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard}
	for i := 0; i < opts.bots; i++ {
		err := api.AddBot(ctx, seat.LobbyCode, httpTransport.AddBotRequest{
			PlayerID:   seat.Player.ID,
			Difficulty: string(difficulties[i%len(difficulties)]),
		})
		if err != nil {
			return nil, err
		}
	}
	return seat, nil
}

// autoPlayer answers each view with at most one action
type autoPlayer struct {
	ctrl   *app.Controller
	logger *slog.Logger
	rng    *rand.Rand
	round  int
}

func (p *autoPlayer) act(ctx context.Context, v app.View) bool {
	if v.Loading || v.Game == nil {
		return false
	}

	var err error
	switch v.Phase() {
	case domain.PhaseTransition:
		err = p.ctrl.CompleteGameTransition(ctx)
	case domain.PhaseSubmission:
		if !v.HasSubmitted() && len(v.Hand) > 0 {
			card := v.Hand[p.rng.Intn(len(v.Hand))]
			err = p.ctrl.SubmitCard(ctx, card.ID)
		}
	case domain.PhaseVoting:
		if v.HasVoted() || v.HasAbstained() {
			break
		}
		var targets []string
		for id := range v.Game.Submissions {
			if v.CanVote(id) {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			err = p.ctrl.Abstain(ctx)
			break
		}
		sort.Strings(targets)
		err = p.ctrl.Vote(ctx, targets[p.rng.Intn(len(targets))])
	case domain.PhaseResults:
		if v.Game.RoundNumber != p.round {
			p.round = v.Game.RoundNumber
			for _, r := range v.Results() {
				p.logger.Info("round result", "round", p.round, "player", r.Name, "votes", r.VoteCount, "winner", r.IsWinner)
			}
		}
	case domain.PhaseGameOver:
		for _, pl := range v.Players {
			p.logger.Info("final score", "player", pl.Name, "score", pl.Score)
		}
		return true
	}
	if err != nil {
		p.logger.Warn("action failed", "phase", v.Phase(), "error", err)
	}
	return false
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
