package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/config"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/clients"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/ingress"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/lobby"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/state"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/stores"

	"github.com/rs/zerolog/log"
)

func serveCommand(configs []string) error {
	conf, err := config.Process(configs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load server configuration")
	}

	settings := conf.Server

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := sim.NewRegistry()
	registry.Register(lobby.GAME_OVERCOOKED, sim.NewKitchen)
	registry.Register(lobby.GAME_TUTORIAL, sim.NewKitchen)

	manager := sessions.NewManager(ctx, registry, sessions.Settings{
		TickRate:     settings.FPS,
		MaxGames:     settings.MaxGames,
		MaxGameTime:  settings.MaxGameTime,
		ResetTimeout: time.Duration(settings.ResetTimeout) * time.Millisecond,
	})

	if settings.Database.Enabled {
		store, err := stores.NewTrajectoryStore(settings.Database.Path)
		if err != nil {
			return err
		}
		manager.Trajectories = store
		log.Info().Str("path", settings.Database.Path).Msg("recording trajectories")
	}

	if settings.Redis.Enabled {
		manager.Summaries = state.NewService(settings.Redis)
		log.Info().Str("address", settings.Redis.Address).Msg("publishing game summaries")
	}

	connections := clients.NewRegistry()
	matchmaker := lobby.NewMatchmaker(
		manager,
		time.Duration(settings.LobbyWaitTimeout)*time.Second,
	)
	go matchmaker.Poll(ctx)

	go func() {
		subscriber := manager.Results().Subscribe()
		defer subscriber.Done()

		for {
			select {
			case result := <-subscriber.Recv():
				log.Info().
					Str("session", result.SessionID).
					Str("status", result.Status).
					Int("score", result.Score).
					Dur("duration", result.Duration).
					Msg("game over")
			case <-ctx.Done():
				return
			}
		}
	}()

	wsIngress := ingress.NewWSIngress(connections, matchmaker, settings)

	errc := make(chan error, 1)
	go func() {
		errc <- wsIngress.Serve(ctx, settings.Port)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	signal.Notify(sigs, syscall.SIGTERM)

	select {
	case err := <-errc:
		log.Printf("failed to serve: %v", err)
	case sig := <-sigs:
		log.Printf("terminating: %v", sig)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	wsIngress.Shutdown(shutdownCtx)
	manager.Shutdown()

	return nil
}
