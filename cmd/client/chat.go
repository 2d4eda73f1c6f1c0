package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/npezzotti/go-chatroom-client/internal/api"
	"github.com/npezzotti/go-chatroom-client/internal/chat"
	"github.com/npezzotti/go-chatroom-client/internal/realtime"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/npezzotti/go-chatroom-client/internal/ui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat room",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statsUpdater := stats.NewStatsUpdater()
	statsUpdater.Run()
	defer statsUpdater.Stop()

	var debugSrv *http.Server
	if a.cfg.DebugAddr != "" {
		mux := http.NewServeMux()
		statsUpdater.Mount(mux)
		debugSrv = &http.Server{Addr: a.cfg.DebugAddr, Handler: mux}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("debug server")
			}
		}()
		a.log.Info().Str("addr", a.cfg.DebugAddr).Msg("debug server listening")
	}

	client := api.NewClient(a.cfg.ServerURL, a.sess, a.log, statsUpdater)
	ch := realtime.NewChannel(a.cfg.WebsocketURL(), a.sess, a.log, statsUpdater)

	if _, ok := a.sess.Credential(); ok {
		connectCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		if err := ch.Connect(connectCtx); err != nil {
			a.log.Error().Err(err).Msg("connect channel")
		}
		cancel()
	}

	room := chat.NewRoom(a.cfg.RoomId, client, ch, a.sess, a.log, statsUpdater)

	roomCtx, cancelRoom := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		room.Run(roomCtx)
	}()
	go func() {
		defer wg.Done()
		if err := room.Mount(roomCtx); err != nil {
			a.log.Warn().Err(err).Msg("mount room")
		}
	}()

	p := tea.NewProgram(ui.NewModel(ctx, room, a.log, ui.Options{}), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}

	room.Unmount()

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.Close(); err != nil {
		a.log.Error().Err(err).Msg("channel close")
	}
	// statsUpdater must outlive the room goroutines
	cancelRoom()
	wg.Wait()

	if debugSrv != nil {
		if err := debugSrv.Shutdown(shutDownCtx); err != nil {
			a.log.Error().Err(err).Msg("debug server shutdown")
		}
	}

	a.log.Info().Msg("shutdown complete")
	return runErr
}
