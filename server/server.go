// Package server assembles the HTTP surface around the memory engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/everlore/recall/internal/profile"
	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/server/memory"
	apiv1 "github.com/everlore/recall/server/router/api/v1"
)

// Server hosts the HTTP API and owns the background save queue's
// lifecycle.
type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
	memory     *memory.Service
	apiService *apiv1.APIV1Service
}

func NewServer(profile *profile.Profile, settingsMgr *settings.Manager, memoryService *memory.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	s := &Server{
		Profile:    profile,
		echoServer: e,
		memory:     memoryService,
		apiService: apiv1.NewAPIV1Service(profile, settingsMgr, memoryService),
	}
	s.apiService.Register(e)
	return s
}

// Start runs the HTTP listener and the save queue until ctx is
// cancelled, then shuts both down. The queue is drained after the
// listener stops so in-flight saves are not lost.
func (s *Server) Start(ctx context.Context) error {
	s.memory.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "addr", addr, "mode", s.Profile.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.echoServer.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echoServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.memory.Wait()
	return err
}
