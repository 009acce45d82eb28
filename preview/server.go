// Package preview serves the privacy-safe display stream to local monitors
// as MJPEG over HTTP. Read-only: it never touches pipeline state.
package preview

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/hybridgroup/mjpeg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// jpegQuality balances preview bandwidth against readability.
const jpegQuality = 80

// Server streams display frames at /stream.
type Server struct {
	stream *mjpeg.Stream
	srv    *http.Server
	log    zerolog.Logger
}

// NewServer creates a preview server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	stream := mjpeg.NewStream()
	mux := http.NewServeMux()
	mux.Handle("/stream", stream)

	return &Server{
		stream: stream,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.With().Str("component", "preview").Logger(),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("preview stream listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("preview server stopped")
		}
	}()
}

// Update publishes a new display frame to all connected viewers.
func (s *Server) Update(img image.Image) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode preview frame")
		return
	}
	s.stream.UpdateJPEG(buf.Bytes())
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
