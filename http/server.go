package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/watchtower-eth/slashing-protector/protector"
	"github.com/watchtower-eth/slashing-protector/protector/interchange"
)

type Server struct {
	logger    *zap.Logger
	protector protector.Protector
	router    *chi.Mux
}

func NewServer(logger *zap.Logger, protector protector.Protector) *Server {
	s := &Server{
		logger:    logger,
		protector: protector,
	}
	s.router = chi.NewRouter()
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(middleware.Logger)
	s.router.Use(render.SetContentType(render.ContentTypeJSON))
	s.router.Mount("/debug", middleware.Profiler())
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Route("/v1/{network}", func(r chi.Router) {
		r.Use(networkCtx)
		r.Route("/slashable", func(r chi.Router) {
			r.Post("/proposal", s.handleCheckProposal)
			r.Post("/attestation", s.handleCheckAttestation)
		})
		r.Get("/history/{pub_key}", s.handleHistory)
		r.Get("/interchange", s.handleExportInterchange)
		r.Post("/interchange", s.handleImportInterchange)
	})
	return s
}

func (s *Server) handleCheckProposal(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var request checkProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		render.JSON(w, r, &checkResponse{StatusCode: http.StatusBadRequest, Error: err.Error()})
		return
	}

	var resp checkResponse
	resp.Hash = hashOrZero(&request)
	defer func() {
		s.logger.Debug("CheckProposal",
			zap.Uint64("slot", uint64(request.Slot)),
			zap.String("pub_key", hex.EncodeToString(request.PubKey[:])),
			zap.Any("result", resp.Check),
			zap.String("error", resp.Error),
			zap.Duration("took", time.Since(start)),
		)
	}()

	if request.Slot == 0 {
		resp.StatusCode = http.StatusBadRequest
		resp.Error = "cannot propose at genesis slot"
		render.JSON(w, r, resp)
		return
	}

	var signingRoot *phase0.Root
	if request.SigningRoot != nil {
		root := request.SigningRoot.Phase0()
		signingRoot = &root
	}

	var err error
	resp.Check, err = s.protector.CheckProposal(
		r.Context(),
		networkFromContext(r.Context()),
		request.PubKey.Phase0(),
		request.GenesisRoot.Phase0(),
		request.Slot,
		signingRoot,
	)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		resp.Error = err.Error()
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleCheckAttestation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var request checkAttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.logger.Error("failed to decode checkAttestationRequest", zap.Error(err))
		render.JSON(w, r, &checkResponse{StatusCode: http.StatusBadRequest, Error: err.Error()})
		return
	}

	var resp checkResponse
	resp.Hash = hashOrZero(&request)
	defer func() {
		s.logger.Debug("CheckAttestation",
			zap.String("pub_key", hex.EncodeToString(request.PubKey[:])),
			zap.Uint64("source", uint64(request.Source)),
			zap.Uint64("target", uint64(request.Target)),
			zap.Any("result", resp.Check),
			zap.String("error", resp.Error),
			zap.Duration("took", time.Since(start)),
		)
	}()

	var signingRoot *phase0.Root
	if request.SigningRoot != nil {
		root := request.SigningRoot.Phase0()
		signingRoot = &root
	}

	var err error
	resp.Check, err = s.protector.CheckAttestation(
		r.Context(),
		networkFromContext(r.Context()),
		request.PubKey.Phase0(),
		request.GenesisRoot.Phase0(),
		request.Source,
		request.Target,
		signingRoot,
	)
	if err != nil {
		s.logger.Error("failed at CheckAttestation", zap.Any("request", request), zap.Error(err))
		resp.StatusCode = http.StatusInternalServerError
		resp.Error = err.Error()
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	pubKey, genesisRoot, ok := s.decodePubKeyAndGenesis(w, r)
	if !ok {
		return
	}

	history, err := s.protector.History(r.Context(), networkFromContext(r.Context()), pubKey, genesisRoot)
	if err != nil {
		s.logger.Error("failed to get history", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, history)
}

func (s *Server) handleExportInterchange(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := s.protector.Export(r.Context(), networkFromContext(r.Context()), format)
	if err != nil {
		s.logger.Error("failed to export interchange", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="interchange.json"`)
	if err := doc.Write(w); err != nil {
		s.logger.Error("failed to write interchange response", zap.Error(err))
	}
}

func (s *Server) handleImportInterchange(w http.ResponseWriter, r *http.Request) {
	doc, err := interchange.Parse(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.protector.Import(r.Context(), networkFromContext(r.Context()), doc); err != nil {
		s.logger.Error("failed to import interchange", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, struct {
		Imported int `json:"imported"`
	}{Imported: doc.Len()})
}

func (s *Server) decodePubKeyAndGenesis(w http.ResponseWriter, r *http.Request) (phase0.BLSPubKey, phase0.Root, bool) {
	var pubKey phase0.BLSPubKey
	b, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "pub_key"), "0x"))
	if err != nil || len(b) != len(pubKey) {
		http.Error(w, "invalid pub_key", http.StatusBadRequest)
		return pubKey, phase0.Root{}, false
	}
	copy(pubKey[:], b)

	var genesisRoot phase0.Root
	if q := r.URL.Query().Get("genesis_validators_root"); q != "" {
		g, err := hex.DecodeString(strings.TrimPrefix(q, "0x"))
		if err != nil || len(g) != len(genesisRoot) {
			http.Error(w, "invalid genesis_validators_root", http.StatusBadRequest)
			return pubKey, phase0.Root{}, false
		}
		copy(genesisRoot[:], g)
	}
	return pubKey, genesisRoot, true
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	pooler, ok := s.protector.(protector.ProtectorPooler)
	if !ok {
		http.Error(w, "not supported", http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"open_stores": pooler.Pool().Len(),
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ctxKey int

const networkCtxKey ctxKey = iota

func networkCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network := chi.URLParam(r, "network")
		if network == "" {
			http.Error(w, "network parameter is required", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), networkCtxKey, network)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func networkFromContext(ctx context.Context) string {
	return ctx.Value(networkCtxKey).(string)
}
