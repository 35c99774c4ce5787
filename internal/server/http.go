package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/prover"
)

const maxBody = 1 << 20

// ProofVerifier checks a backend proof against the record it claims to prove.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, rec proofrec.Record, p prover.Proof) (bool, error)
}

// HTTPDeps is what the HTTP router serves from. Forwarder, Verifier and
// Gatherer may be nil.
type HTTPDeps struct {
	Store      ledger.Store
	Dispatcher *dispatch.Dispatcher
	Forwarder  Forwarder
	Verifier   ProofVerifier
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

type verifyProofRequest struct {
	Record          json.RawMessage `json:"record"`
	Proof           string          `json:"proof"`
	VerificationKey string          `json:"verification_key"`
}

// NewRouter mounts health, metrics, ledger reads, invocations and proof
// verification.
func NewRouter(deps HTTPDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"mode":   deps.Dispatcher.Mode(),
			"binder": deps.Dispatcher.Binder().Name(),
		})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(api chi.Router) {
		lookup := func(w http.ResponseWriter, id ledger.Identity) {
			e, err := deps.Store.Get(id)
			if err != nil {
				log.Error("entry lookup failed", "identity", id.Hex(), "error", err)
				writeError(w, http.StatusInternalServerError, string(dispatch.KindInternal), err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"identity": id, "entry": e})
		}

		// /entries?address=<wallet> derives the identity from a wallet address
		api.Get("/entries", func(w http.ResponseWriter, r *http.Request) {
			addr := strings.TrimSpace(r.URL.Query().Get("address"))
			if addr == "" {
				writeError(w, http.StatusBadRequest, string(dispatch.KindShape), "address query parameter is required")
				return
			}
			lookup(w, ledger.IdentityFromAddress(addr))
		})

		api.Get("/entries/{identity}", func(w http.ResponseWriter, r *http.Request) {
			id, err := ledger.ParseIdentity(chi.URLParam(r, "identity"))
			if err != nil {
				writeError(w, http.StatusBadRequest, string(dispatch.KindShape), err.Error())
				return
			}
			lookup(w, id)
		})

		api.Get("/model-hash", func(w http.ResponseWriter, r *http.Request) {
			h, err := deps.Store.ModelHash()
			if err == nil {
				var v uint64
				if v, err = deps.Store.ModelVersion(); err == nil {
					writeJSON(w, http.StatusOK, map[string]any{"model_hash": h, "version": v})
					return
				}
			}
			log.Error("model hash lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, string(dispatch.KindInternal), err.Error())
		})

		api.Post("/verify-proof", func(w http.ResponseWriter, r *http.Request) {
			if deps.Verifier == nil {
				writeError(w, http.StatusServiceUnavailable, string(dispatch.KindInternal), "no proving backend configured")
				return
			}
			var req verifyProofRequest
			if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, string(dispatch.KindShape), err.Error())
				return
			}
			rec, err := proofrec.Decode(req.Record)
			if err != nil {
				writeError(w, http.StatusBadRequest, string(dispatch.KindShape), err.Error())
				return
			}
			hash, err := proofrec.Hash(rec)
			if err != nil {
				writeError(w, http.StatusBadRequest, string(dispatch.KindShape), err.Error())
				return
			}
			ok, err := deps.Verifier.VerifyProof(r.Context(), rec, prover.Proof{Proof: req.Proof, VerificationKey: req.VerificationKey})
			switch {
			case errors.Is(err, prover.ErrNotProvable), errors.Is(err, prover.ErrEmptyProof):
				writeError(w, http.StatusUnprocessableEntity, string(dispatch.KindShape), err.Error())
				return
			case err != nil:
				log.Error("proof verification failed", "record_hash", hash, "error", err)
				writeError(w, http.StatusBadGateway, string(dispatch.KindInternal), err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"record_hash": hash, "is_valid": ok})
		})

		api.Post("/invoke/{op}", func(w http.ResponseWriter, r *http.Request) {
			op := chi.URLParam(r, "op")
			raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, string(dispatch.KindShape), err.Error())
				return
			}
			rec, callErr := deps.Dispatcher.Invoke(op, raw)
			if callErr != nil && dispatch.KindOf(callErr) == dispatch.KindInternal {
				log.Error("dispatch failed", "op", op, "error", callErr)
				writeError(w, http.StatusInternalServerError, string(dispatch.KindInternal), callErr.Error())
				return
			}
			if deps.Forwarder != nil {
				_ = deps.Forwarder.Forward(r.Context(), rec)
			}
			hash, err := proofrec.Hash(rec)
			if err != nil {
				writeError(w, http.StatusInternalServerError, string(dispatch.KindInternal), err.Error())
				return
			}
			body := map[string]any{"record": rec, "record_hash": hash}
			code := http.StatusOK
			if callErr != nil {
				body["error"] = map[string]any{"kind": dispatch.KindOf(callErr), "message": callErr.Error()}
				code = statusFor(dispatch.KindOf(callErr))
			}
			writeJSON(w, code, body)
		})
	})

	return r
}

func statusFor(k dispatch.Kind) int {
	switch k {
	case dispatch.KindUnauthorized:
		return http.StatusForbidden
	case dispatch.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"kind": code, "message": message}})
}
