package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flashbots/aggledger/crypto"
	"github.com/flashbots/aggledger/ledger"
	"github.com/flashbots/aggledger/metrics"
	"github.com/flashbots/aggledger/oracle"
)

// Encryptor is the optional encryption capability behind POST /encrypt.
type Encryptor interface {
	Encrypt(v *big.Int) (crypto.Ciphertext, error)
}

// LedgerHandlerConfig configures the ledger's HTTP surface.
type LedgerHandlerConfig struct {
	Log    *slog.Logger
	Ledger *ledger.Ledger

	// OracleIdentity is the only signer whose callbacks reach finalization.
	OracleIdentity crypto.PublicKey

	// Encryptor enables the /encrypt convenience endpoint. Optional.
	Encryptor Encryptor
}

// LedgerHandler exposes the ledger's operations as HTTP endpoints.
type LedgerHandler struct {
	cfg *LedgerHandlerConfig
}

// NewLedgerHandler creates the handler.
func NewLedgerHandler(cfg *LedgerHandlerConfig) (*LedgerHandler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if len(cfg.OracleIdentity) == 0 {
		return nil, errors.New("oracle identity cannot be empty")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &LedgerHandler{cfg: cfg}, nil
}

// RegisterRoutes registers the ledger endpoints with the router.
func (h *LedgerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/admin/transfer-ownership", h.handleTransferOwnership)
	r.Post("/admin/providers/add", h.handleAddProvider)
	r.Post("/admin/providers/remove", h.handleRemoveProvider)
	r.Post("/admin/pause", h.handlePause)
	r.Post("/admin/cooldown", h.handleCooldown)

	r.Post("/batches/open", h.handleOpenBatch)
	r.Post("/batches/close", h.handleCloseBatch)
	r.Post("/entries", h.handleSubmit)
	r.Post("/valuations", h.handleRequestValuation)
	r.Post("/oracle/callback", h.handleOracleCallback)

	r.Get("/status", h.handleStatus)
	r.Get("/batches/{id}", h.handleBatch)
	r.Get("/batches/{id}/entries", h.handleEntries)
	r.Get("/requests/{id}", h.handleRequest)

	if h.cfg.Encryptor != nil {
		r.Post("/encrypt", h.handleEncrypt)
	}
}

// recoverSigned decodes a signed envelope from the request body and returns
// the payload together with the signer's ledger address.
func recoverSigned[T any](r *http.Request) (*T, ledger.Address, error) {
	defer r.Body.Close()
	signed, err := crypto.DecodeMessage[crypto.Signed[T]](r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parse request: %w", err)
	}
	obj, signer, err := signed.Recover()
	if err != nil {
		return nil, "", fmt.Errorf("recover signer: %w", err)
	}
	return obj, ledger.Address(signer.String()), nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotProvider):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrPaused),
		errors.Is(err, ledger.ErrInvalidBatch),
		errors.Is(err, ledger.ErrBatchClosed),
		errors.Is(err, ledger.ErrReplay),
		errors.Is(err, ledger.ErrStateMismatch):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidProof),
		errors.Is(err, ledger.ErrCiphertextNotInitialized):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *LedgerHandler) httpError(w http.ResponseWriter, endpoint string, err error, status int) {
	metrics.RequestErrorsTotal.WithLabelValues(endpoint).Inc()
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *LedgerHandler) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[TransferOwnershipRequest](r)
	if err != nil {
		h.httpError(w, "transfer-ownership", err, http.StatusBadRequest)
		return
	}
	if err := h.cfg.Ledger.TransferOwnership(caller, ledger.Address(req.NewOwner)); err != nil {
		h.httpError(w, "transfer-ownership", err, statusForError(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (h *LedgerHandler) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[ProviderRequest](r)
	if err != nil {
		h.httpError(w, "providers-add", err, http.StatusBadRequest)
		return
	}
	if err := h.cfg.Ledger.AddProvider(caller, ledger.Address(req.Provider)); err != nil {
		h.httpError(w, "providers-add", err, statusForError(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (h *LedgerHandler) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[ProviderRequest](r)
	if err != nil {
		h.httpError(w, "providers-remove", err, http.StatusBadRequest)
		return
	}
	if err := h.cfg.Ledger.RemoveProvider(caller, ledger.Address(req.Provider)); err != nil {
		h.httpError(w, "providers-remove", err, statusForError(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (h *LedgerHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[PauseRequest](r)
	if err != nil {
		h.httpError(w, "pause", err, http.StatusBadRequest)
		return
	}
	if err := h.cfg.Ledger.SetPaused(caller, req.Paused); err != nil {
		h.httpError(w, "pause", err, statusForError(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (h *LedgerHandler) handleCooldown(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[CooldownRequest](r)
	if err != nil {
		h.httpError(w, "cooldown", err, http.StatusBadRequest)
		return
	}
	cooldown := time.Duration(req.CooldownSeconds) * time.Second
	if err := h.cfg.Ledger.SetCooldown(caller, cooldown); err != nil {
		h.httpError(w, "cooldown", err, statusForError(err))
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

func (h *LedgerHandler) handleOpenBatch(w http.ResponseWriter, r *http.Request) {
	_, caller, err := recoverSigned[BatchRequest](r)
	if err != nil {
		h.httpError(w, "batches-open", err, http.StatusBadRequest)
		return
	}
	id, err := h.cfg.Ledger.OpenBatch(caller)
	if err != nil {
		h.httpError(w, "batches-open", err, statusForError(err))
		return
	}
	writeJSON(w, &BatchResponse{BatchID: id})
}

func (h *LedgerHandler) handleCloseBatch(w http.ResponseWriter, r *http.Request) {
	_, caller, err := recoverSigned[BatchRequest](r)
	if err != nil {
		h.httpError(w, "batches-close", err, http.StatusBadRequest)
		return
	}
	id := h.cfg.Ledger.CurrentBatchID()
	if err := h.cfg.Ledger.CloseBatch(caller); err != nil {
		h.httpError(w, "batches-close", err, statusForError(err))
		return
	}
	writeJSON(w, &BatchResponse{BatchID: id})
}

func (h *LedgerHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[SubmitEntryRequest](r)
	if err != nil {
		h.httpError(w, "entries", err, http.StatusBadRequest)
		return
	}

	value, err := crypto.NewCiphertextFromString(req.Value)
	if err != nil {
		h.httpError(w, "entries", fmt.Errorf("parse value: %w", err), http.StatusBadRequest)
		return
	}
	weight, err := crypto.NewCiphertextFromString(req.Weight)
	if err != nil {
		h.httpError(w, "entries", fmt.Errorf("parse weight: %w", err), http.StatusBadRequest)
		return
	}

	batchID := h.cfg.Ledger.CurrentBatchID()
	index, err := h.cfg.Ledger.Submit(caller, value, weight)
	if err != nil {
		h.httpError(w, "entries", err, statusForError(err))
		return
	}

	metrics.SubmissionsTotal.Inc()
	writeJSON(w, &SubmitEntryResponse{BatchID: batchID, EntryIndex: index})
}

func (h *LedgerHandler) handleRequestValuation(w http.ResponseWriter, r *http.Request) {
	req, caller, err := recoverSigned[ValuationRequest](r)
	if err != nil {
		h.httpError(w, "valuations", err, http.StatusBadRequest)
		return
	}

	requestID, err := h.cfg.Ledger.RequestValuation(caller, req.BatchID)
	if err != nil {
		h.httpError(w, "valuations", err, statusForError(err))
		return
	}

	metrics.ValuationRequestsTotal.Inc()
	writeJSON(w, &ValuationResponse{RequestID: requestID})
}

// handleOracleCallback finalizes a decryption round trip. Only the
// configured oracle identity may deliver results; any non-200 response
// tells the oracle the result was not accepted.
func (h *LedgerHandler) handleOracleCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := crypto.DecodeMessage[crypto.Signed[oracle.DecryptionResult]](r.Body)
	if err != nil {
		h.httpError(w, "oracle-callback", fmt.Errorf("parse callback: %w", err), http.StatusBadRequest)
		return
	}
	result, signer, err := signed.Recover()
	if err != nil {
		h.httpError(w, "oracle-callback", fmt.Errorf("recover signer: %w", err), http.StatusUnauthorized)
		return
	}
	if !signer.Equal(h.cfg.OracleIdentity) {
		h.httpError(w, "oracle-callback", fmt.Errorf("callback from unauthorized signer %s", signer), http.StatusUnauthorized)
		return
	}

	total, err := h.cfg.Ledger.Finalize(result.RequestID, result.Cleartext, result.Proof)
	if err != nil {
		metrics.RejectedCallbacksTotal.Inc()
		h.cfg.Log.Warn("Rejected oracle callback", "requestID", result.RequestID, "err", err)
		h.httpError(w, "oracle-callback", err, statusForError(err))
		return
	}

	metrics.ValuationsCompletedTotal.Inc()
	h.cfg.Log.Info("Finalized valuation", "requestID", result.RequestID)
	writeJSON(w, &FinalizeResponse{RequestID: result.RequestID, TotalValue: total.String()})
}

func (h *LedgerHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	l := h.cfg.Ledger
	writeJSON(w, &StatusResponse{
		Owner:           string(l.Owner()),
		Paused:          l.Paused(),
		CooldownSeconds: uint64(l.Cooldown() / time.Second),
		CurrentBatchID:  l.CurrentBatchID(),
		PendingRequests: l.PendingRequests(),
	})
}

func (h *LedgerHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.httpError(w, "batches", fmt.Errorf("invalid batch id: %w", err), http.StatusBadRequest)
		return
	}
	batch, err := h.cfg.Ledger.BatchInfo(id)
	if err != nil {
		h.httpError(w, "batches", err, http.StatusNotFound)
		return
	}
	writeJSON(w, &batch)
}

func (h *LedgerHandler) handleEntries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.httpError(w, "entries-list", fmt.Errorf("invalid batch id: %w", err), http.StatusBadRequest)
		return
	}
	entries, err := h.cfg.Ledger.Entries(id)
	if err != nil {
		h.httpError(w, "entries-list", err, http.StatusNotFound)
		return
	}
	writeJSON(w, entries)
}

func (h *LedgerHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.httpError(w, "requests", fmt.Errorf("invalid request id: %w", err), http.StatusBadRequest)
		return
	}
	status, ok := h.cfg.Ledger.Request(oracle.RequestID(id))
	if !ok {
		h.httpError(w, "requests", ledger.ErrUnknownRequest, http.StatusNotFound)
		return
	}
	writeJSON(w, &status)
}

func (h *LedgerHandler) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := crypto.DecodeMessage[EncryptRequest](r.Body)
	if err != nil {
		h.httpError(w, "encrypt", fmt.Errorf("parse request: %w", err), http.StatusBadRequest)
		return
	}

	v, ok := new(big.Int).SetString(req.Value, 10)
	if !ok {
		h.httpError(w, "encrypt", errors.New("value must be a decimal integer"), http.StatusBadRequest)
		return
	}

	ciphertext, err := h.cfg.Encryptor.Encrypt(v)
	if err != nil {
		h.httpError(w, "encrypt", err, http.StatusBadRequest)
		return
	}
	writeJSON(w, &EncryptResponse{Ciphertext: ciphertext.String()})
}
