package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"bot-admission-gateway/internal/clientip"
	"bot-admission-gateway/internal/ledger"
	"bot-admission-gateway/internal/logger"
	"bot-admission-gateway/internal/middleware"
	"bot-admission-gateway/internal/service"
	"bot-admission-gateway/pkg/response"
	"bot-admission-gateway/pkg/validator"

	"github.com/bits-and-blooms/bloom/v3"
)

// bloomFalsePositive is the target rate of the exported filter.
const bloomFalsePositive = 0.001

type BlocklistHandler struct {
	gate *service.AdmissionGate

	mu           sync.Mutex
	bloomVersion uint64
	bloomFilter  *bloom.BloomFilter
}

func NewBlocklistHandler(gate *service.AdmissionGate) *BlocklistHandler {
	return &BlocklistHandler{gate: gate}
}

type commandInput struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

func decodeCommand(r *http.Request) (commandInput, error) {
	var in commandInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return in, err
	}
	if err := validator.Required(in.IP, "ip"); err != nil {
		return in, err
	}
	in.IP = clientip.Canonical(in.IP)
	if err := validator.SourceID(in.IP); err != nil {
		return in, err
	}
	return in, nil
}

// Block handles POST /api/block.
func (h *BlocklistHandler) Block(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.MethodNotAllowed(w)
		return
	}

	in, err := decodeCommand(r)
	if err != nil {
		response.Command(w, false, "IP required", http.StatusBadRequest)
		return
	}

	err = h.gate.Block(in.IP, in.Reason)
	switch {
	case err == nil:
		logger.L(r.Context()).Info("manual block", "ip", in.IP, "operator", middleware.Operator(r.Context()))
		response.Command(w, true, fmt.Sprintf("IP %s blocked", in.IP), http.StatusOK)
	case errors.Is(err, ledger.ErrAlreadyBlocked):
		response.Command(w, false, "IP already blocked", http.StatusOK)
	default:
		response.Command(w, false, err.Error(), http.StatusInternalServerError)
	}
}

// Unblock handles POST /api/unblock.
func (h *BlocklistHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		response.MethodNotAllowed(w)
		return
	}

	in, err := decodeCommand(r)
	if err != nil {
		response.Command(w, false, "IP required", http.StatusBadRequest)
		return
	}

	err = h.gate.Unblock(in.IP)
	switch {
	case err == nil:
		logger.L(r.Context()).Info("manual unblock", "ip", in.IP, "operator", middleware.Operator(r.Context()))
		response.Command(w, true, fmt.Sprintf("IP %s unblocked", in.IP), http.StatusOK)
	case errors.Is(err, ledger.ErrNotFound):
		response.Command(w, false, "IP not found", http.StatusOK)
	default:
		response.Command(w, false, err.Error(), http.StatusInternalServerError)
	}
}

// List returns every block record, oldest first.
func (h *BlocklistHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w)
		return
	}
	response.Success(w, h.gate.Blocklist(), "")
}

// Check answers whether ?ip= is currently blocked.
func (h *BlocklistHandler) Check(w http.ResponseWriter, r *http.Request) {
	ip := clientip.Canonical(r.URL.Query().Get("ip"))
	if err := validator.SourceID(ip); err != nil {
		response.BadRequest(w, "IP required")
		return
	}
	response.Success(w, map[string]interface{}{
		"ip":      ip,
		"blocked": h.gate.IsBlocked(ip),
	}, "")
}

// Bloom exports the blocklist as a serialized bloom filter so edge nodes
// can pre-screen without calling back. The filter is rebuilt only when the
// ledger changed.
func (h *BlocklistHandler) Bloom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w)
		return
	}

	filter, version := h.filter()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Blocklist-Version", strconv.FormatUint(version, 10))
	w.Header().Set("X-Bloom-Hashes", strconv.FormatUint(uint64(filter.K()), 10))
	w.Header().Set("X-Bloom-Bits", strconv.FormatUint(uint64(filter.Cap()), 10))
	if _, err := filter.WriteTo(w); err != nil {
		logger.L(r.Context()).Warn("bloom export interrupted", "error", err)
	}
}

func (h *BlocklistHandler) filter() (*bloom.BloomFilter, uint64) {
	led := h.gate.Ledger()

	h.mu.Lock()
	defer h.mu.Unlock()

	version := led.Version()
	if h.bloomFilter != nil && h.bloomVersion == version {
		return h.bloomFilter, version
	}

	ids := led.BlockedIDs()
	n := uint(len(ids))
	if n < 64 {
		n = 64
	}
	f := bloom.NewWithEstimates(n, bloomFalsePositive)
	for _, id := range ids {
		f.AddString(id)
	}

	h.bloomFilter = f
	h.bloomVersion = version
	return f, version
}
