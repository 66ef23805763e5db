package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leverbank/native/bank"
	nativecommon "leverbank/native/common"
	"leverbank/native/oracle"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine     *bank.Engine
	Oracle     *oracle.CoreOracle
	Logger     *slog.Logger
	Owner      common.Address
	AdminToken string

	// ExecuteQuota caps execute calls per caller address per epoch. A zero
	// value disables rate limiting.
	ExecuteQuota nativecommon.Quota
}

// Server exposes the bank engine and oracle router over HTTP/JSON.
type Server struct {
	engine     *bank.Engine
	oracle     *oracle.CoreOracle
	logger     *slog.Logger
	owner      common.Address
	adminToken string
	metrics    *Metrics

	quota   nativecommon.Quota
	quotaMu sync.Mutex
	usage   map[common.Address]nativecommon.QuotaNow
	nowFn   func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:     cfg.Engine,
		oracle:     cfg.Oracle,
		logger:     logger,
		owner:      cfg.Owner,
		adminToken: strings.TrimSpace(cfg.AdminToken),
		metrics:    NewMetrics(),
		quota:      cfg.ExecuteQuota,
		usage:      make(map[common.Address]nativecommon.QuotaNow),
		nowFn:      time.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

// SetNowFunc overrides the clock used for rate limiting. Tests only.
func (s *Server) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

func (s *Server) checkQuota(caller common.Address) error {
	if s.quota.MaxRequestsPerEpoch == 0 && s.quota.MaxValuePerEpoch == 0 {
		return nil
	}
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	epoch := s.quota.Epoch(s.nowFn().Unix())
	next, err := nativecommon.CheckQuota(s.quota, epoch, s.usage[caller], 1, 0)
	if err != nil {
		return err
	}
	s.usage[caller] = next
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/execute", s.handleExecute)
		api.Post("/liquidate", s.handleLiquidate)
		api.Post("/accrue", s.handleAccrue)

		api.Get("/positions/{id}", s.handleGetPosition)
		api.Get("/positions/{id}/risk", s.handleGetRisk)
		api.Get("/banks/{token}", s.handleGetBank)
		api.Get("/prices/{token}", s.handleGetPrice)
		api.Get("/status", s.handleGetStatus)

		api.Group(func(admin chi.Router) {
			admin.Use(requireBearer(s.adminToken))
			admin.Post("/admin/banks", s.handleRegisterBank)
			admin.Post("/admin/status", s.handleSetStatus)
			admin.Post("/admin/whitelist/tokens", s.handleWhitelistTokens)
			admin.Post("/admin/whitelist/wrapped", s.handleWhitelistWrapped)
			admin.Post("/admin/whitelist/spells", s.handleWhitelistSpells)
			admin.Post("/admin/whitelist/contracts", s.handleWhitelistContracts)
			admin.Post("/admin/mint", s.handleMint)
			admin.Post("/admin/oracle/pause", s.handleOraclePause)
			admin.Post("/admin/oracle/unpause", s.handleOracleUnpause)
			admin.Post("/admin/oracle/thresholds", s.handleSetThresholds)
		})
	})
	return r
}

// --- execution ---

type executeRequest struct {
	Caller     string          `json:"caller"`
	PositionID uint64          `json:"positionId"`
	Spell      string          `json:"spell"`
	Payload    json.RawMessage `json:"payload"`
}

type executeResponse struct {
	PositionID uint64 `json:"positionId"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	if req.Spell == "" {
		writeError(w, http.StatusBadRequest, "spell required")
		return
	}
	if err := s.checkQuota(caller); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	id, err := s.engine.Execute(caller, req.PositionID, req.Spell, req.Payload)
	s.metrics.executions.WithLabelValues(req.Spell, outcome(err)).Inc()
	if err != nil {
		s.logger.Warn("execute failed",
			slog.String("caller", caller.Hex()),
			slog.Uint64("position", req.PositionID),
			slog.String("spell", req.Spell),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	s.logger.Info("execute",
		slog.String("caller", caller.Hex()),
		slog.Uint64("position", id),
		slog.String("spell", req.Spell))
	writeJSON(w, http.StatusOK, executeResponse{PositionID: id})
}

type liquidateRequest struct {
	Caller     string `json:"caller"`
	PositionID uint64 `json:"positionId"`
	DebtToken  string `json:"debtToken"`
	Amount     string `json:"amount"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	token, err := parseAddress(req.DebtToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid debt token address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	err = s.engine.Liquidate(caller, req.PositionID, token, amount)
	s.metrics.liquidations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.logger.Info("liquidate",
		slog.String("caller", caller.Hex()),
		slog.Uint64("position", req.PositionID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type accrueRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	var req accrueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	err = s.engine.Accrue(token)
	s.metrics.accruals.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- views ---

type positionResponse struct {
	ID               uint64 `json:"id"`
	Owner            string `json:"owner"`
	CollateralToken  string `json:"collateralToken"`
	CollateralID     string `json:"collateralId"`
	CollateralAmount string `json:"collateralAmount"`
	DebtToken        string `json:"debtToken"`
	DebtShare        string `json:"debtShare"`
	IsolatedToken    string `json:"isolatedToken"`
	IsolatedAmount   string `json:"isolatedAmount"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	pos, err := s.engine.GetPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		ID:               pos.ID,
		Owner:            pos.Owner.Hex(),
		CollateralToken:  pos.CollateralToken.Hex(),
		CollateralID:     pos.CollateralID.String(),
		CollateralAmount: pos.CollateralAmount.String(),
		DebtToken:        pos.DebtToken.Hex(),
		DebtShare:        pos.DebtShare.String(),
		IsolatedToken:    pos.IsolatedToken.Hex(),
		IsolatedAmount:   pos.IsolatedAmount.String(),
	})
}

type riskResponse struct {
	PositionID    uint64 `json:"positionId"`
	PositionValue string `json:"positionValue"`
	DebtValue     string `json:"debtValue"`
	RiskBps       string `json:"riskBps"`
	Liquidatable  bool   `json:"liquidatable"`
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	posValue, err := s.engine.PositionValue(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	debtValue, err := s.engine.DebtValue(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	risk, err := s.engine.PositionRisk(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	liquidatable, err := s.engine.IsLiquidatable(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, riskResponse{
		PositionID:    id,
		PositionValue: posValue.String(),
		DebtValue:     debtValue.String(),
		RiskBps:       risk.String(),
		Liquidatable:  liquidatable,
	})
}

type bankResponse struct {
	DebtToken            string `json:"debtToken"`
	SoftVault            string `json:"softVault"`
	HardVault            string `json:"hardVault"`
	LiquidationThreshold uint64 `json:"liquidationThresholdBps"`
	TotalShare           string `json:"totalShare"`
	TotalDebt            string `json:"totalDebt"`
	LastAccrueTime       uint64 `json:"lastAccrueTime"`
}

func (s *Server) handleGetBank(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	b, err := s.engine.GetBank(token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bankResponse{
		DebtToken:            b.DebtToken.Hex(),
		SoftVault:            b.SoftVault,
		HardVault:            b.HardVault,
		LiquidationThreshold: b.LiquidationThreshold,
		TotalShare:           b.TotalShare.String(),
		TotalDebt:            b.TotalDebt.String(),
		LastAccrueTime:       b.LastAccrueTime,
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	price, err := s.oracle.GetPrice(token)
	s.metrics.priceReads.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token.Hex(),
		"price": price.String(),
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.BankStatus()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              uint8(status),
		"borrowAllowed":       status.BorrowAllowed(),
		"repayAllowed":        status.RepayAllowed(),
		"lendAllowed":         status.LendAllowed(),
		"withdrawLendAllowed": status.WithdrawLendAllowed(),
	})
}

// --- admin surface ---

type registerBankRequest struct {
	DebtToken               string `json:"debtToken"`
	SoftVault               string `json:"softVault"`
	HardVault               string `json:"hardVault"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
}

func (s *Server) handleRegisterBank(w http.ResponseWriter, r *http.Request) {
	var req registerBankRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress(req.DebtToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid debt token address")
		return
	}
	if err := s.engine.Register(s.owner, token, req.SoftVault, req.HardVault, req.LiquidationThresholdBps); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setStatusRequest struct {
	Status uint8 `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.SetBankStatus(s.owner, bank.BankStatus(req.Status)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type whitelistRequest struct {
	Tokens  []string `json:"tokens"`
	Allowed []bool   `json:"allowed"`
}

func (s *Server) handleWhitelistTokens(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addrs, err := parseAddresses(req.Tokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.WhitelistTokens(s.owner, addrs, req.Allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type whitelistWrappedRequest struct {
	Wrapped    []string `json:"wrapped"`
	Underlying []string `json:"underlying"`
	Allowed    []bool   `json:"allowed"`
}

func (s *Server) handleWhitelistWrapped(w http.ResponseWriter, r *http.Request) {
	var req whitelistWrappedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wrapped, err := parseAddresses(req.Wrapped)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	underlying, err := parseAddresses(req.Underlying)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.WhitelistWrappedTokens(s.owner, wrapped, underlying, req.Allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type whitelistSpellsRequest struct {
	Spells  []string `json:"spells"`
	Allowed []bool   `json:"allowed"`
}

func (s *Server) handleWhitelistSpells(w http.ResponseWriter, r *http.Request) {
	var req whitelistSpellsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.WhitelistSpells(s.owner, req.Spells, req.Allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWhitelistContracts(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addrs, err := parseAddresses(req.Tokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.WhitelistContracts(s.owner, addrs, req.Allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintRequest struct {
	Holder string `json:"holder"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := parseAddress(req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holder address")
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if err := s.engine.Mint(s.owner, holder, token, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOraclePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.oracle.Pause(s.owner); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOracleUnpause(w http.ResponseWriter, _ *http.Request) {
	if err := s.oracle.Unpause(s.owner); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type thresholdsRequest struct {
	Tokens     []string `json:"tokens"`
	Thresholds []uint64 `json:"thresholds"`
}

func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addrs, err := parseAddresses(req.Tokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.oracle.SetLiquidationThresholds(s.owner, addrs, req.Thresholds); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(trimmed), nil
}

func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, len(in))
	for i, s := range in {
		addr, err := parseAddress(s)
		if err != nil {
			return nil, errors.New("invalid address at index " + strconv.Itoa(i))
		}
		out[i] = addr
	}
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "max" {
		return new(big.Int).Set(bank.MaxAmount), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, bank.ErrBadPosition),
		errors.Is(err, bank.ErrBankNotListed),
		errors.Is(err, oracle.ErrNoRoute):
		status = http.StatusNotFound
	case errors.Is(err, bank.ErrNotPositionOwner),
		errors.Is(err, bank.ErrCallerNotWhitelisted),
		errors.Is(err, bank.ErrNotOwner),
		errors.Is(err, oracle.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, bank.ErrReentrant):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrPaused):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
