package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/perpbook/perpbook/pkg/app"
	"github.com/perpbook/perpbook/pkg/engine"
)

// Server exposes the exchange over REST and WebSocket.
type Server struct {
	exchange *app.Exchange
	router   *mux.Router
	hub      *Hub
	log      *zap.Logger
}

// NewServer wires the routes and hooks the exchange's fill stream into the
// WebSocket hub.
func NewServer(exchange *app.Exchange, log *zap.Logger) *Server {
	s := &Server{
		exchange: exchange,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	exchange.OnFill = func(symbol string, fill engine.FillEvent, unix int64) {
		s.hub.BroadcastToChannel("fills:"+symbol, WSFillEvent{
			Type:   "fill",
			Symbol: symbol,
			Unix:   unix,
			Fill:   fillInfo(fill),
		})
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market state
	api.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/accounts/{trader}", s.handleGetSeat).Methods("GET")

	// Instructions
	api.HandleFunc("/seats", s.handleClaimSeat).Methods("POST")
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/swap", s.handleSwap).Methods("POST")
	api.HandleFunc("/liquidate", s.handleLiquidate).Methods("POST")
	api.HandleFunc("/crank", s.handleCrankFunding).Methods("POST")
	api.HandleFunc("/expand", s.handleExpand).Methods("POST")

	// Operational
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.log.Info("api_listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	symbols := s.exchange.Symbols()
	out := make([]MarketInfoResponse, 0, len(symbols))
	for _, sym := range symbols {
		info, err := s.exchange.MarketInfo(sym)
		if err != nil {
			continue
		}
		out = append(out, marketInfoResponse(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	info, err := s.exchange.MarketInfo(symbol)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, marketInfoResponse(info))
}

func marketInfoResponse(info app.MarketInfo) MarketInfoResponse {
	out := MarketInfoResponse{
		Symbol:            info.Symbol,
		BaseDecimals:      info.BaseDecimals,
		QuoteDecimals:     info.QuoteDecimals,
		MaintenanceBps:    info.MaintenanceBps,
		NextSequence:      info.NextSequence,
		TotalLongBase:     info.TotalLongBase,
		TotalShortBase:    info.TotalShortBase,
		CumulativeFunding: info.CumulativeFunding,
		LastFundingTs:     info.LastFundingTs,
		NumBlocks:         info.NumBlocks,
		FreeBlocks:        info.FreeBlocks,
	}
	if info.BestBid != nil {
		p := priceJSON(info.BestBid.Price)
		out.BestBid = &p
	}
	if info.BestAsk != nil {
		p := priceJSON(info.BestAsk.Price)
		out.BestAsk = &p
	}
	return out
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	bids, err := s.exchange.Levels(symbol, engine.Bid)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	asks, _ := s.exchange.Levels(symbol, engine.Ask)
	resp := OrderbookResponse{Symbol: symbol}
	for _, l := range bids {
		resp.Bids = append(resp.Bids, LevelEntry{Price: priceJSON(l.Price), Base: l.Base})
	}
	for _, l := range asks {
		resp.Asks = append(resp.Asks, LevelEntry{Price: priceJSON(l.Price), Base: l.Base})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSeat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trader, err := parseTrader(vars["trader"])
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	seat, err := s.exchange.Seat(vars["symbol"], trader)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, SeatResponse{
		Trader:            seat.Trader.Hex(),
		BaseWithdrawable:  seat.BaseWithdrawable,
		QuoteWithdrawable: seat.QuoteWithdrawable,
		PositionSize:      seat.PositionSize,
		QuoteCostBasis:    seat.QuoteCostBasis,
	})
}

func (s *Server) handleClaimSeat(w http.ResponseWriter, r *http.Request) {
	var req ClaimSeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trader, err := parseTrader(req.Trader)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.exchange.ClaimSeat(req.Symbol, trader); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, true)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, false)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, deposit bool) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trader, err := parseTrader(req.Trader)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	base := req.Asset == "base"
	if !base && req.Asset != "quote" {
		writeBadRequest(w, errors.New(`asset must be "base" or "quote"`))
		return
	}
	if deposit {
		err = s.exchange.Deposit(req.Symbol, trader, base, req.Amount)
	} else {
		err = s.exchange.Withdraw(req.Symbol, trader, base, req.Amount)
	}
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trader, err := parseTrader(req.Trader)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	typ, err := parseOrderType(req.Type)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	res, err := s.exchange.PlaceOrder(req.Symbol, engine.PlaceOrderParams{
		Trader:        trader,
		Side:          side,
		BaseAtoms:     req.BaseAtoms,
		Price:         engine.Price{Mantissa: req.PriceMantissa, Exponent: req.PriceExponent},
		Type:          typ,
		LastValidSlot: req.LastValidSlot,
		Spread:        req.Spread,
	})
	if err != nil && !errors.Is(err, engine.ErrCapacity) {
		writeError(w, s.log, err)
		return
	}
	resp := SubmitOrderResponse{
		Sequence:    res.Sequence,
		Rested:      res.Rested,
		BaseTraded:  res.BaseTraded,
		QuoteTraded: res.QuoteTraded,
		Fills:       make([]FillInfo, 0, len(res.Fills)),
	}
	for _, f := range res.Fills {
		resp.Fills = append(resp.Fills, fillInfo(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trader, err := parseTrader(req.Trader)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.exchange.CancelOrder(req.Symbol, trader, req.Sequence); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	trader, err := parseTrader(req.Trader)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	res, err := s.exchange.Swap(req.Symbol, engine.SwapParams{
		Trader:    trader,
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountOut,
		IsBaseIn:  req.IsBaseIn,
		IsExactIn: req.IsExactIn,
	})
	if err != nil && !errors.Is(err, engine.ErrCapacity) {
		writeError(w, s.log, err)
		return
	}
	resp := SwapResponse{In: res.In, Out: res.Out, Fills: make([]FillInfo, 0, len(res.Fills))}
	for _, f := range res.Fills {
		resp.Fills = append(resp.Fills, fillInfo(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	liquidator, err := parseTrader(req.Liquidator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	target, err := parseTrader(req.Trader)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ev, err := s.exchange.Liquidate(req.Symbol, liquidator, target)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, LiquidateResponse{
		PositionSize:    ev.PositionSize,
		SettlementValue: ev.SettlementValue,
		Pnl:             ev.Pnl,
		Reward:          ev.Reward,
	})
}

func (s *Server) handleCrankFunding(w http.ResponseWriter, r *http.Request) {
	var req CrankFundingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev, settled, err := s.exchange.CrankFunding(req.Symbol, req.Oracle)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CrankFundingResponse{
		Settled:        settled,
		RateScaled:     ev.RateScaled,
		OracleMantissa: ev.OracleMantissa,
		OracleExponent: ev.OracleExponent,
		Timestamp:      ev.Timestamp,
	})
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Blocks == 0 {
		writeBadRequest(w, errors.New("blocks must be positive"))
		return
	}
	if err := s.exchange.ExpandMarket(req.Symbol, req.Blocks); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "expanded"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidArgument),
		errors.Is(err, engine.ErrInvalidOracle),
		errors.Is(err, engine.ErrExpired):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrSlippage),
		errors.Is(err, engine.ErrNotLiquidatable),
		errors.Is(err, engine.ErrOverflow):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrCapacity):
		status = http.StatusConflict
	default:
		log.Error("internal_error", zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
