// Package control implements the operator control channel of spec.md §6:
// a Unix-domain stream socket accepting line-delimited JSON commands, each
// answered with a JSON {ok, msg} object. Grounded on
// _examples/original_source/control_server.py's ControlServer — its
// accept-loop-per-connection shape, best-effort JSON-or-whitespace command
// parsing, and _dispatch table are kept; the socket plumbing is adapted to
// net.Listen("unix", ...) and the dispatch table is generalized to the
// spec's larger command set (pause_close/resume_close/finish_open/
// finish_close/transfer have no Python precedent and are designed fresh
// below, per each command's doc comment).
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"arbmaker/internal/closetask"
	"arbmaker/internal/config"
	"arbmaker/internal/core"
	"arbmaker/internal/quote"

	"github.com/shopspring/decimal"
)

// Coordinator is the subset of *coordinator.Coordinator the control server
// needs. Declared locally (rather than importing the coordinator package
// directly as a concrete type) to avoid a dependency cycle risk and to keep
// the server's surface explicit.
type Coordinator interface {
	SetMinSpreadBps(decimal.Decimal)
}

// request is the line-delimited JSON shape control_server.py's _handle
// accepts: {"cmd": "...", "args": [...]}.
type request struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// Response is always returned to the caller, per spec.md §6.
type Response struct {
	OK   bool   `json:"ok"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// Server is the Unix-socket control channel. It implements bootstrap.Runner.
type Server struct {
	socketPath string
	logger     core.ILogger

	state     *core.EngineState
	cfg       *config.Config
	sync      *quote.Synchronizer
	coord     Coordinator
	closeTask *closetask.CloseTask
	venue     core.VenueGateway
}

// New builds a Server. All dependencies are already-constructed components
// shared with the rest of the engine; the server only ever calls their
// already-guarded setters/getters, never touching engine state directly.
func New(
	socketPath string,
	logger core.ILogger,
	state *core.EngineState,
	cfg *config.Config,
	synchronizer *quote.Synchronizer,
	coord Coordinator,
	closeTask *closetask.CloseTask,
	venue core.VenueGateway,
) *Server {
	return &Server{
		socketPath: socketPath,
		logger:     logger.WithField("component", "control"),
		state:      state,
		cfg:        cfg,
		sync:       synchronizer,
		coord:      coord,
		closeTask:  closeTask,
		venue:      venue,
	}
}

// Run implements bootstrap.Runner: listens on the Unix socket until ctx is
// cancelled. A stale socket file from an unclean prior exit is removed
// before binding, matching the original's single-instance assumption.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", s.socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(s.socketPath)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control channel listening", "socket", s.socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Warn("control accept failed", "error", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads one line-delimited command per line and writes back one
// line-delimited JSON response per line, keeping the connection open for
// repeated requests (control_server.py's per-connection read loop reads
// once and closes; this is generalized to a persistent session since an
// operator CLI issuing several commands over one connection is the more
// useful idiom here).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		req, err := parseLine(line)
		if err != nil {
			writeResponse(conn, Response{OK: false, Msg: fmt.Sprintf("bad request: %v", err)})
			continue
		}
		resp := s.dispatch(ctx, req.Cmd, req.Args)
		writeResponse(conn, resp)
	}
}

// parseLine mirrors control_server.py's _handle: try JSON first, and fall
// back to a whitespace-split "cmd arg1 arg2..." form for a plain netcat/
// telnet operator.
func parseLine(line string) (request, error) {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err == nil && req.Cmd != "" {
		return req, nil
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return request{}, fmt.Errorf("empty command")
	}
	return request{Cmd: fields[0], Args: fields[1:]}, nil
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"ok":false,"msg":"internal: failed to encode response"}`)
	}
	_, _ = conn.Write(append(data, '\n'))
}

// dispatch mirrors control_server.py's _dispatch table, extended with
// spec.md's additional commands.
func (s *Server) dispatch(ctx context.Context, cmd string, args []string) Response {
	switch strings.ToLower(cmd) {
	case "status":
		return s.cmdStatus()
	case "start":
		return s.cmdStart(args)
	case "pause":
		s.state.SetPaused(true)
		return Response{OK: true, Msg: "paused"}
	case "stop":
		s.state.SetRunning(false)
		return Response{OK: true, Msg: "stopping"}
	case "pause_close":
		return s.cmdPauseClose()
	case "resume_close":
		return s.cmdResumeClose()
	case "close":
		return s.cmdClose(ctx, args)
	case "finish_open":
		return s.cmdFinishOpen(ctx)
	case "finish_close":
		return s.cmdFinishClose(ctx)
	case "budget":
		return s.cmdBudget(args)
	case "spread":
		return s.cmdSpread(args)
	case "spread_info":
		return s.cmdSpreadInfo()
	case "transfer":
		return s.cmdTransfer(ctx, args)
	default:
		return Response{OK: false, Msg: fmt.Sprintf("unknown command: %s", cmd)}
	}
}

func (s *Server) cmdStatus() Response {
	snapshot := s.state.Snapshot()
	closeStatus := s.closeTask.Status()
	return Response{
		OK:  true,
		Msg: "ok",
		Data: map[string]any{
			"running":        snapshot.Running,
			"paused":         snapshot.Paused,
			"active_orders":  len(snapshot.ActiveOrders),
			"naked_exposure": snapshot.Ledger.NakedExposure.String(),
			"total_filled":   snapshot.Ledger.TotalFilledBase.String(),
			"total_hedged":   snapshot.Ledger.TotalHedgedBase.String(),
			"close_active":   closeStatus.Active,
			"close_paused":   closeStatus.Paused,
		},
	}
}

// cmdStart resumes a paused engine, optionally raising the budget first
// (mirrors control_server.py's start(budget=None), which both un-pauses and
// accepts an optional budget override in one call).
func (s *Server) cmdStart(args []string) Response {
	if len(args) > 0 {
		if resp, ok := s.setBudget(args[0]); !ok {
			return resp
		}
	}
	s.state.SetRunning(true)
	s.state.SetPaused(false)
	return Response{OK: true, Msg: "started"}
}

// cmdPauseClose pauses the close task's round loop, spec.md's addition with
// no Python precedent (the original has no close-side pause at all). An
// in-flight round is allowed to finish its own cancel-and-flush before the
// pause takes effect.
func (s *Server) cmdPauseClose() Response {
	if !s.closeTask.Status().Active {
		return Response{OK: false, Msg: "no close task is active"}
	}
	s.closeTask.Pause()
	return Response{OK: true, Msg: "close task paused"}
}

func (s *Server) cmdResumeClose() Response {
	if !s.closeTask.Status().Active {
		return Response{OK: false, Msg: "no close task is active"}
	}
	s.closeTask.Resume()
	return Response{OK: true, Msg: "close task resumed"}
}

// cmdClose starts a CloseTask, mirroring control_server.py's close(symbol,
// qty) arg-count branching: a single arg is "qty" against the configured
// strategy symbol, two args are "symbol qty".
func (s *Server) cmdClose(ctx context.Context, args []string) Response {
	var symbol, qtyStr string
	switch len(args) {
	case 1:
		symbol, qtyStr = s.cfg.Strategy().SymbolSpot, args[0]
	case 2:
		symbol, qtyStr = args[0], args[1]
	default:
		return Response{OK: false, Msg: "usage: close [symbol] qty"}
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return Response{OK: false, Msg: fmt.Sprintf("invalid qty: %v", err)}
	}

	if s.closeTask.Status().Active {
		return Response{OK: false, Msg: "a close task is already active"}
	}

	go s.closeTask.Run(ctx, symbol, qty)

	return Response{OK: true, Msg: fmt.Sprintf("close started for %s qty=%s", symbol, qty)}
}

// cmdFinishOpen is spec.md's addition with no Python precedent: an operator
// can force an immediate, out-of-cadence full teardown of the open ladder
// (the same CancelAll the Coordinator's own pause/guard steps invoke),
// rather than waiting for the next tick's guard to fire.
func (s *Server) cmdFinishOpen(ctx context.Context) Response {
	ok := s.sync.CancelAll(ctx)
	if !ok {
		return Response{OK: false, Msg: "cancelled open ladder but hedge of residual fills failed; check naked_exposure"}
	}
	return Response{OK: true, Msg: "open ladder cancelled"}
}

func (s *Server) cmdFinishClose(ctx context.Context) Response {
	if !s.closeTask.Status().Active {
		return Response{OK: false, Msg: "no close task is active"}
	}
	status := s.closeTask.FinishClose(ctx)
	return Response{OK: true, Msg: "close task finished", Data: status}
}

func (s *Server) cmdBudget(args []string) Response {
	if len(args) == 0 {
		return Response{OK: true, Msg: s.cfg.Strategy().TotalBudgetBase.String()}
	}
	if resp, ok := s.setBudget(args[0]); !ok {
		return resp
	}
	return Response{OK: true, Msg: fmt.Sprintf("budget set to %s", args[0])}
}

func (s *Server) setBudget(raw string) (Response, bool) {
	budget, err := decimal.NewFromString(raw)
	if err != nil {
		return Response{OK: false, Msg: fmt.Sprintf("invalid budget: %v", err)}, false
	}
	s.cfg.SetBudget(budget)
	s.sync.SetTotalBudgetBase(budget)
	return Response{}, true
}

// cmdSpread is deliberately manual-only: control_server.py's spread command
// supports an "auto" mode driven by min_profit_bps/net_cost fee math that
// this engine never carried forward (core.FeeConfig was simplified to a
// single MinSpreadBps field; see SPEC_FULL.md). Only a direct bps override
// is supported.
func (s *Server) cmdSpread(args []string) Response {
	if len(args) == 0 {
		return s.cmdSpreadInfo()
	}
	bpsValue, err := decimal.NewFromString(args[0])
	if err != nil {
		return Response{OK: false, Msg: fmt.Sprintf("invalid spread bps: %v", err)}
	}
	s.cfg.SetMinSpreadBps(bpsValue)
	s.sync.SetMinSpreadBps(bpsValue)
	s.coord.SetMinSpreadBps(bpsValue)
	return Response{OK: true, Msg: fmt.Sprintf("min_spread_bps set to %s", bpsValue)}
}

func (s *Server) cmdSpreadInfo() Response {
	return Response{OK: true, Msg: "ok", Data: map[string]any{
		"min_spread_bps": s.cfg.Fee().MinSpreadBps.String(),
		"mode":           "manual",
	}}
}

// cmdTransfer proxies to VenueGateway.InternalTransfer, which returns
// apperrors.ErrNotSupported for venues without an internal-transfer API.
func (s *Server) cmdTransfer(ctx context.Context, args []string) Response {
	if len(args) != 3 {
		return Response{OK: false, Msg: "usage: transfer asset amount direction"}
	}
	asset, amountStr, direction := args[0], args[1], args[2]
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Response{OK: false, Msg: fmt.Sprintf("invalid amount: %v", err)}
	}
	if err := s.venue.InternalTransfer(ctx, asset, amount, direction); err != nil {
		return Response{OK: false, Msg: fmt.Sprintf("transfer failed: %v", err)}
	}
	return Response{OK: true, Msg: fmt.Sprintf("transferred %s %s %s", amount, asset, direction)}
}
