package netio

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"crux/internal/book"
	"crux/internal/common"
	"crux/internal/vault"
	"crux/internal/venue"
	"crux/internal/workerpool"
)

const defaultConnTimeout = 5 * time.Second

// Server is the TCP command edge: one connection per session, commands
// dispatched to a shared Venue through a fixed worker pool, matching the
// teacher's accept-loop-plus-pool shape.
type Server struct {
	address string
	port    int
	venue   *venue.Venue
	pool    workerpool.Pool
	cancel  context.CancelFunc

	sessionsMu sync.Mutex
	sessions   map[string]net.Conn
}

// New creates a command server bound to address:port, dispatching
// against v with a pool of `workers` connection-handling goroutines.
func New(address string, port int, workers int, v *venue.Venue) *Server {
	if workers <= 0 {
		workers = 10
	}
	return &Server{
		address:  address,
		port:     port,
		venue:    v,
		pool:     workerpool.New(workers),
		sessions: make(map[string]net.Conn),
	}
}

// Shutdown cancels the server's context, tearing down the accept loop
// and its worker pool.
func (s *Server) Shutdown() {
	log.Info().Msg("netio server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run starts accepting connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	log.Info().Str("addr", listener.Addr().String()).Msg("netio server listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					log.Error().Err(err).Msg("accept failed")
					continue
				}
			}
			s.addSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[conn.RemoteAddr().String()] = conn
}

func (s *Server) removeSession(addr string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, addr)
}

// handleConnection is one worker's loop over a single connection: read
// a command frame, dispatch it, write the response frame, repeat until
// the connection errors out or the tomb is dying.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return fmt.Errorf("unexpected task type %T", task)
	}
	addr := conn.RemoteAddr().String()
	defer func() {
		s.removeSession(addr)
		conn.Close()
	}()

	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		conn.SetDeadline(time.Now().Add(defaultConnTimeout))
		var cmd Command
		if err := ReadFrame(conn, &cmd); err != nil {
			log.Debug().Err(err).Str("addr", addr).Msg("connection closed")
			return nil
		}

		if cmd.RequestID == "" {
			cmd.RequestID = uuid.New().String()
		}
		log.Debug().Str("addr", addr).Str("requestId", cmd.RequestID).Str("type", string(cmd.Type)).Msg("dispatching command")

		resp := s.dispatch(cmd)
		resp.RequestID = cmd.RequestID
		if err := WriteFrame(conn, resp); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("write failed")
			return nil
		}
	}
}

func result(v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{OK: false, Code: string(venue.CodeInvalidRequest), Error: err.Error()}
	}
	return Response{OK: true, Result: body}
}

func failure(verr *venue.Error) Response {
	return Response{OK: false, Code: string(verr.Code), Error: verr.Error()}
}

// dispatch routes one command to the venue and shapes the result into a
// wire Response. It never panics: the venue itself recovers any
// INVARIANT_VIOLATION before returning here.
func (s *Server) dispatch(cmd Command) Response {
	market := common.MarketIDFromString(cmd.Market)
	switch cmd.Type {
	case CmdDeposit:
		if verr := s.venue.Deposit(cmd.Trader, cmd.Amount); verr != nil {
			return failure(verr)
		}
		return result(true)

	case CmdWithdraw:
		if verr := s.venue.Withdraw(cmd.Trader, cmd.Amount); verr != nil {
			return failure(verr)
		}
		return result(true)

	case CmdPlaceLimit:
		orderID, fills, verr := s.venue.PlaceLimit(cmd.Trader, market, cmd.Side, cmd.Price, cmd.Size)
		if verr != nil {
			return failure(verr)
		}
		return result(struct {
			OrderID uint64         `json:"orderId"`
			Fills   []common.Trade `json:"fills"`
		}{orderID, fills})

	case CmdPlaceMarket:
		fills, verr := s.venue.PlaceMarket(cmd.Trader, market, cmd.Side, cmd.Size, cmd.MaxSlippageBps)
		if verr != nil {
			return failure(verr)
		}
		return result(fills)

	case CmdCancel:
		if verr := s.venue.Cancel(cmd.Trader, market, cmd.OrderID); verr != nil {
			return failure(verr)
		}
		return result(true)

	case CmdDepth:
		depth := cmd.Depth
		if depth <= 0 {
			depth = 20
		}
		bids, asks, verr := s.venue.OrderBookDepth(market, depth)
		if verr != nil {
			return failure(verr)
		}
		return result(struct {
			Bids []book.DepthLevel `json:"bids"`
			Asks []book.DepthLevel `json:"asks"`
		}{bids, asks})

	case CmdBestBid:
		p, ok, verr := s.venue.BestBid(market)
		if verr != nil {
			return failure(verr)
		}
		return result(struct {
			Price int64 `json:"price"`
			OK    bool  `json:"ok"`
		}{p, ok})

	case CmdBestAsk:
		p, ok, verr := s.venue.BestAsk(market)
		if verr != nil {
			return failure(verr)
		}
		return result(struct {
			Price int64 `json:"price"`
			OK    bool  `json:"ok"`
		}{p, ok})

	case CmdMarkPrice:
		p, verr := s.venue.MarkPrice(market)
		if verr != nil {
			return failure(verr)
		}
		return result(p)

	case CmdUserOrders:
		ids, verr := s.venue.UserOrders(market, cmd.Trader)
		if verr != nil {
			return failure(verr)
		}
		return result(ids)

	case CmdGetOrder:
		o, verr := s.venue.GetOrder(market, cmd.OrderID)
		if verr != nil {
			return failure(verr)
		}
		return result(o)

	case CmdPosition:
		pos, ok := s.venue.Position(cmd.Trader, market)
		if !ok {
			return result(vault.Position{})
		}
		return result(pos)

	case CmdMarginSumm:
		return result(s.venue.MarginSummary(cmd.Trader))

	case CmdTrades:
		return result(s.venue.Trades(cmd.Trader, cmd.Offset, cmd.Limit))

	case CmdLiqs:
		return result(s.venue.Liquidations(cmd.Trader))

	case CmdTriggerScan:
		liquidator := cmd.Liquidator
		if liquidator == "" {
			liquidator = "admin"
		}
		return result(s.venue.TriggerLiquidationScan(market, liquidator))

	case CmdRegisterMkt:
		s.venue.RegisterMarket(market, venue.MarketConfig{SeedPrice: cmd.SeedPrice})
		return result(true)

	default:
		return Response{OK: false, Code: string(venue.CodeInvalidRequest), Error: "unknown command type"}
	}
}
