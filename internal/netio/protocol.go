// Package netio is the wire edge: a length-prefixed TCP command
// protocol for placing orders and running queries, plus a websocket
// hub that fans the venue's commit-ordered event stream out to
// subscribers. Framing follows the teacher's length-prefixed message
// style; the payload itself is JSON rather than the teacher's hand-rolled
// fixed-offset binary layout (see DESIGN.md — scaling that layout to the
// full command set without being able to run the toolchain against it
// was judged too fragile).
package netio

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"crux/internal/common"
)

// MaxFrameSize bounds a single command/response frame.
const MaxFrameSize = 64 * 1024

// ErrFrameTooLarge is returned when a peer's declared frame length
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// CommandType names one of the commands the edge may send.
type CommandType string

const (
	CmdDeposit      CommandType = "deposit"
	CmdWithdraw     CommandType = "withdraw"
	CmdPlaceLimit   CommandType = "placeLimit"
	CmdPlaceMarket  CommandType = "placeMarket"
	CmdCancel       CommandType = "cancel"
	CmdDepth        CommandType = "orderBookDepth"
	CmdBestBid      CommandType = "bestBid"
	CmdBestAsk      CommandType = "bestAsk"
	CmdMarkPrice    CommandType = "markPrice"
	CmdUserOrders   CommandType = "userOrders"
	CmdGetOrder     CommandType = "getOrder"
	CmdPosition     CommandType = "position"
	CmdMarginSumm   CommandType = "marginSummary"
	CmdTrades       CommandType = "trades"
	CmdLiqs         CommandType = "liquidations"
	CmdTriggerScan  CommandType = "triggerLiquidationScan"
	CmdRegisterMkt  CommandType = "registerMarket"
)

// Command is one request frame. Only the fields relevant to Type are
// populated; the rest are left zero.
type Command struct {
	Type           CommandType     `json:"type"`
	RequestID      string          `json:"requestId,omitempty"`
	Trader         string          `json:"trader,omitempty"`
	Market         string          `json:"market,omitempty"`
	Side           common.Side     `json:"side,omitempty"`
	Price          int64           `json:"price,omitempty"`
	Size           uint64          `json:"size,omitempty"`
	Amount         int64           `json:"amount,omitempty"`
	MaxSlippageBps uint32          `json:"maxSlippageBps,omitempty"`
	OrderID        uint64          `json:"orderId,omitempty"`
	Depth          int             `json:"depth,omitempty"`
	Offset         int             `json:"offset,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	SeedPrice      int64           `json:"seedPrice,omitempty"`
	Liquidator     string          `json:"liquidator,omitempty"`
}

// Response is the single reply frame type; exactly one of Error or
// Result is meaningful.
type Response struct {
	OK        bool            `json:"ok"`
	RequestID string          `json:"requestId,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// JSON encoding of v.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed JSON frame into v.
func ReadFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header)
	if n > MaxFrameSize {
		return ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
