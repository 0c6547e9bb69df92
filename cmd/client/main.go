package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"

	"crux/internal/common"
	"crux/internal/netio"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the venue's TCP command edge")
	trader := flag.String("trader", "", "trader id (required for all actions except depth/mark/best)")
	action := flag.String("action", "place-limit", "action: deposit|withdraw|place-limit|place-market|cancel|depth|best-bid|best-ask|mark|position|margin|trades|liquidations|trigger-scan|register-market")

	market := flag.String("market", "BTC-PERP", "market id")
	sideStr := flag.String("side", "buy", "order side: buy or sell")
	price := flag.Int64("price", 0, "limit price, in 6-decimal quote-ticks")
	size := flag.Uint64("size", 0, "order size, in 18-decimal size-ticks")
	amount := flag.Int64("amount", 0, "deposit/withdraw amount")
	orderID := flag.Uint64("order-id", 0, "order id (cancel)")
	maxSlippageBps := flag.Uint("max-slippage-bps", 0, "market order slippage cap, in bps (0 = uncapped)")
	depth := flag.Int("depth", 20, "order book depth")
	offset := flag.Int("offset", 0, "trade history offset")
	limit := flag.Int("limit", 50, "trade history limit")
	seedPrice := flag.Int64("seed-price", 0, "seed mark price for register-market")
	liquidator := flag.String("liquidator", "", "liquidator credited for a triggered scan")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()

	side := common.Buy
	if strings.EqualFold(*sideStr, "sell") {
		side = common.Sell
	}

	cmd := netio.Command{
		RequestID:      uuid.New().String(),
		Trader:         *trader,
		Market:         *market,
		Side:           side,
		Price:          *price,
		Size:           *size,
		Amount:         *amount,
		OrderID:        *orderID,
		MaxSlippageBps: uint32(*maxSlippageBps),
		Depth:          *depth,
		Offset:         *offset,
		Limit:          *limit,
		SeedPrice:      *seedPrice,
		Liquidator:     *liquidator,
	}

	switch strings.ToLower(*action) {
	case "deposit":
		cmd.Type = netio.CmdDeposit
	case "withdraw":
		cmd.Type = netio.CmdWithdraw
	case "place-limit":
		cmd.Type = netio.CmdPlaceLimit
	case "place-market":
		cmd.Type = netio.CmdPlaceMarket
	case "cancel":
		cmd.Type = netio.CmdCancel
	case "depth":
		cmd.Type = netio.CmdDepth
	case "best-bid":
		cmd.Type = netio.CmdBestBid
	case "best-ask":
		cmd.Type = netio.CmdBestAsk
	case "mark":
		cmd.Type = netio.CmdMarkPrice
	case "user-orders":
		cmd.Type = netio.CmdUserOrders
	case "get-order":
		cmd.Type = netio.CmdGetOrder
	case "position":
		cmd.Type = netio.CmdPosition
	case "margin":
		cmd.Type = netio.CmdMarginSumm
	case "trades":
		cmd.Type = netio.CmdTrades
	case "liquidations":
		cmd.Type = netio.CmdLiqs
	case "trigger-scan":
		cmd.Type = netio.CmdTriggerScan
	case "register-market":
		cmd.Type = netio.CmdRegisterMkt
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		flag.Usage()
		os.Exit(1)
	}

	if err := netio.WriteFrame(conn, cmd); err != nil {
		log.Fatalf("failed to send command: %v", err)
	}

	var resp netio.Response
	if err := netio.ReadFrame(conn, &resp); err != nil {
		log.Fatalf("failed to read response: %v", err)
	}

	if !resp.OK {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", resp.Code, resp.Error)
		os.Exit(1)
	}
	fmt.Println(string(resp.Result))
}
