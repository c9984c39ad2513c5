package models

import "encoding/json"

// Inbound message types pushed by the server.
const (
	MsgPriceUpdate     = "price_update"
	MsgNewSignal       = "new_signal"
	MsgWalletUpdate    = "wallet_update"
	MsgTradesHistory   = "trades_history"
	MsgStatsUpdate     = "stats_update"
	MsgBotStatus       = "bot_status"
	MsgTradingDecision = "trading_decision"
	MsgMarketAlert     = "market_alert"
	MsgTradeExecuted   = "trade_executed"
	MsgDebugLog        = "debug_log"
	MsgChatResponse    = "chat_response"
	MsgError           = "error"
)

// Outbound command types. Commands carry no correlation id; responses are
// matched by type and an embedded identifying field.
const (
	CmdRequestPrices        = "request_prices"
	CmdChatMessage          = "chat_message"
	CmdClearConversation    = "clear_conversation"
	CmdRequestTradesHistory = "request_trades_history"
)

// PresentationTypes are forwarded untouched to the presentation layer.
var PresentationTypes = []string{
	MsgTradingDecision,
	MsgMarketAlert,
	MsgTradeExecuted,
	MsgDebugLog,
	MsgChatResponse,
}

// InboundMessage is the {type, payload} envelope of every pushed frame.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundMessage is the {type, payload} envelope of every command frame.
type OutboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ChatMessagePayload is the body of a chat_message command.
type ChatMessagePayload struct {
	Message string `json:"message"`
}

// TradesHistoryRequest is the body of a request_trades_history command.
type TradesHistoryRequest struct {
	WalletName string `json:"wallet_name"`
}

// ErrorPayload is the body of an application error frame.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewRequestPrices builds the priming price request sent after every open.
func NewRequestPrices() OutboundMessage {
	return OutboundMessage{Type: CmdRequestPrices}
}

// NewChatMessage builds a chat_message command.
func NewChatMessage(text string) OutboundMessage {
	return OutboundMessage{Type: CmdChatMessage, Payload: ChatMessagePayload{Message: text}}
}

// NewClearConversation builds a clear_conversation command.
func NewClearConversation() OutboundMessage {
	return OutboundMessage{Type: CmdClearConversation}
}

// NewTradesHistoryRequest builds a request_trades_history command for a wallet.
func NewTradesHistoryRequest(walletName string) OutboundMessage {
	return OutboundMessage{Type: CmdRequestTradesHistory, Payload: TradesHistoryRequest{WalletName: walletName}}
}
