package bybit

import "encoding/json"

// BybitResponse represents a generic response from Bybit's V5 REST API.
type BybitResponse struct {
	RetCode    int                    `json:"retCode"` // 0 means success
	RetMsg     string                 `json:"retMsg"`
	Result     json.RawMessage        `json:"result"` // decoded per endpoint
	RetExtInfo map[string]interface{} `json:"retExtInfo"`
	Time       int64                  `json:"time"` // server time, ms
}

type InstrumentListResponse struct {
	Category       string `json:"category"` // e.g., "linear", "spot"
	NextPageCursor string `json:"nextPageCursor"`
	List           []struct {
		Symbol    string `json:"symbol"`    // e.g., "BTCUSDT"
		BaseCoin  string `json:"baseCoin"`  // e.g., "BTC"
		QuoteCoin string `json:"quoteCoin"` // e.g., "USDT"
		Status    string `json:"status"`
	} `json:"list"`
}

// KlinesResponse lists rows newest first as
// [startTime, open, high, low, close, volume, turnover].
type KlinesResponse struct {
	Category       string     `json:"category"`
	Symbol         string     `json:"symbol"`
	NextPageCursor string     `json:"nextPageCursor"`
	List           [][]string `json:"list"`
}

// Kline is a single candlestick, either from a REST page or a kline.{interval}.{symbol} push.
type Kline struct {
	Start     int64  `json:"start"` // ms since epoch
	End       int64  `json:"end"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Turnover  string `json:"turnover"`
	Confirm   bool   `json:"confirm"` // true once the interval has closed
	Timestamp int64  `json:"timestamp"`
}

// KlineMessage is the websocket push envelope for kline topics.
type KlineMessage struct {
	Topic string  `json:"topic"` // e.g., "kline.1.BTCUSDT"
	Type  string  `json:"type"`  // "snapshot"
	Ts    int64   `json:"ts"`
	Data  []Kline `json:"data"`
}

// ControlMessage covers subscribe acknowledgements and pong replies.
type ControlMessage struct {
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
	ConnID  string `json:"conn_id"`
}
