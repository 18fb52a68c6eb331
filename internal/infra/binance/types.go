package binance

import "encoding/json"

// combinedStreamMessage is the envelope of the combined-stream endpoint:
// {"stream":"btcusdt@aggTrade","data":{...}}
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// aggTradeMessage mirrors the Binance futures aggTrade payload.
type aggTradeMessage struct {
	EventType    string `json:"e"` // "aggTrade"
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// depthMessage mirrors the Binance futures depthUpdate payload.
type depthMessage struct {
	EventType     string     `json:"e"` // "depthUpdate"
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"` // [["price","quantity"], ...]
	Asks          [][]string `json:"a"`
}

// tickerResponse mirrors /fapi/v1/ticker/24hr.
type tickerResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

// depthResponse mirrors /fapi/v1/depth.
type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	EventTime    int64      `json:"E"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// apiError mirrors the REST error body: {"code":-1121,"msg":"Invalid symbol."}
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
